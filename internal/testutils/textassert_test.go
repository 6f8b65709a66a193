package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter_Defaults(t *testing.T) {
	ta := NewTextAsserter(t)

	assert.Empty(t, ta.Diff("\n  a  \nb\t\n\n", "  a\nb"), "outer space and trailing whitespace MUST be ignored by default")
	assert.NotEmpty(t, ta.Diff("a\n\nb", "a\nb"), "empty lines MUST count by default")
	assert.NotEmpty(t, ta.Diff("a", "b"))
}

func TestTextAsserter_Options(t *testing.T) {
	tests := []struct {
		name     string
		opt      TextOption
		actual   string
		expected string
		equal    bool
	}{
		{"trailing whitespace kept", WithIgnoreTrailingWhitespace(false), "a  \nb", "a\nb", false},
		{"trailing whitespace ignored", WithIgnoreTrailingWhitespace(true), "a  \nb", "a\nb", true},
		{"empty lines ignored", WithIgnoreEmptyLines(true), "a\n\n\nb", "a\nb", true},
		{"no trim", WithTrimSpace(false), "\na\nb", "a\nb", false},
		{"trim", WithTrimSpace(true), "\n\na\nb\n", "a\nb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opt).Diff(tt.actual, tt.expected)
			if tt.equal {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestTextAsserter_Colors(t *testing.T) {
	plain := NewTextAsserter(t).WithOptions(WithEnableColors(false)).Diff("a b", "a c")
	assert.Contains(t, plain, "-a c")
	assert.Contains(t, plain, "+a b")
	assert.NotContains(t, plain, "\x1b[", "a plain diff MUST NOT carry escape codes")

	colored := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "a c")
	assert.Contains(t, colored, "\x1b[")
	assert.Contains(t, colored, "+a·b", "changed lines MUST show spaces")
}
