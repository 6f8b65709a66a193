package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter_Defaults(t *testing.T) {
	ja := NewJSONAsserter(t)

	assert.Empty(t, ja.Diff(`{"a": 1, "b": 2}`, `{"a": 1}`), "extra keys MUST be ignored by default")
	assert.Empty(t, ja.Diff(`{"a": 1, "t": "2024"}`, `{"a": 1, "t": "<<PRESENCE>>"}`))
	assert.NotEmpty(t, ja.Diff(`{"a": 1}`, `{"a": 1, "t": "<<PRESENCE>>"}`), "a placeholder MUST require the key")
	assert.NotEmpty(t, ja.Diff(`[{"a": 1}, {"a": 2}]`, `[{"a": 1}]`), "array lengths MUST match")
	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
}

func TestJSONAsserter_Options(t *testing.T) {
	strict := NewJSONAsserter(t).WithOptions(WithIgnoreExtraKeys(false))
	assert.NotEmpty(t, strict.Diff(`{"a": 1, "b": 2}`, `{"a": 1}`))

	literal := NewJSONAsserter(t).WithOptions(WithAllowPresencePlaceholder(false))
	assert.NotEmpty(t, literal.Diff(`{"t": "2024"}`, `{"t": "<<PRESENCE>>"}`),
		"without placeholders the marker MUST compare as a plain string")
	assert.Empty(t, literal.Diff(`{"t": "<<PRESENCE>>"}`, `{"t": "<<PRESENCE>>"}`))

	ignored := NewJSONAsserter(t).WithOptions(WithIgnoreExtraKeys(false), WithIgnoredFields("seq"))
	assert.Empty(t, ignored.Diff(`[{"seq": 1, "k": "x", "sub": {"seq": 9}}]`, `[{"seq": 5, "k": "x", "sub": {}}]`),
		"ignored fields MUST be dropped at every level")
}

func TestMustJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, MustJSON(map[string]int{"a": 1}))
	assert.Panics(t, func() { MustJSON(make(chan int)) })
}
