package central

import "time"

const (
	// DefaultConnectTimeout bounds a single connection attempt
	DefaultConnectTimeout = 10 * time.Second

	// DefaultOperationTimeout bounds discover, read, write, notify and disconnect
	DefaultOperationTimeout = 5 * time.Second

	// DefaultRetryBackoff is the pause between connection attempts
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultQueueSize is the number of GATT commands that may wait for the radio
	DefaultQueueSize = 32

	// NoRetryBackoff as Options.RetryBackoff retries a failed connect immediately
	NoRetryBackoff time.Duration = -1
)

// Options configures an Adapter. Zero fields take the defaults above;
// RetryBackoff set to NoRetryBackoff retries without pausing.
type Options struct {
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	ConnectRetries   int // extra attempts after a failed or timed out connect
	RetryBackoff     time.Duration
	QueueSize        int
}

// DefaultOptions returns the default adapter options
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout:   DefaultConnectTimeout,
		OperationTimeout: DefaultOperationTimeout,
		RetryBackoff:     DefaultRetryBackoff,
		QueueSize:        DefaultQueueSize,
	}
}

func (o *Options) withDefaults() Options {
	out := *DefaultOptions()
	if o == nil {
		return out
	}
	if o.ConnectTimeout > 0 {
		out.ConnectTimeout = o.ConnectTimeout
	}
	if o.OperationTimeout > 0 {
		out.OperationTimeout = o.OperationTimeout
	}
	if o.ConnectRetries > 0 {
		out.ConnectRetries = o.ConnectRetries
	}
	switch {
	case o.RetryBackoff > 0:
		out.RetryBackoff = o.RetryBackoff
	case o.RetryBackoff < 0:
		out.RetryBackoff = 0
	}
	if o.QueueSize > 0 {
		out.QueueSize = o.QueueSize
	}
	return out
}
