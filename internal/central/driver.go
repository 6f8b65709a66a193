package central

import "context"

// Driver is the platform radio the Adapter runs on.
//
// Scan blocks until ctx is done, invoking handler for every advertising report.
// Connect blocks until the link is up, ctx is done or the radio reports a failure.
// Implementations may invoke handlers from any goroutine.
type Driver interface {
	State() RadioState
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Connect(ctx context.Context, id string) (Link, error)
}

// Link is a live connection to one peripheral.
//
// Characteristic values passed to Read, Write, Subscribe and Unsubscribe always come
// from a prior DiscoverServices result on the same Link.
type Link interface {
	DiscoverServices(ctx context.Context) ([]Service, error)
	Read(ctx context.Context, c Characteristic) ([]byte, error)
	Write(ctx context.Context, c Characteristic, data []byte, withResponse bool) error
	Subscribe(ctx context.Context, c Characteristic, handler func([]byte)) error
	Unsubscribe(ctx context.Context, c Characteristic) error

	// Disconnected is closed when the peripheral drops the link. May return nil when
	// the driver cannot report link loss.
	Disconnected() <-chan struct{}
	Close() error
}
