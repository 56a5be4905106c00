// Package radio defines the boundary between capture sessions and the
// platform radio stack.
package radio

import "errors"

// ReceiveFunc is invoked by a driver, on its own goroutine, for every frame
// or advertisement it receives. ctx is the opaque value passed to Register.
// Implementations must not panic or block for long.
type ReceiveFunc[E any] func(ctx any, ev E)

// Driver is a radio stack that delivers events of type E.
type Driver[E any] interface {
	// Open brings the radio stack up and acquires its handle.
	Open() error

	// Close releases the handle. It is safe to call on a closed driver.
	Close() error

	// Register installs fn as the receive callback. ctx is handed back to
	// fn on every invocation.
	Register(fn ReceiveFunc[E], ctx any) error

	// Unregister removes the receive callback.
	Unregister()

	// Enable turns the receive path on.
	Enable() error

	// Disable turns the receive path off.
	Disable() error
}

// ScanParamSetter is implemented by drivers with controller-level scan timing.
type ScanParamSetter interface {
	SetScanParams(interval, window uint16) error
}

// Errors returned by drivers.
var (
	ErrNotOpen          = errors.New("radio not open")
	ErrAlreadyOpen      = errors.New("radio already open")
	ErrNoReceiver       = errors.New("no receive callback registered")
	ErrQueueFull        = errors.New("receive queue full")
	ErrInvalidScanParam = errors.New("scan window greater than scan interval")
)
