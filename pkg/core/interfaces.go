package core

import "github.com/hashicorp/go-multierror"

// Storage persists capture records. WriteData is called once per accepted
// record from the capture path and must not block on unbounded I/O.
type Storage interface {
	WriteData(record CaptureRecord, filename string) bool
}

// TimeSource supplies ISO-8601 timestamps. An empty string means the
// source is currently unavailable.
type TimeSource interface {
	CurrentDateTime() string
}

// RecordHandler receives every accepted record, synchronously, on the
// capture goroutine.
type RecordHandler interface {
	HandleRecord(record CaptureRecord) error
}

// HandlerFunc adapts an ordinary function to a RecordHandler.
type HandlerFunc func(record CaptureRecord) error

// HandleRecord calls f(record).
func (f HandlerFunc) HandleRecord(record CaptureRecord) error {
	return f(record)
}

// Handlers calls every handler in order. One failing handler does not
// stop the others; their errors are combined.
type Handlers []RecordHandler

// HandleRecord implements RecordHandler.
func (hs Handlers) HandleRecord(record CaptureRecord) error {
	var result *multierror.Error
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h.HandleRecord(record); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// CaptureMetrics contains counters for a capture session.
type CaptureMetrics struct {
	// EventsReceived is the number of driver events delivered to the session.
	EventsReceived uint64

	// EventsIgnored is the number of events delivered while not scanning.
	EventsIgnored uint64

	// Malformed is the number of events rejected by the protocol adapter.
	Malformed uint64

	// Filtered is the number of parsed events rejected by the MAC filter.
	Filtered uint64

	// Accepted is the number of records appended to the result store.
	Accepted uint64

	// StorageFailures is the number of records the storage refused.
	StorageFailures uint64

	// CallbackFailures is the number of handler errors or panics.
	CallbackFailures uint64

	// Panics is the number of panics recovered on the capture path.
	Panics uint64
}
