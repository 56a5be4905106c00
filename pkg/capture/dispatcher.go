package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/irctrakz/wildprobe/pkg/core"
)

// Dispatcher holds at most one record handler and calls it synchronously.
type Dispatcher struct {
	handler atomic.Pointer[handlerBox]
}

// handlerBox lets a nil handler be stored atomically.
type handlerBox struct {
	h core.RecordHandler
}

// Set replaces the handler. A nil handler clears it.
func (d *Dispatcher) Set(h core.RecordHandler) {
	if h == nil {
		d.handler.Store(nil)
		return
	}
	d.handler.Store(&handlerBox{h: h})
}

// HasHandler reports whether a handler is registered.
func (d *Dispatcher) HasHandler() bool {
	return d.handler.Load() != nil
}

// Notify calls the handler with rec. Handler errors and panics are
// returned as an error and never propagate further.
func (d *Dispatcher) Notify(rec core.CaptureRecord) (err error) {
	box := d.handler.Load()
	if box == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("record handler panic: %v", r)
		}
	}()
	return box.h.HandleRecord(rec)
}
