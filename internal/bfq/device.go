package bfq

import "context"

// Device is the host block layer's request queue, the external
// collaborator the core hands dispatched requests to. Callers implement
// this; the engine never talks to a real device directly.
type Device interface {
	// Submit hands rq to the device. It must not block past enqueuing —
	// completion is reported asynchronously via Engine.Complete.
	Submit(ctx context.Context, rq *Request) error
}

// FakeDevice is an in-memory Device used by tests: it records every
// submitted request and lets the test drive completion timing
// explicitly rather than simulating real hardware latency.
type FakeDevice struct {
	Submitted []*Request
	failNext  bool
}

func (d *FakeDevice) Submit(_ context.Context, rq *Request) error {
	if d.failNext {
		d.failNext = false
		return errSimulatedFailure
	}
	d.Submitted = append(d.Submitted, rq)
	return nil
}

// FailNext makes the next Submit call return an error, to exercise the
// dispatch controller's unrecoverable-submit path in tests.
func (d *FakeDevice) FailNext() { d.failNext = true }
