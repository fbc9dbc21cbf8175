package slotipc

import "errors"

// Sentinel errors returned by slotipc operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, slotipc.ErrNoSlot) {
//	    // back off and retry the submit
//	}
var (
	// ErrTooLarge indicates a payload exceeds the per-slot capacity
	// (slot size minus the 48-byte header).
	//
	// Recovery: shrink the payload, or recreate the region with a larger
	// [Options.SlotSize]. The target slot is left unchanged on submit; on
	// response delivery the slot is flipped to [StatusError] so the
	// producer is not left waiting.
	ErrTooLarge = errors.New("slotipc: payload too large")

	// ErrInvalidPayload indicates slot bytes could not be decoded: a zero
	// or out-of-range data_length, or payload bytes that are not valid
	// UTF-8 even after NUL stripping.
	//
	// Recovery: the slot holding the payload should be flipped to
	// [StatusError]; [Scheduler.ClaimRequest] does this automatically.
	ErrInvalidPayload = errors.New("slotipc: invalid payload")

	// ErrNoSlot indicates a scan found no slot in the wanted status:
	// no EMPTY slot on submit, or no REQUEST slot on claim.
	//
	// Recovery: retry after a short delay. For submitters this is
	// backpressure; for the detector it is the idle case.
	ErrNoSlot = errors.New("slotipc: no slot available")

	// ErrWrongState indicates a slot was not in the status an operation
	// requires (for example delivering a response to a slot that is no
	// longer PROCESSING).
	//
	// Recovery: usually none; the slot was concurrently reset or errored.
	ErrWrongState = errors.New("slotipc: slot in wrong state")

	// ErrBusy indicates the region mutex could not be acquired within the
	// configured timeout.
	//
	// Recovery: retry after a short delay with backoff.
	ErrBusy = errors.New("slotipc: region busy")

	// ErrNotFound indicates the shared region does not exist.
	//
	// Recovery: start the broker (which creates the region), then attach.
	ErrNotFound = errors.New("slotipc: region not found")

	// ErrIncompatible indicates the backing object exists but is smaller
	// than the configured geometry (slot_count * slot_size).
	//
	// Recovery: remove the region and recreate it with matching options.
	ErrIncompatible = errors.New("slotipc: incompatible region")

	// ErrClosed indicates the [Region] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("slotipc: closed")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: empty region name, non-positive slot count, slot size
	// not larger than the header, slot index out of range.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("slotipc: invalid input")
)
