package slotipc

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Scheduler implements the slot state machine on top of a [Region].
//
// Every composite operation (scan, check, mutate) runs under the region
// mutex, so concurrent producers and a concurrent broker can never claim
// the same slot or observe a half-written one. Scans always walk slots
// in index order, lowest first.
type Scheduler struct {
	region *Region
	now    func() time.Time
}

// NewScheduler wraps a region. The region stays owned by the caller.
func NewScheduler(region *Region) *Scheduler {
	return &Scheduler{region: region, now: time.Now}
}

// Region returns the underlying region.
func (s *Scheduler) Region() *Region { return s.region }

// Claim is a request handed to the broker: the slot index it occupies,
// the producer-assigned request id, and a copy of the payload bytes.
type Claim struct {
	Slot      int
	RequestID string
	Payload   []byte
}

// SubmitRequest finds the lowest-index EMPTY slot, writes the payload,
// and flips the slot to REQUEST. On any write failure the slot is left
// EMPTY, so a failed submit never leaks a slot.
//
// Possible errors:
//   - [ErrNoSlot]: every slot is occupied; retry later
//   - [ErrTooLarge]: payload exceeds the per-slot capacity
//   - [ErrBusy], [ErrClosed]
func (s *Scheduler) SubmitRequest(requestID string, payload []byte) (int, error) {
	// Oversized payloads fail before taking the lock; no slot scan can
	// make them fit.
	if len(payload) > s.region.PayloadCapacity() {
		return 0, fmt.Errorf("payload %d bytes exceeds slot capacity %d: %w",
			len(payload), s.region.PayloadCapacity(), ErrTooLarge)
	}

	slotIdx := -1

	err := s.region.locked(func() error {
		for i := 0; i < s.region.SlotCount(); i++ {
			slot := s.region.slot(i)
			if slotStatus(slot) != StatusEmpty {
				continue
			}

			if err := encodePayload(slot, requestID, payload, s.now()); err != nil {
				return err
			}

			setSlotStatus(slot, StatusRequest)
			slotIdx = i

			return nil
		}

		return fmt.Errorf("no EMPTY slot among %d: %w", s.region.SlotCount(), ErrNoSlot)
	})
	if err != nil {
		return 0, err
	}

	return slotIdx, nil
}

// ClaimRequest finds the lowest-index REQUEST slot, decodes it, and
// flips it to PROCESSING. A slot whose payload cannot be decoded is
// flipped to ERROR and the scan continues with the next slot, so one
// corrupt producer cannot wedge the broker.
//
// Possible errors:
//   - [ErrNoSlot]: no pending request; the idle case
//   - [ErrBusy], [ErrClosed]
func (s *Scheduler) ClaimRequest() (Claim, error) {
	var claim Claim

	err := s.region.locked(func() error {
		for i := 0; i < s.region.SlotCount(); i++ {
			slot := s.region.slot(i)
			if slotStatus(slot) != StatusRequest {
				continue
			}

			requestID, _, payload, err := decodePayload(slot)
			if err != nil {
				setSlotStatus(slot, StatusError)

				log.WithFields(log.Fields{
					"slot":  i,
					"error": err,
				}).Warn("request slot undecodable, marked ERROR")

				continue
			}

			setSlotStatus(slot, StatusProcessing)
			claim = Claim{Slot: i, RequestID: requestID, Payload: payload}

			return nil
		}

		return fmt.Errorf("no REQUEST slot among %d: %w", s.region.SlotCount(), ErrNoSlot)
	})
	if err != nil {
		return Claim{}, err
	}

	return claim, nil
}

// DeliverResponse writes a response payload into a slot the broker
// previously claimed and flips it to RESPONSE. The slot must still be
// PROCESSING. An oversized response flips the slot to ERROR instead, so
// the producer polling the slot is not left waiting forever.
//
// Possible errors:
//   - [ErrWrongState]: the slot is not PROCESSING
//   - [ErrTooLarge]: response exceeds capacity (slot is now ERROR)
//   - [ErrInvalidInput]: slot index out of range
//   - [ErrBusy], [ErrClosed]
func (s *Scheduler) DeliverResponse(slotIdx int, payload []byte) error {
	if slotIdx < 0 || slotIdx >= s.region.SlotCount() {
		return fmt.Errorf("slot index %d out of range [0,%d): %w", slotIdx, s.region.SlotCount(), ErrInvalidInput)
	}

	return s.region.locked(func() error {
		slot := s.region.slot(slotIdx)

		if got := slotStatus(slot); got != StatusProcessing {
			return fmt.Errorf("slot %d is %s, want PROCESSING: %w", slotIdx, got, ErrWrongState)
		}

		if err := encodePayload(slot, "", payload, s.now()); err != nil {
			setSlotStatus(slot, StatusError)

			return err
		}

		setSlotStatus(slot, StatusResponse)

		return nil
	})
}

// ConsumeResponse reads the response payload from a RESPONSE slot and
// returns the slot to EMPTY. Only the header is cleared; data_length is
// authoritative, stale payload bytes are never read.
//
// Possible errors:
//   - [ErrWrongState]: the slot is not RESPONSE (including a second
//     consume of the same slot)
//   - [ErrInvalidPayload]: the response bytes are undecodable; the slot
//     is flipped to ERROR
//   - [ErrInvalidInput]: slot index out of range
//   - [ErrBusy], [ErrClosed]
func (s *Scheduler) ConsumeResponse(slotIdx int) ([]byte, error) {
	if slotIdx < 0 || slotIdx >= s.region.SlotCount() {
		return nil, fmt.Errorf("slot index %d out of range [0,%d): %w", slotIdx, s.region.SlotCount(), ErrInvalidInput)
	}

	var payload []byte

	err := s.region.locked(func() error {
		slot := s.region.slot(slotIdx)

		if got := slotStatus(slot); got != StatusResponse {
			return fmt.Errorf("slot %d is %s, want RESPONSE: %w", slotIdx, got, ErrWrongState)
		}

		_, _, decoded, err := decodePayload(slot)
		if err != nil {
			setSlotStatus(slot, StatusError)

			return err
		}

		clearSlot(slot)
		payload = decoded

		return nil
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// WaitResponse polls a slot until it reaches RESPONSE, then consumes it.
// A slot that reaches ERROR while waiting returns [ErrWrongState]
// immediately. This is the client-side companion to SubmitRequest.
//
// Possible errors:
//   - [ErrWrongState]: the slot errored, or was recycled under us
//   - context or timeout expiry wrapped around [ErrNoSlot]
func (s *Scheduler) WaitResponse(slotIdx int, interval, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	for {
		status, err := s.region.Status(slotIdx)
		if err != nil {
			return nil, err
		}

		switch status {
		case StatusResponse:
			return s.ConsumeResponse(slotIdx)
		case StatusError:
			return nil, fmt.Errorf("slot %d errored while waiting: %w", slotIdx, ErrWrongState)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no response in slot %d after %s: %w", slotIdx, timeout, ErrNoSlot)
		}

		time.Sleep(interval)
	}
}

// MarkError flips a slot to ERROR unconditionally. Used by the broker
// when a response cannot be produced or delivered.
func (s *Scheduler) MarkError(slotIdx int) error {
	if slotIdx < 0 || slotIdx >= s.region.SlotCount() {
		return fmt.Errorf("slot index %d out of range [0,%d): %w", slotIdx, s.region.SlotCount(), ErrInvalidInput)
	}

	return s.region.locked(func() error {
		setSlotStatus(s.region.slot(slotIdx), StatusError)

		return nil
	})
}
