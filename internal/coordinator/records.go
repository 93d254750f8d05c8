package coordinator

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/plenny-labs/dlsp/internal/chanid"
	"github.com/plenny-labs/dlsp/internal/storage"
)

// records persists failure counters and in-flight capacity channel points.
type records struct {
	db storage.DB
}

func failureKey(idx uint64) []byte {
	return []byte(fmt.Sprintf("failedAttempt_%d", idx))
}

func capacityPointKey(idx uint64) []byte {
	return []byte(fmt.Sprintf("capacityChannelPoint_%d", idx))
}

// Failures returns the failure count for idx, zero when none is recorded.
func (r *records) Failures(idx uint64) (int, error) {
	v, err := r.db.Get(failureKey(idx))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load failure count %d: %w", idx, err)
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("decode failure count %d: %w", idx, err)
	}
	return n, nil
}

// IncFailures increments and returns the failure count for idx.
func (r *records) IncFailures(idx uint64) (int, error) {
	n, err := r.Failures(idx)
	if err != nil {
		// An unreadable counter restarts from zero.
		n = 0
	}
	n++
	if err := r.db.Put(failureKey(idx), []byte(strconv.Itoa(n))); err != nil {
		return n, fmt.Errorf("save failure count %d: %w", idx, err)
	}
	return n, nil
}

// CapacityPoint returns the funding reference saved for a capacity request.
func (r *records) CapacityPoint(idx uint64) (chanid.FundingRef, bool, error) {
	v, err := r.db.Get(capacityPointKey(idx))
	if errors.Is(err, storage.ErrNotFound) {
		return chanid.FundingRef{}, false, nil
	}
	if err != nil {
		return chanid.FundingRef{}, false, fmt.Errorf("load channel point %d: %w", idx, err)
	}
	ref, err := chanid.ParseFundingRef(string(v))
	if err != nil {
		return chanid.FundingRef{}, false, err
	}
	return ref, true, nil
}

// SaveCapacityPoint records the funding reference for a capacity request.
func (r *records) SaveCapacityPoint(idx uint64, ref chanid.FundingRef) error {
	if err := r.db.Put(capacityPointKey(idx), []byte(ref.String())); err != nil {
		return fmt.Errorf("save channel point %d: %w", idx, err)
	}
	return nil
}

// DeleteCapacityPoint forgets the funding reference for a capacity request.
func (r *records) DeleteCapacityPoint(idx uint64) error {
	if err := r.db.Delete(capacityPointKey(idx)); err != nil {
		return fmt.Errorf("delete channel point %d: %w", idx, err)
	}
	return nil
}
