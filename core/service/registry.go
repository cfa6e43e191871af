// Package service provides business logic for Firecracker VM management.
package service

import (
	"maps"
	"sync"
	"time"

	"nfcunha/fcvmd/core/models"
)

// Registry is the authoritative in-memory mapping of VM identifier to
// lifecycle record, together with the lifecycle counters.
//
// Thread Safety: Safe for concurrent use. One mutex guards records and
// counters, so a reader never sees a record without its counter update or
// vice versa. The lock is only held for in-memory work.
type Registry struct {
	mu              sync.RWMutex
	records         map[string]models.VMRecord
	totalCreated    int
	totalDeleted    int
	failedCreations int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]models.VMRecord),
	}
}

// RecordCreated stores a running record for vmID, replacing any previous
// record, and counts the creation.
func (r *Registry) RecordCreated(vmID string, spec models.VMSpec, now time.Time) models.VMRecord {
	createdAt := now
	record := models.VMRecord{
		Status:     models.VMStatusRunning,
		CreatedAt:  &createdAt,
		UpdatedAt:  now,
		Spec:       spec,
		Networking: models.Networking,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[vmID] = record
	r.totalCreated++
	return record
}

// RecordFailed stores a failed record for vmID, replacing any previous
// record, and counts the failure.
func (r *Registry) RecordFailed(vmID string, spec models.VMSpec, now time.Time) models.VMRecord {
	record := models.VMRecord{
		Status:     models.VMStatusFailed,
		UpdatedAt:  now,
		Spec:       spec,
		Networking: models.Networking,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[vmID] = record
	r.failedCreations++
	return record
}

// MarkDeleted transitions an existing record to deleted and counts the
// deletion. It returns false, changing nothing, if vmID is unknown.
// deleted_at is only stamped the first time.
func (r *Registry) MarkDeleted(vmID string, now time.Time) (models.VMRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[vmID]
	if !ok {
		return models.VMRecord{}, false
	}

	record.Status = models.VMStatusDeleted
	record.UpdatedAt = now
	if record.DeletedAt == nil {
		deletedAt := now
		record.DeletedAt = &deletedAt
	}
	r.records[vmID] = record
	r.totalDeleted++
	return record, true
}

// Get returns the record for vmID.
func (r *Registry) Get(vmID string) (models.VMRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[vmID]
	return record, ok
}

// Snapshot returns a copy of every record.
func (r *Registry) Snapshot() models.VMRecordSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.records)
}

// Counters returns the lifecycle counters. Current is recomputed from the
// records on every call.
func (r *Registry) Counters() models.Counters {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.countersLocked()
}

// View returns the records and counters as one consistent snapshot.
func (r *Registry) View() (models.VMRecordSet, models.Counters) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.records), r.countersLocked()
}

// Clear removes every record and resets the counters.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]models.VMRecord)
	r.totalCreated = 0
	r.totalDeleted = 0
	r.failedCreations = 0
}

func (r *Registry) countersLocked() models.Counters {
	current := 0
	for _, record := range r.records {
		if record.Status != models.VMStatusDeleted {
			current++
		}
	}

	return models.Counters{
		TotalCreated:    r.totalCreated,
		TotalDeleted:    r.totalDeleted,
		FailedCreations: r.failedCreations,
		Current:         current,
	}
}
