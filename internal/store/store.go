package store

import (
	"context"
	"time"
)

// SweepRecord is the persisted outcome of one expiry sweep.
type SweepRecord struct {
	ID             string // UUID
	Trigger        SweepTrigger
	StartedAt      time.Time
	Duration       time.Duration
	Pairs          int
	Notified       int
	NotFound       int
	DeliveryFailed int
	RaceSkipped    int
	Fresh          int
	Cleared        int
	Interrupted    bool
}

// SweepTrigger records what started a sweep.
type SweepTrigger string

const (
	SweepTriggerSchedule SweepTrigger = "schedule"
	SweepTriggerManual   SweepTrigger = "manual"
)

// SweepStore keeps a history of expiry sweeps for operators.
type SweepStore interface {
	// RecordSweep persists a sweep outcome.
	RecordSweep(ctx context.Context, rec *SweepRecord) error

	// ListSweeps returns the most recent sweeps, newest first.
	ListSweeps(ctx context.Context, limit int) ([]*SweepRecord, error)

	// PruneSweeps deletes records started before the cutoff and returns how many were removed.
	PruneSweeps(ctx context.Context, before time.Time) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	SweepStore

	// Close closes the underlying database connection.
	Close() error
}
