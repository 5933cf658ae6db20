// Package job carries market sync work between the processes that schedule
// it and the workers that run it.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/market-sync/internal/types"
)

// Job is one unit of queued work for a single region
type Job struct {
	ID         string        `json:"id"`
	Kind       types.JobKind `json:"kind"`
	RegionID   int32         `json:"region_id"`
	TypeID     *int32        `json:"type_id,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// NewOrdersJob builds an order sync job. typeID narrows it to one item type.
func NewOrdersJob(regionID int32, typeID *int32) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Kind:       types.JobOrders,
		RegionID:   regionID,
		TypeID:     typeID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// NewHistoryJob builds a history update job
func NewHistoryJob(regionID int32) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Kind:       types.JobHistory,
		RegionID:   regionID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Validate checks a job decoded from the queue
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job has no id")
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("job %s has unknown kind %q", j.ID, j.Kind)
	}
	if j.RegionID == 0 {
		return fmt.Errorf("job %s has no region", j.ID)
	}
	return nil
}
