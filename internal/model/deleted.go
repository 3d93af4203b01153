package model

import "time"

// Deletion reasons.
const (
	ReasonUser            = "user"
	ReasonRemovedUpstream = "removed_upstream"
)

// DeletedTransaction is the snapshot kept when a transaction is soft deleted.
type DeletedTransaction struct {
	DeletedAt   time.Time   `json:"deleted_at"`
	Reason      string      `json:"reason"`
	Transaction Transaction `json:"transaction"`
}

// LifecycleState tags which variant a Lifecycle holds.
type LifecycleState int

// Lifecycle variants.
const (
	LifecyclePurged LifecycleState = iota
	LifecycleActive
	LifecycleDeleted
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleActive:
		return "active"
	case LifecycleDeleted:
		return "deleted"
	default:
		return "purged"
	}
}

// Lifecycle is the tagged view of a transaction id: active, soft deleted, or gone.
// Only the field matching State is set.
type Lifecycle struct {
	Active  *Transaction
	Deleted *DeletedTransaction
	State   LifecycleState
}

// ActiveLifecycle wraps a live transaction.
func ActiveLifecycle(t Transaction) Lifecycle {
	return Lifecycle{State: LifecycleActive, Active: &t}
}

// DeletedLifecycle wraps a soft-delete snapshot.
func DeletedLifecycle(d DeletedTransaction) Lifecycle {
	return Lifecycle{State: LifecycleDeleted, Deleted: &d}
}

// PurgedLifecycle is the terminal state; nothing remains.
func PurgedLifecycle() Lifecycle {
	return Lifecycle{State: LifecyclePurged}
}
