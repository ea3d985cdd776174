package domain

// ItemStatus is the lifecycle state of a queue item. Transitions happen only
// through the dispatcher (or explicit operator intervention for Cancelled).
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemSucceeded  ItemStatus = "succeeded"
	ItemRetrying   ItemStatus = "retrying"
	ItemFailed     ItemStatus = "failed"
	ItemCancelled  ItemStatus = "cancelled"
)

// IsValid reports whether the status is a known queue item state.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemPending, ItemInProgress, ItemSucceeded, ItemRetrying, ItemFailed, ItemCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemSucceeded, ItemFailed, ItemCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	switch s {
	case ItemPending:
		return next == ItemInProgress || next == ItemCancelled
	case ItemRetrying:
		return next == ItemInProgress || next == ItemCancelled
	case ItemInProgress:
		// in_progress -> pending is the reclaim of a claim whose worker
		// died; re-delivery is safe because the correlation id is stable.
		return next == ItemSucceeded || next == ItemRetrying || next == ItemFailed || next == ItemPending
	default:
		return false
	}
}

func (s ItemStatus) String() string {
	return string(s)
}

// SyncStatus is the entity-scoped synchronization state. It mirrors the
// outcome of the last queue item that touched the entity, not individual
// attempts.
type SyncStatus string

const (
	SyncPending     SyncStatus = "pending"
	SyncSynced      SyncStatus = "synced"
	SyncRetrying    SyncStatus = "retrying"
	SyncFailed      SyncStatus = "failed"
	SyncSoftDeleted SyncStatus = "soft_deleted"
)

// IsValid reports whether the status is a known entity sync state.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncRetrying, SyncFailed, SyncSoftDeleted:
		return true
	default:
		return false
	}
}

func (s SyncStatus) String() string {
	return string(s)
}

// Operation is the kind of entity mutation a queue item propagates.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsValid reports whether the operation kind is known.
func (o Operation) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}
