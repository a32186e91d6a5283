package collab

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation is the immutable unit of change to a model object.
// Operations are never mutated after creation - merge and resolution routines
// construct new operations and record their sources in the "merged_from"
// metadata key. Identity is by ID only, never by content.
type Operation struct {
	ID         string                 `json:"id"`          // UUID - unique identifier for this operation
	Kind       OperationKind          `json:"kind"`        // What the operation does (move, rotate, delete, ...)
	ObjectID   string                 `json:"object_id"`   // Model object this operation targets
	UserID     string                 `json:"user_id"`     // User who authored the operation
	Timestamp  time.Time              `json:"timestamp"`   // Client-side creation time
	Version    int64                  `json:"version"`     // Document version assigned on acceptance (0 until applied)
	Parameters map[string]interface{} `json:"parameters"`  // Kind-specific payload (target position, changed properties, ...)
	Metadata   map[string]interface{} `json:"metadata"`    // Provenance and resolution bookkeeping
}

// OperationKind identifies what an operation does to its target object.
type OperationKind string

const (
	// OpMove translates an object. Parameters: "position" (target point) or
	// "delta" (relative offset), optionally "from" (previous position).
	OpMove OperationKind = "move"

	// OpRotate rotates an object. Parameters: "rotation" (Euler angles in
	// degrees, XYZ order).
	OpRotate OperationKind = "rotate"

	// OpScale scales an object. Parameters: "scale" (per-axis factors).
	OpScale OperationKind = "scale"

	// OpModify changes one or more object properties. Parameters hold the
	// changed property key/value pairs.
	OpModify OperationKind = "modify"

	// OpDelete removes an object. Carries no parameters.
	OpDelete OperationKind = "delete"

	// OpPropertyChange changes display/annotation properties. Detection treats
	// it like OpModify.
	OpPropertyChange OperationKind = "property_change"

	// OpConstraintAdd adds a geometric constraint. Parameters:
	// "constraint_type" and "references" (object IDs the constraint spans).
	OpConstraintAdd OperationKind = "constraint_add"

	// OpConstraintRemove removes a geometric constraint. Same parameters as
	// OpConstraintAdd.
	OpConstraintRemove OperationKind = "constraint_remove"
)

// MetaMergedFrom is the metadata key listing the source operation IDs of a
// merged operation.
const MetaMergedFrom = "merged_from"

// Validate checks if the Operation has valid field values.
func (o *Operation) Validate() error {
	if !isValidUUID(o.ID) {
		return fmt.Errorf("invalid operation ID: not a valid UUID")
	}

	if err := o.Kind.Validate(); err != nil {
		return fmt.Errorf("invalid kind: %w", err)
	}

	if o.ObjectID == "" {
		return fmt.Errorf("object ID cannot be empty")
	}

	if o.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	return nil
}

// Validate checks if the OperationKind is a valid enum value.
func (k OperationKind) Validate() error {
	switch k {
	case OpMove, OpRotate, OpScale, OpModify, OpDelete,
		OpPropertyChange, OpConstraintAdd, OpConstraintRemove:
		return nil
	default:
		return fmt.Errorf("unknown operation kind: %q", k)
	}
}

// IsPositional returns true for kinds that change an object's placement
// (move, rotate, scale). Any pair of positional operations on the same object
// is classified as a position conflict.
func (k OperationKind) IsPositional() bool {
	return k == OpMove || k == OpRotate || k == OpScale
}

// IsConstraint returns true for constraint add/remove kinds.
func (k OperationKind) IsConstraint() bool {
	return k == OpConstraintAdd || k == OpConstraintRemove
}

// IsNoOp returns true when applying the operation would not change the model:
// the parameter map is empty, or the parameters describe an identical end
// state (a move to the current position, a zero-delta move). No-op operations
// are filtered before queueing and never participate in conflict detection.
func (o *Operation) IsNoOp() bool {
	// Deletions carry no parameters but always have an effect.
	if o.Kind == OpDelete {
		return false
	}

	if len(o.Parameters) == 0 {
		return true
	}

	if o.Kind == OpMove {
		if delta, ok := PointParam(o.Parameters, "delta"); ok && delta.IsZero() {
			return true
		}
		target, hasTarget := PointParam(o.Parameters, "position")
		from, hasFrom := PointParam(o.Parameters, "from")
		if hasTarget && hasFrom && target.Equal(from) {
			return true
		}
	}

	return false
}

// Clone returns a deep copy of the operation with independently owned
// parameter and metadata maps. The copy keeps the same ID: identity follows
// the operation through transformation.
func (o *Operation) Clone() *Operation {
	dup := *o
	dup.Parameters = cloneMap(o.Parameters)
	dup.Metadata = cloneMap(o.Metadata)
	return &dup
}

// MergedFrom returns the source operation IDs recorded by a merge routine,
// or nil if the operation is not the product of a merge.
func (o *Operation) MergedFrom() []string {
	raw, ok := o.Metadata[MetaMergedFrom]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}

// References returns the object IDs a constraint operation spans, always
// including the operation's own target object.
func (o *Operation) References() []string {
	refs := []string{o.ObjectID}
	raw, ok := o.Parameters["references"]
	if !ok {
		return refs
	}
	switch v := raw.(type) {
	case []string:
		refs = append(refs, v...)
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				refs = append(refs, s)
			}
		}
	}
	return refs
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	dup := make(map[string]interface{}, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}

// ConflictType classifies a detected incompatibility between two concurrent
// operations.
type ConflictType string

const (
	// ConflictProperty - two modifications touch overlapping property keys
	ConflictProperty ConflictType = "property"

	// ConflictPosition - two positional operations target the same object
	ConflictPosition ConflictType = "position"

	// ConflictDeletion - a delete paired with any other operation on the object
	ConflictDeletion ConflictType = "deletion"

	// ConflictConstraint - constraint operations with intersecting references
	ConflictConstraint ConflictType = "constraint"

	// ConflictHierarchy - operations that disagree about assembly structure
	ConflictHierarchy ConflictType = "hierarchy"

	// ConflictSemantic - operations that are individually valid but jointly
	// violate design intent
	ConflictSemantic ConflictType = "semantic"
)

// Validate checks if the ConflictType is a valid enum value.
func (t ConflictType) Validate() error {
	switch t {
	case ConflictProperty, ConflictPosition, ConflictDeletion,
		ConflictConstraint, ConflictHierarchy, ConflictSemantic:
		return nil
	default:
		return fmt.Errorf("unknown conflict type: %q", t)
	}
}

// Severity ranks how disruptive a conflict is if resolved badly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Validate checks if the Severity is a valid enum value.
func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return nil
	default:
		return fmt.Errorf("unknown severity: %q", s)
	}
}

// Conflict records a detected incompatibility between two concurrent
// operations. Conflicts are consumed by a successful resolution, or parked in
// the manual-resolution queue when automatic resolution fails.
type Conflict struct {
	ID              string       `json:"id"`               // UUID
	Type            ConflictType `json:"type"`             // Classification (property, position, deletion, ...)
	Op1             *Operation   `json:"op1"`              // First conflicting operation
	Op2             *Operation   `json:"op2"`              // Second conflicting operation
	DetectedAt      time.Time    `json:"detected_at"`      // When the detector flagged the pair
	AffectedObjects []string     `json:"affected_objects"` // Objects implicated (union of references for constraints)
	Severity        Severity     `json:"severity"`         // low / medium / high
}

// Validate checks if the Conflict has valid field values, including the
// presence of both operand operations.
func (c *Conflict) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid conflict ID: not a valid UUID")
	}

	if err := c.Type.Validate(); err != nil {
		return fmt.Errorf("invalid type: %w", err)
	}

	if c.Op1 == nil || c.Op2 == nil {
		return fmt.Errorf("conflict must reference both operations")
	}

	if err := c.Severity.Validate(); err != nil {
		return fmt.Errorf("invalid severity: %w", err)
	}

	return nil
}

// Strategy selects how a conflict is resolved. Strategies are interchangeable
// per call; strategy-specific inputs travel in a typed resolution context.
type Strategy string

const (
	// StrategyTimestamp - the operation with the strictly later timestamp wins.
	// Exact ties are broken deterministically by the greater operation ID.
	StrategyTimestamp Strategy = "timestamp"

	// StrategyPriority - the operation from the higher-priority user wins;
	// equal priority falls back to timestamp.
	StrategyPriority Strategy = "priority"

	// StrategyMerge - type-specific combination of both operations;
	// unmergeable pairs fall back to manual.
	StrategyMerge Strategy = "merge"

	// StrategyManual - the conflict is queued for a human decision.
	StrategyManual Strategy = "manual"

	// StrategyVoting - majority of collected votes wins; tie falls back to
	// timestamp, no votes falls back to manual.
	StrategyVoting Strategy = "voting"

	// StrategyExpert - an explicit expert decision resolves immediately;
	// absent decision falls back to manual.
	StrategyExpert Strategy = "expert"
)

// Validate checks if the Strategy is a valid enum value.
func (s Strategy) Validate() error {
	switch s {
	case StrategyTimestamp, StrategyPriority, StrategyMerge,
		StrategyManual, StrategyVoting, StrategyExpert:
		return nil
	default:
		return fmt.Errorf("unknown strategy: %q", s)
	}
}

// ResolutionOutcome is the terminal state of a resolution attempt.
type ResolutionOutcome string

const (
	// ResolutionSuccess - the conflict was resolved to a single operation
	ResolutionSuccess ResolutionOutcome = "success"

	// ResolutionPending - the conflict awaits a manual decision
	ResolutionPending ResolutionOutcome = "pending"

	// ResolutionFailed - the strategy raised an error; details in metadata
	ResolutionFailed ResolutionOutcome = "failed"
)

// Validate checks if the ResolutionOutcome is a valid enum value.
func (o ResolutionOutcome) Validate() error {
	switch o {
	case ResolutionSuccess, ResolutionPending, ResolutionFailed:
		return nil
	default:
		return fmt.Errorf("unknown resolution outcome: %q", o)
	}
}

// Resolution records the outcome of a resolution attempt. The resolver keeps
// an append-only history of resolutions for auditing.
type Resolution struct {
	ID                string                 `json:"id"`                 // UUID
	ConflictID        string                 `json:"conflict_id"`        // Conflict this resolution answers
	Outcome           ResolutionOutcome      `json:"outcome"`            // success / pending / failed
	StrategyUsed      Strategy               `json:"strategy_used"`      // Strategy that produced the outcome
	ResolvedOperation *Operation             `json:"resolved_operation"` // Surviving operation (nil when pending or failed)
	ResolvedBy        string                 `json:"resolved_by"`        // User ID for manual/expert resolutions
	ResolvedAt        time.Time              `json:"resolved_at"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// PresenceStatus describes a user's activity level within a document.
type PresenceStatus string

const (
	StatusActive  PresenceStatus = "active"
	StatusIdle    PresenceStatus = "idle"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Validate checks if the PresenceStatus is a valid enum value.
func (s PresenceStatus) Validate() error {
	switch s {
	case StatusActive, StatusIdle, StatusAway, StatusOffline:
		return nil
	default:
		return fmt.Errorf("unknown presence status: %q", s)
	}
}

// Viewport describes what part of the model a user is looking at.
type Viewport struct {
	Eye    Point3D `json:"eye"`    // Camera position
	Target Point3D `json:"target"` // Look-at point
	Zoom   float64 `json:"zoom"`   // Zoom factor (1.0 = fit)
}

// UserPresence tracks one user's live state within a document: cursor,
// viewport, selection, held locks and activity status. Created on the first
// presence update and removed when the user leaves.
type UserPresence struct {
	UserID          string         `json:"user_id"`
	Name            string         `json:"name"`
	Color           string         `json:"color"` // Stable display color, derived from the user ID
	Status          PresenceStatus `json:"status"`
	CursorPosition  *Point3D       `json:"cursor_position,omitempty"`
	Viewport        *Viewport      `json:"viewport,omitempty"`
	SelectedObjects []string       `json:"selected_objects"`
	LockedObjects   []string       `json:"locked_objects"`
	LastActivity    time.Time      `json:"last_activity"`
}

// Validate checks if the UserPresence has valid field values.
func (p *UserPresence) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	if err := p.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	return nil
}

// LockType governs who else may hold a concurrent lock on the same object.
type LockType string

const (
	// LockExclusive - sole access; all other requests queue
	LockExclusive LockType = "exclusive"

	// LockShared - read-mostly access; compatible with other shared locks
	LockShared LockType = "shared"

	// LockPending - a queued request that has not been granted yet
	LockPending LockType = "pending"
)

// Validate checks if the LockType is a valid enum value.
func (t LockType) Validate() error {
	switch t {
	case LockExclusive, LockShared, LockPending:
		return nil
	default:
		return fmt.Errorf("unknown lock type: %q", t)
	}
}

// ObjectLock is a time-bounded claim on one model object. At most one lock
// record exists per object; shared locks list every holder.
type ObjectLock struct {
	ObjectID   string     `json:"object_id"`
	UserID     string     `json:"user_id"` // Primary holder (first grantee for shared locks)
	LockType   LockType   `json:"lock_type"`
	Holders    []string   `json:"holders"` // All current holders (len > 1 only for shared locks)
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // nil = no expiry
}

// Validate checks if the ObjectLock has valid field values.
func (l *ObjectLock) Validate() error {
	if l.ObjectID == "" {
		return fmt.Errorf("object ID cannot be empty")
	}

	if l.UserID == "" {
		return fmt.Errorf("user ID cannot be empty")
	}

	if err := l.LockType.Validate(); err != nil {
		return fmt.Errorf("invalid lock type: %w", err)
	}

	return nil
}

// Expired returns true if the lock carries an expiry in the past.
func (l *ObjectLock) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// HeldBy returns true if the given user currently holds the lock.
func (l *ObjectLock) HeldBy(userID string) bool {
	if l.UserID == userID {
		return true
	}
	for _, h := range l.Holders {
		if h == userID {
			return true
		}
	}
	return false
}

// SyncState tracks one client's synchronization position within a document.
// Mutated only by the offline sync coordinator. A client is either online or
// offline: exactly one of OnlineSince/OfflineSince is set at a time.
type SyncState struct {
	ClientID          string       `json:"client_id"`
	LastSyncVersion   int64        `json:"last_sync_version"`
	LastSyncTimestamp time.Time    `json:"last_sync_timestamp"`
	OfflineSince      *time.Time   `json:"offline_since,omitempty"`
	OnlineSince       *time.Time   `json:"online_since,omitempty"`
	PendingOperations []*Operation `json:"pending_operations"`
	Checksum          string       `json:"checksum"`
}

// Online returns true if the client is currently connected.
func (s *SyncState) Online() bool {
	return s.OnlineSince != nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
