package store

import (
	"encoding/json"
	"time"
)

type Version struct {
	ID              string
	PhaseContextID  string
	VersionNumber   int
	Status          string
	ParentVersionID *string
	FeedbackSummary string
	CreatedBy       string
	CreatedAt       time.Time
	SubmittedBy     string
	SubmittedAt     *time.Time
	DecidedBy       string
	DecidedAt       *time.Time
}

// DecisionItem belongs to exactly one version. Payload is opaque business
// data; the engine only interprets the label and the exempt flag.
type DecisionItem struct {
	ID                string
	VersionID         string
	Label             string
	Payload           json.RawMessage
	Exempt            bool
	PreparerDecision  *string
	PreparerRationale string
	ApproverDecision  *string
	ApproverNotes     string
	CarriedFromItemID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FeedbackRecord is immutable once written. ItemID is nil for
// version-level feedback.
type FeedbackRecord struct {
	ID                  int64
	VersionID           string
	ItemID              *string
	Remarks             string
	RequestedChangeType string
	DecidedBy           string
	DecidedAt           time.Time
}

type AuditEntry struct {
	ID             int64
	PhaseContextID string
	SubjectType    string
	SubjectID      string
	Action         string
	PreviousValue  string
	NewValue       string
	Actor          string
	CreatedAt      time.Time
}

// Audit subject types.
const (
	SubjectVersion = "version"
	SubjectItem    = "item"
)

// Audit actions.
const (
	ActionVersionCreated    = "VERSION_CREATED"
	ActionVersionSubmitted  = "VERSION_SUBMITTED"
	ActionVersionApproved   = "VERSION_APPROVED"
	ActionVersionRejected   = "VERSION_REJECTED"
	ActionVersionSuperseded = "VERSION_SUPERSEDED"
	ActionItemAdded         = "ITEM_ADDED"
	ActionPreparerDecision  = "PREPARER_DECISION"
	ActionApproverDecision  = "APPROVER_DECISION"
	ActionApproverReset     = "APPROVER_FIELDS_RESET"
	ActionFeedbackRecorded  = "FEEDBACK_RECORDED"
)

// IterationMetrics are derived from audit entries plus version timestamps;
// nothing here is stored independently.
type IterationMetrics struct {
	PhaseContextID        string
	VersionCount          int
	SubmitCount           int
	RejectCount           int
	ApprovedVersionID     string
	TimeToApprovalSeconds *int64
}
