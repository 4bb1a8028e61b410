// Package review holds the pure decision rules of the review cycle:
// version and item status vocabulary, derived item status, version
// statistics, and the carry-forward transform. Nothing here touches
// storage or transport.
package review

import "attest/api/internal/store"

// Version statuses.
const (
	StatusDraft           = "DRAFT"
	StatusPendingApproval = "PENDING_APPROVAL"
	StatusApproved        = "APPROVED"
	StatusRejected        = "REJECTED"
	StatusSuperseded      = "SUPERSEDED"
)

// Approver decisions.
const (
	DecisionApproved     = "APPROVED"
	DecisionRejected     = "REJECTED"
	DecisionNeedsChanges = "NEEDS_CHANGES"
)

// Derived item statuses.
const (
	ItemNoDecision    = "NO_DECISION"
	ItemPreparerOnly  = "PREPARER_ONLY"
	ItemPendingReview = "PENDING_REVIEW"
	ItemApproved      = "APPROVED"
	ItemNeedsRevision = "NEEDS_REVISION"
)

// Actor roles.
const (
	RolePreparer = "preparer"
	RoleApprover = "approver"
)

// Finalize outcomes.
const (
	OutcomeApproved = "APPROVED"
	OutcomeRejected = "REJECTED"
)

var allowedPreparerDecisions = map[string]struct{}{
	"INCLUDE": {},
	"EXCLUDE": {},
	"APPROVE": {},
	"REJECT":  {},
	"ACCEPT":  {},
	"MODIFY":  {},
}

var allowedApproverDecisions = map[string]struct{}{
	DecisionApproved:     {},
	DecisionRejected:     {},
	DecisionNeedsChanges: {},
}

var allowedChangeTypes = map[string]struct{}{
	"ADD":     {},
	"REMOVE":  {},
	"CORRECT": {},
}

func ValidPreparerDecision(decision string) bool {
	_, ok := allowedPreparerDecisions[decision]
	return ok
}

func ValidApproverDecision(decision string) bool {
	_, ok := allowedApproverDecisions[decision]
	return ok
}

func ValidChangeType(changeType string) bool {
	if changeType == "" {
		return true
	}
	_, ok := allowedChangeTypes[changeType]
	return ok
}

func ValidVersionStatus(status string) bool {
	switch status {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusSuperseded:
		return true
	}
	return false
}

// CanEdit reports whether a version in the given status accepts item
// mutation. Draft and rejected versions are editable; everything else is
// frozen history.
func CanEdit(status string) bool {
	return status == StatusDraft || status == StatusRejected
}

// RoleCanDecide reports whether an actor role has standing to record a
// decision while the owning version is in the given status. Preparers
// decide on drafts, approvers decide on versions under review.
func RoleCanDecide(role, versionStatus string) bool {
	switch role {
	case RolePreparer:
		return versionStatus == StatusDraft
	case RoleApprover:
		return versionStatus == StatusPendingApproval
	}
	return false
}

// DerivedItemStatus computes the single source of truth for an item's
// display status. A missing preparer decision dominates everything else,
// so carried-forward items that were reset show as undecided even though
// prior approver feedback is still attached.
func DerivedItemStatus(item store.DecisionItem, versionStatus string) string {
	if item.PreparerDecision == nil {
		return ItemNoDecision
	}
	if item.ApproverDecision != nil {
		switch *item.ApproverDecision {
		case DecisionApproved:
			return ItemApproved
		case DecisionRejected, DecisionNeedsChanges:
			return ItemNeedsRevision
		}
	}
	if versionStatus == StatusPendingApproval {
		return ItemPendingReview
	}
	return ItemPreparerOnly
}

// Statistics are recomputed from the item set on demand and never stored.
type Statistics struct {
	TotalItems       int  `json:"totalItems"`
	ExemptItems      int  `json:"exemptItems"`
	NoDecision       int  `json:"noDecision"`
	PreparerOnly     int  `json:"preparerOnly"`
	PendingReview    int  `json:"pendingReview"`
	Approved         int  `json:"approved"`
	NeedsRevision    int  `json:"needsRevision"`
	PreparerDecided  int  `json:"preparerDecided"`
	ApproverApproved int  `json:"approverApproved"`
	ApproverRejected int  `json:"approverRejected"`
	Pending          int  `json:"pending"`
	IsApprovable     bool `json:"isApprovable"`
	IsComplete       bool `json:"isComplete"`
}

// ComputeStatistics derives version-level counters from the items. Exempt
// items auto-satisfy both the approvable and complete gates without an
// explicit decision.
func ComputeStatistics(versionStatus string, items []store.DecisionItem) Statistics {
	stats := Statistics{TotalItems: len(items)}
	undecidedRequired := 0
	unreviewedRequired := 0
	for _, item := range items {
		switch DerivedItemStatus(item, versionStatus) {
		case ItemNoDecision:
			stats.NoDecision++
		case ItemPreparerOnly:
			stats.PreparerOnly++
		case ItemPendingReview:
			stats.PendingReview++
		case ItemApproved:
			stats.Approved++
		case ItemNeedsRevision:
			stats.NeedsRevision++
		}
		if item.Exempt {
			stats.ExemptItems++
		}
		if item.PreparerDecision != nil {
			stats.PreparerDecided++
		}
		if item.ApproverDecision != nil {
			switch *item.ApproverDecision {
			case DecisionApproved:
				stats.ApproverApproved++
			case DecisionRejected, DecisionNeedsChanges:
				stats.ApproverRejected++
			}
		} else {
			stats.Pending++
		}
		if !item.Exempt {
			if item.PreparerDecision == nil {
				undecidedRequired++
			}
			if item.ApproverDecision == nil {
				unreviewedRequired++
			}
		}
	}
	stats.IsApprovable = len(items) > 0 && undecidedRequired == 0
	stats.IsComplete = len(items) > 0 && unreviewedRequired == 0
	return stats
}

// CarryForward clones the items of a reviewed ancestor version into drafts
// for a new version. Items the approver sent back lose their preparer
// decision so they must be re-decided; approver fields are retained on all
// clones as visible context and are wiped again at the next submission.
// Returned items carry no IDs; the caller assigns identity and ownership.
func CarryForward(source []store.DecisionItem) []store.DecisionItem {
	items := make([]store.DecisionItem, 0, len(source))
	for _, item := range source {
		carriedFrom := item.ID
		clone := store.DecisionItem{
			Label:             item.Label,
			Payload:           item.Payload,
			Exempt:            item.Exempt,
			PreparerDecision:  copyDecision(item.PreparerDecision),
			PreparerRationale: item.PreparerRationale,
			ApproverDecision:  copyDecision(item.ApproverDecision),
			ApproverNotes:     item.ApproverNotes,
			CarriedFromItemID: &carriedFrom,
		}
		if item.ApproverDecision != nil {
			switch *item.ApproverDecision {
			case DecisionRejected, DecisionNeedsChanges:
				clone.PreparerDecision = nil
				clone.PreparerRationale = ""
			}
		}
		items = append(items, clone)
	}
	return items
}

func copyDecision(decision *string) *string {
	if decision == nil {
		return nil
	}
	value := *decision
	return &value
}
