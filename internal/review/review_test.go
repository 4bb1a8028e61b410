package review

import (
	"testing"

	"attest/api/internal/store"
)

func strptr(s string) *string { return &s }

func TestDerivedItemStatus(t *testing.T) {
	cases := []struct {
		name          string
		item          store.DecisionItem
		versionStatus string
		want          string
	}{
		{
			name:          "no preparer decision",
			item:          store.DecisionItem{},
			versionStatus: StatusDraft,
			want:          ItemNoDecision,
		},
		{
			name: "missing preparer decision dominates retained approver fields",
			item: store.DecisionItem{
				ApproverDecision: strptr(DecisionRejected),
			},
			versionStatus: StatusDraft,
			want:          ItemNoDecision,
		},
		{
			name: "preparer decided in draft",
			item: store.DecisionItem{
				PreparerDecision: strptr("INCLUDE"),
			},
			versionStatus: StatusDraft,
			want:          ItemPreparerOnly,
		},
		{
			name: "awaiting review",
			item: store.DecisionItem{
				PreparerDecision: strptr("INCLUDE"),
			},
			versionStatus: StatusPendingApproval,
			want:          ItemPendingReview,
		},
		{
			name: "approver approved",
			item: store.DecisionItem{
				PreparerDecision: strptr("INCLUDE"),
				ApproverDecision: strptr(DecisionApproved),
			},
			versionStatus: StatusPendingApproval,
			want:          ItemApproved,
		},
		{
			name: "approver rejected",
			item: store.DecisionItem{
				PreparerDecision: strptr("INCLUDE"),
				ApproverDecision: strptr(DecisionRejected),
			},
			versionStatus: StatusPendingApproval,
			want:          ItemNeedsRevision,
		},
		{
			name: "approver requested changes",
			item: store.DecisionItem{
				PreparerDecision: strptr("EXCLUDE"),
				ApproverDecision: strptr(DecisionNeedsChanges),
			},
			versionStatus: StatusRejected,
			want:          ItemNeedsRevision,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DerivedItemStatus(tc.item, tc.versionStatus)
			if got != tc.want {
				t.Fatalf("DerivedItemStatus = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestComputeStatisticsGates(t *testing.T) {
	items := []store.DecisionItem{
		{ID: "a", PreparerDecision: strptr("INCLUDE"), ApproverDecision: strptr(DecisionApproved)},
		{ID: "b", PreparerDecision: strptr("EXCLUDE")},
		{ID: "c", Exempt: true},
	}

	stats := ComputeStatistics(StatusPendingApproval, items)

	if stats.TotalItems != 3 || stats.ExemptItems != 1 {
		t.Fatalf("counts: total=%d exempt=%d", stats.TotalItems, stats.ExemptItems)
	}
	if !stats.IsApprovable {
		t.Fatal("expected IsApprovable: exempt items auto-satisfy the preparer gate")
	}
	if stats.IsComplete {
		t.Fatal("expected incomplete: item b has no approver decision")
	}
	if stats.Approved != 1 || stats.PendingReview != 1 {
		t.Fatalf("derived counts: approved=%d pendingReview=%d", stats.Approved, stats.PendingReview)
	}

	// Idempotent: same input, same output.
	again := ComputeStatistics(StatusPendingApproval, items)
	if again != stats {
		t.Fatalf("statistics are not idempotent: %+v vs %+v", stats, again)
	}
}

func TestComputeStatisticsEmpty(t *testing.T) {
	stats := ComputeStatistics(StatusDraft, nil)
	if stats.IsApprovable {
		t.Fatal("empty version must not be approvable")
	}
	if stats.IsComplete {
		t.Fatal("empty version must not be complete")
	}
}

func TestComputeStatisticsAllExempt(t *testing.T) {
	items := []store.DecisionItem{{ID: "a", Exempt: true}, {ID: "b", Exempt: true}}
	stats := ComputeStatistics(StatusDraft, items)
	if !stats.IsApprovable || !stats.IsComplete {
		t.Fatalf("all-exempt version should satisfy both gates: %+v", stats)
	}
}

func TestCarryForward(t *testing.T) {
	source := []store.DecisionItem{
		{
			ID:                "src-approved",
			Label:             "control A",
			PreparerDecision:  strptr("INCLUDE"),
			PreparerRationale: "in scope",
			ApproverDecision:  strptr(DecisionApproved),
			ApproverNotes:     "fine",
		},
		{
			ID:                "src-rejected",
			Label:             "control B",
			PreparerDecision:  strptr("INCLUDE"),
			PreparerRationale: "in scope",
			ApproverDecision:  strptr(DecisionNeedsChanges),
			ApproverNotes:     "needs evidence",
		},
		{
			ID:    "src-undecided",
			Label: "control C",
		},
	}

	clones := CarryForward(source)
	if len(clones) != 3 {
		t.Fatalf("expected 3 clones, got %d", len(clones))
	}

	approved := clones[0]
	if approved.PreparerDecision == nil || *approved.PreparerDecision != "INCLUDE" {
		t.Fatal("approved item must retain its preparer decision")
	}
	if approved.ApproverDecision == nil || *approved.ApproverDecision != DecisionApproved {
		t.Fatal("approved item must retain approver fields as context")
	}
	if approved.CarriedFromItemID == nil || *approved.CarriedFromItemID != "src-approved" {
		t.Fatal("clone must record its source item")
	}
	if approved.ID != "" {
		t.Fatal("clones must not carry identity; the caller assigns IDs")
	}

	rejected := clones[1]
	if rejected.PreparerDecision != nil || rejected.PreparerRationale != "" {
		t.Fatal("sent-back item must lose its preparer decision and rationale")
	}
	if rejected.ApproverDecision == nil || rejected.ApproverNotes != "needs evidence" {
		t.Fatal("sent-back item keeps approver fields as context")
	}

	undecided := clones[2]
	if undecided.PreparerDecision != nil || undecided.ApproverDecision != nil {
		t.Fatal("undecided item clones unchanged")
	}

	// Mutating a clone's decision must not touch the source.
	*rejected.ApproverDecision = DecisionApproved
	if *source[1].ApproverDecision != DecisionNeedsChanges {
		t.Fatal("clone shares decision pointer with source")
	}
}

func TestRoleCanDecide(t *testing.T) {
	cases := []struct {
		role, status string
		want         bool
	}{
		{RolePreparer, StatusDraft, true},
		{RolePreparer, StatusPendingApproval, false},
		{RoleApprover, StatusPendingApproval, true},
		{RoleApprover, StatusDraft, false},
		{"auditor", StatusDraft, false},
	}
	for _, tc := range cases {
		if got := RoleCanDecide(tc.role, tc.status); got != tc.want {
			t.Errorf("RoleCanDecide(%s, %s) = %v, want %v", tc.role, tc.status, got, tc.want)
		}
	}
}

func TestCanEdit(t *testing.T) {
	editable := map[string]bool{
		StatusDraft:           true,
		StatusRejected:        true,
		StatusPendingApproval: false,
		StatusApproved:        false,
		StatusSuperseded:      false,
	}
	for status, want := range editable {
		if got := CanEdit(status); got != want {
			t.Errorf("CanEdit(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestDecisionVocabulary(t *testing.T) {
	for _, decision := range []string{"INCLUDE", "EXCLUDE", "APPROVE", "REJECT", "ACCEPT", "MODIFY"} {
		if !ValidPreparerDecision(decision) {
			t.Errorf("expected %s to be a valid preparer decision", decision)
		}
	}
	if ValidPreparerDecision("MAYBE") {
		t.Error("MAYBE must not be a valid preparer decision")
	}
	if !ValidApproverDecision(DecisionNeedsChanges) {
		t.Error("NEEDS_CHANGES must be a valid approver decision")
	}
	if ValidApproverDecision("INCLUDE") {
		t.Error("preparer vocabulary must not leak into approver decisions")
	}
	if !ValidChangeType("") {
		t.Error("empty change type is allowed")
	}
	if ValidChangeType("RENAME") {
		t.Error("RENAME is not a change type")
	}
}
