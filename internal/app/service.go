package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"attest/api/internal/assign"
	"attest/api/internal/evidence"
	"attest/api/internal/review"
	"attest/api/internal/search"
	"attest/api/internal/store"
	"attest/api/internal/util"
)

// Version seeding modes.
const (
	SeedBlank        = "blank"
	SeedCarryForward = "carry_forward"
)

type ItemInput struct {
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload"`
	Exempt  bool            `json:"exempt"`
}

type CreateVersionInput struct {
	Actor string      `json:"actor"`
	Seed  string      `json:"seed"`
	Items []ItemInput `json:"items"`
}

type DecisionInput struct {
	Actor    string `json:"actor"`
	Role     string `json:"role"`
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

type FinalizeInput struct {
	Actor   string `json:"actor"`
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

type FeedbackInput struct {
	Actor      string `json:"actor"`
	ItemID     string `json:"itemId"`
	Remarks    string `json:"remarks"`
	ChangeType string `json:"changeType"`
}

type dataStore interface {
	CreateVersion(context.Context, store.Version, []store.DecisionItem) (store.Version, []store.DecisionItem, error)
	GetVersion(context.Context, string) (store.Version, error)
	ListVersions(context.Context, string) ([]store.Version, error)
	GetOpenVersion(context.Context, string) (*store.Version, error)
	GetApprovedVersion(context.Context, string) (*store.Version, error)
	LatestVersionWithFeedback(context.Context, string) (*store.Version, error)
	ListItems(context.Context, string) ([]store.DecisionItem, error)
	GetItem(context.Context, string, string) (store.DecisionItem, error)
	InsertItem(context.Context, store.DecisionItem, string) (store.DecisionItem, error)
	RecordPreparerDecision(ctx context.Context, versionID, itemID, decision, rationale, actor string) error
	RecordApproverDecision(ctx context.Context, versionID, itemID, decision, notes, actor string) error
	SubmitVersion(ctx context.Context, versionID, actor string) error
	FinalizeVersion(ctx context.Context, versionID, outcome, notes, actor string) (string, error)
	InsertFeedback(context.Context, store.FeedbackRecord) error
	ListFeedback(context.Context, string) ([]store.FeedbackRecord, error)
	ListAudit(ctx context.Context, phaseContextID string, limit int) ([]store.AuditEntry, error)
	IterationMetrics(context.Context, string) (store.IterationMetrics, error)
	Ping(context.Context) error
}

// Service implements the review engine on top of the store. Assignment
// notifications and search indexing are best effort and never roll back a
// committed transition.
type Service struct {
	store    dataStore
	notifier assign.Notifier
	search   *search.Service
	evidence *evidence.Store
}

func NewService(dataStore dataStore, notifier assign.Notifier, searchService *search.Service, evidenceStore *evidence.Store) *Service {
	return &Service{
		store:    dataStore,
		notifier: notifier,
		search:   searchService,
		evidence: evidenceStore,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateVersion opens a new draft for a phase context. Seeding is either
// blank (optionally with initial items) or carry_forward, which clones the
// items of the most recent reviewed version.
func (s *Service) CreateVersion(ctx context.Context, phaseContextID string, input CreateVersionInput) (map[string]any, error) {
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return nil, errValidation("actor is required", nil)
	}
	seed := input.Seed
	if seed == "" {
		seed = SeedBlank
	}
	if seed != SeedBlank && seed != SeedCarryForward {
		return nil, errValidation("seed must be blank or carry_forward", map[string]any{"seed": input.Seed})
	}

	if open, err := s.store.GetOpenVersion(ctx, phaseContextID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, errInvalidState("an open version already exists for this phase context", map[string]any{
			"versionId": open.ID,
			"status":    open.Status,
		})
	}

	version := store.Version{
		ID:             util.NewID("ver"),
		PhaseContextID: phaseContextID,
		CreatedBy:      actor,
	}

	var items []store.DecisionItem
	switch seed {
	case SeedBlank:
		for i, in := range input.Items {
			if strings.TrimSpace(in.Label) == "" {
				return nil, errValidation("item label is required", map[string]any{"index": i})
			}
			items = append(items, store.DecisionItem{
				ID:      util.NewID("item"),
				Label:   strings.TrimSpace(in.Label),
				Payload: in.Payload,
				Exempt:  in.Exempt,
			})
		}
	case SeedCarryForward:
		if len(input.Items) > 0 {
			return nil, errValidation("carry_forward does not accept initial items", nil)
		}
		source, err := s.store.LatestVersionWithFeedback(ctx, phaseContextID)
		if err != nil {
			return nil, err
		}
		if source == nil {
			return nil, errValidation("no reviewed version to carry forward from", nil)
		}
		sourceItems, err := s.store.ListItems(ctx, source.ID)
		if err != nil {
			return nil, err
		}
		items = review.CarryForward(sourceItems)
		for i := range items {
			items[i].ID = util.NewID("item")
		}
		version.ParentVersionID = &source.ID
	}

	created, createdItems, err := s.store.CreateVersion(ctx, version, items)
	if err != nil {
		if errors.Is(err, store.ErrOpenVersionExists) {
			return nil, errConflict("an open version was created concurrently for this phase context")
		}
		return nil, err
	}

	for _, item := range createdItems {
		s.indexItem(created, item)
	}
	return versionPayload(created, createdItems), nil
}

// VersionDetail returns a version with its items, derived statuses, and
// statistics.
func (s *Service) VersionDetail(ctx context.Context, versionID string) (map[string]any, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return versionPayload(version, items), nil
}

// ListVersions returns all versions of a phase context, oldest first, each
// with its statistics.
func (s *Service) ListVersions(ctx context.Context, phaseContextID string) (map[string]any, error) {
	versions, err := s.store.ListVersions(ctx, phaseContextID)
	if err != nil {
		return nil, err
	}
	summaries := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		items, err := s.store.ListItems(ctx, version.ID)
		if err != nil {
			return nil, err
		}
		summary := versionFields(version)
		summary["stats"] = review.ComputeStatistics(version.Status, items)
		summaries = append(summaries, summary)
	}
	return map[string]any{"versions": summaries}, nil
}

// CurrentVersion returns the single approved version of a phase context.
func (s *Service) CurrentVersion(ctx context.Context, phaseContextID string) (map[string]any, error) {
	approved, err := s.store.GetApprovedVersion(ctx, phaseContextID)
	if err != nil {
		return nil, err
	}
	if approved == nil {
		return nil, errNotFound("no approved version for this phase context")
	}
	items, err := s.store.ListItems(ctx, approved.ID)
	if err != nil {
		return nil, err
	}
	return versionPayload(*approved, items), nil
}

// CanEdit reports whether a version accepts item mutation.
func (s *Service) CanEdit(ctx context.Context, versionID string) (map[string]any, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"versionId": version.ID,
		"status":    version.Status,
		"canEdit":   review.CanEdit(version.Status),
	}, nil
}

// AddItem appends a fresh item to an editable version.
func (s *Service) AddItem(ctx context.Context, versionID, actor string, input ItemInput) (map[string]any, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, errValidation("actor is required", nil)
	}
	if strings.TrimSpace(input.Label) == "" {
		return nil, errValidation("item label is required", nil)
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !review.CanEdit(version.Status) {
		return nil, errNotEditable(fmt.Sprintf("version is %s and cannot be edited", version.Status))
	}

	item := store.DecisionItem{
		ID:        util.NewID("item"),
		VersionID: versionID,
		Label:     strings.TrimSpace(input.Label),
		Payload:   input.Payload,
		Exempt:    input.Exempt,
	}
	inserted, err := s.store.InsertItem(ctx, item, strings.TrimSpace(actor))
	if err != nil {
		if errors.Is(err, store.ErrVersionFrozen) {
			return nil, errNotEditable("version was frozen concurrently")
		}
		return nil, err
	}

	s.indexItem(version, inserted)
	return map[string]any{"item": itemFields(inserted, version.Status)}, nil
}

// RecordDecision records a preparer or approver decision on one item.
func (s *Service) RecordDecision(ctx context.Context, versionID, itemID string, input DecisionInput) (map[string]any, error) {
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return nil, errValidation("actor is required", nil)
	}
	role := strings.TrimSpace(input.Role)
	if role != review.RolePreparer && role != review.RoleApprover {
		return nil, errInvalidItem("role must be preparer or approver", map[string]any{"role": input.Role})
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetItem(ctx, versionID, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvalidItem("item does not belong to this version", map[string]any{"itemId": itemID})
		}
		return nil, err
	}
	if item.Exempt {
		return nil, errInvalidItem("exempt items do not take decisions", map[string]any{"itemId": itemID})
	}
	if !review.RoleCanDecide(role, version.Status) {
		return nil, errNotEditable(fmt.Sprintf("%s decisions are not accepted while the version is %s", role, version.Status))
	}

	switch role {
	case review.RolePreparer:
		if !review.ValidPreparerDecision(input.Decision) {
			return nil, errValidation("unknown preparer decision", map[string]any{"decision": input.Decision})
		}
		err = s.store.RecordPreparerDecision(ctx, versionID, itemID, input.Decision, input.Notes, actor)
	case review.RoleApprover:
		if !review.ValidApproverDecision(input.Decision) {
			return nil, errValidation("unknown approver decision", map[string]any{"decision": input.Decision})
		}
		err = s.store.RecordApproverDecision(ctx, versionID, itemID, input.Decision, input.Notes, actor)
	}
	if err != nil {
		if errors.Is(err, store.ErrVersionNotDraft) || errors.Is(err, store.ErrVersionNotPending) {
			return nil, errNotEditable("version state changed concurrently")
		}
		return nil, err
	}

	updated, err := s.store.GetItem(ctx, versionID, itemID)
	if err != nil {
		return nil, err
	}
	s.indexItem(version, updated)
	return map[string]any{"item": itemFields(updated, version.Status)}, nil
}

// SubmitForApproval moves a draft into review. Every non-exempt item must
// carry a preparer decision.
func (s *Service) SubmitForApproval(ctx context.Context, versionID, actor string) (map[string]any, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, errValidation("actor is required", nil)
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != review.StatusDraft {
		return nil, errNotEditable(fmt.Sprintf("only drafts can be submitted; version is %s", version.Status))
	}
	items, err := s.store.ListItems(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errValidation("version has no items", nil)
	}
	stats := review.ComputeStatistics(version.Status, items)
	if !stats.IsApprovable {
		return nil, errValidation("every non-exempt item needs a preparer decision before submission", map[string]any{
			"undecidedItems": undecidedItemIDs(items, review.RolePreparer),
		})
	}

	if err := s.store.SubmitVersion(ctx, versionID, strings.TrimSpace(actor)); err != nil {
		switch {
		case errors.Is(err, store.ErrVersionNotDraft):
			return nil, errNotEditable("version state changed concurrently")
		case errors.Is(err, store.ErrNoItems), errors.Is(err, store.ErrUndecidedItems):
			return nil, errValidation("submission preconditions changed concurrently", nil)
		}
		return nil, err
	}

	s.notify(ctx, assign.Intent{
		AssignmentType: assign.TypeApprovalRequested,
		FromRole:       review.RolePreparer,
		ToRole:         review.RoleApprover,
		PhaseContextID: version.PhaseContextID,
		VersionID:      versionID,
		Priority:       "normal",
	})
	return s.VersionDetail(ctx, versionID)
}

// Finalize records the approver's overall outcome for a version under
// review. Approval atomically supersedes the previously approved version.
func (s *Service) Finalize(ctx context.Context, versionID string, input FinalizeInput) (map[string]any, error) {
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return nil, errValidation("actor is required", nil)
	}
	if input.Outcome != review.OutcomeApproved && input.Outcome != review.OutcomeRejected {
		return nil, errValidation("outcome must be APPROVED or REJECTED", map[string]any{"outcome": input.Outcome})
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.Status != review.StatusPendingApproval {
		return nil, errInvalidTransition(fmt.Sprintf("only versions pending approval can be finalized; version is %s", version.Status), nil)
	}
	items, err := s.store.ListItems(ctx, versionID)
	if err != nil {
		return nil, err
	}
	stats := review.ComputeStatistics(version.Status, items)
	if !stats.IsComplete {
		return nil, errValidation("every non-exempt item needs an approver decision before finalizing", map[string]any{
			"unreviewedItems": undecidedItemIDs(items, review.RoleApprover),
		})
	}

	supersededID, err := s.store.FinalizeVersion(ctx, versionID, input.Outcome, input.Notes, actor)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVersionNotPending):
			return nil, errInvalidTransition("version state changed concurrently", nil)
		case errors.Is(err, store.ErrIncompleteReview):
			return nil, errValidation("review completeness changed concurrently", nil)
		}
		return nil, err
	}

	assignmentType := assign.TypeReviewCompleted
	if input.Outcome == review.OutcomeRejected {
		assignmentType = assign.TypeChangesRequested
	}
	s.notify(ctx, assign.Intent{
		AssignmentType: assignmentType,
		FromRole:       review.RoleApprover,
		ToRole:         review.RolePreparer,
		PhaseContextID: version.PhaseContextID,
		VersionID:      versionID,
		Priority:       "normal",
	})

	payload, err := s.VersionDetail(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if supersededID != "" {
		payload["supersededVersionId"] = supersededID
	}
	return payload, nil
}

// RecordFeedback appends an explicit feedback record, version-level when
// itemId is empty.
func (s *Service) RecordFeedback(ctx context.Context, versionID string, input FeedbackInput) (map[string]any, error) {
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return nil, errValidation("actor is required", nil)
	}
	if strings.TrimSpace(input.Remarks) == "" {
		return nil, errValidation("remarks are required", nil)
	}
	if !review.ValidChangeType(input.ChangeType) {
		return nil, errValidation("changeType must be ADD, REMOVE, or CORRECT", map[string]any{"changeType": input.ChangeType})
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	record := store.FeedbackRecord{
		VersionID:           versionID,
		Remarks:             input.Remarks,
		RequestedChangeType: input.ChangeType,
		DecidedBy:           actor,
	}
	if itemID := strings.TrimSpace(input.ItemID); itemID != "" {
		if _, err := s.store.GetItem(ctx, versionID, itemID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errInvalidItem("item does not belong to this version", map[string]any{"itemId": itemID})
			}
			return nil, err
		}
		record.ItemID = &itemID
	}

	if err := s.store.InsertFeedback(ctx, record); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexFeedback(search.FeedbackSearchRecord{
			ID:             util.NewID("fb"),
			Remarks:        record.Remarks,
			ChangeType:     record.RequestedChangeType,
			VersionID:      versionID,
			PhaseContextID: version.PhaseContextID,
		})
	}
	return s.FeedbackFor(ctx, versionID)
}

// FeedbackFor returns all feedback records of a version, oldest first.
func (s *Service) FeedbackFor(ctx context.Context, versionID string) (map[string]any, error) {
	if _, err := s.store.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	records, err := s.store.ListFeedback(ctx, versionID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(records))
	for _, record := range records {
		payload = append(payload, feedbackFields(record))
	}
	return map[string]any{"feedback": payload}, nil
}

// AuditTrail returns the append-only audit entries of a phase context.
func (s *Service) AuditTrail(ctx context.Context, phaseContextID string, limit int) (map[string]any, error) {
	entries, err := s.store.ListAudit(ctx, phaseContextID, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, map[string]any{
			"id":            entry.ID,
			"subjectType":   entry.SubjectType,
			"subjectId":     entry.SubjectID,
			"action":        entry.Action,
			"previousValue": entry.PreviousValue,
			"newValue":      entry.NewValue,
			"actor":         entry.Actor,
			"createdAt":     entry.CreatedAt,
		})
	}
	return map[string]any{"entries": payload}, nil
}

// Metrics derives iteration counters for a phase context.
func (s *Service) Metrics(ctx context.Context, phaseContextID string) (map[string]any, error) {
	metrics, err := s.store.IterationMetrics(ctx, phaseContextID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"phaseContextId": metrics.PhaseContextID,
		"versionCount":   metrics.VersionCount,
		"submitCount":    metrics.SubmitCount,
		"rejectCount":    metrics.RejectCount,
	}
	if metrics.ApprovedVersionID != "" {
		payload["approvedVersionId"] = metrics.ApprovedVersionID
	}
	if metrics.TimeToApprovalSeconds != nil {
		payload["timeToApprovalSeconds"] = *metrics.TimeToApprovalSeconds
	}
	return payload, nil
}

// Search runs a full-text query over items and feedback.
func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

// UploadEvidence stores a supporting file for an item of an editable version.
func (s *Service) UploadEvidence(ctx context.Context, versionID, itemID, filename, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if s.evidence == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EVIDENCE_UNAVAILABLE", "Evidence storage not configured", nil)
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !review.CanEdit(version.Status) {
		return nil, errNotEditable(fmt.Sprintf("version is %s and cannot take new evidence", version.Status))
	}
	if _, err := s.store.GetItem(ctx, versionID, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvalidItem("item does not belong to this version", map[string]any{"itemId": itemID})
		}
		return nil, err
	}

	object, err := s.evidence.Put(ctx, itemID, filename, contentType, size, r)
	if err != nil {
		return nil, err
	}
	return map[string]any{"evidence": object}, nil
}

// ListEvidence returns the stored evidence for an item with presigned
// download links.
func (s *Service) ListEvidence(ctx context.Context, versionID, itemID string) (map[string]any, error) {
	if s.evidence == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EVIDENCE_UNAVAILABLE", "Evidence storage not configured", nil)
	}
	if _, err := s.store.GetItem(ctx, versionID, itemID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvalidItem("item does not belong to this version", map[string]any{"itemId": itemID})
		}
		return nil, err
	}

	objects, err := s.evidence.List(ctx, itemID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(objects))
	for _, object := range objects {
		url, err := s.evidence.PresignedGet(ctx, object.Key, 15*time.Minute)
		if err != nil {
			return nil, err
		}
		payload = append(payload, map[string]any{
			"key":         object.Key,
			"size":        object.Size,
			"contentType": object.ContentType,
			"uploadedAt":  object.UploadedAt,
			"url":         url,
		})
	}
	return map[string]any{"evidence": payload}, nil
}

func (s *Service) notify(ctx context.Context, intent assign.Intent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, intent); err != nil {
		log.Printf("app: assignment notification failed for %s version=%s: %v",
			intent.AssignmentType, intent.VersionID, err)
	}
}

func (s *Service) indexItem(version store.Version, item store.DecisionItem) {
	if s.search == nil {
		return
	}
	s.search.IndexItem(search.ItemRecord{
		ID:                item.ID,
		Label:             item.Label,
		PreparerRationale: item.PreparerRationale,
		ApproverNotes:     item.ApproverNotes,
		VersionID:         version.ID,
		PhaseContextID:    version.PhaseContextID,
		Status:            review.DerivedItemStatus(item, version.Status),
	})
}

func undecidedItemIDs(items []store.DecisionItem, role string) []string {
	ids := make([]string, 0)
	for _, item := range items {
		if item.Exempt {
			continue
		}
		switch role {
		case review.RolePreparer:
			if item.PreparerDecision == nil {
				ids = append(ids, item.ID)
			}
		case review.RoleApprover:
			if item.ApproverDecision == nil {
				ids = append(ids, item.ID)
			}
		}
	}
	return ids
}

func versionPayload(version store.Version, items []store.DecisionItem) map[string]any {
	itemPayload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		itemPayload = append(itemPayload, itemFields(item, version.Status))
	}
	payload := versionFields(version)
	payload["items"] = itemPayload
	payload["stats"] = review.ComputeStatistics(version.Status, items)
	return payload
}

func versionFields(version store.Version) map[string]any {
	fields := map[string]any{
		"id":             version.ID,
		"phaseContextId": version.PhaseContextID,
		"versionNumber":  version.VersionNumber,
		"status":         version.Status,
		"createdBy":      version.CreatedBy,
		"createdAt":      version.CreatedAt,
	}
	if version.ParentVersionID != nil {
		fields["parentVersionId"] = *version.ParentVersionID
	}
	if version.FeedbackSummary != "" {
		fields["feedbackSummary"] = version.FeedbackSummary
	}
	if version.SubmittedAt != nil {
		fields["submittedBy"] = version.SubmittedBy
		fields["submittedAt"] = *version.SubmittedAt
	}
	if version.DecidedAt != nil {
		fields["decidedBy"] = version.DecidedBy
		fields["decidedAt"] = *version.DecidedAt
	}
	return fields
}

func itemFields(item store.DecisionItem, versionStatus string) map[string]any {
	fields := map[string]any{
		"id":            item.ID,
		"versionId":     item.VersionID,
		"label":         item.Label,
		"exempt":        item.Exempt,
		"derivedStatus": review.DerivedItemStatus(item, versionStatus),
		"createdAt":     item.CreatedAt,
		"updatedAt":     item.UpdatedAt,
	}
	if len(item.Payload) > 0 {
		fields["payload"] = json.RawMessage(item.Payload)
	}
	if item.PreparerDecision != nil {
		fields["preparerDecision"] = *item.PreparerDecision
		fields["preparerRationale"] = item.PreparerRationale
	}
	if item.ApproverDecision != nil {
		fields["approverDecision"] = *item.ApproverDecision
		fields["approverNotes"] = item.ApproverNotes
	}
	if item.CarriedFromItemID != nil {
		fields["carriedFromItemId"] = *item.CarriedFromItemID
	}
	return fields
}

func feedbackFields(record store.FeedbackRecord) map[string]any {
	fields := map[string]any{
		"id":        record.ID,
		"versionId": record.VersionID,
		"remarks":   record.Remarks,
		"decidedBy": record.DecidedBy,
		"decidedAt": record.DecidedAt,
	}
	if record.ItemID != nil {
		fields["itemId"] = *record.ItemID
	}
	if record.RequestedChangeType != "" {
		fields["changeType"] = record.RequestedChangeType
	}
	return fields
}
