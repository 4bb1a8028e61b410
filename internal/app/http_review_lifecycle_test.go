package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"attest/api/internal/review"
	"attest/api/internal/store"
)

// memStore is an in-memory dataStore that mirrors the transactional
// guarantees of the Postgres store closely enough to drive the full review
// cycle over HTTP.
type memStore struct {
	mu       sync.Mutex
	versions map[string]*store.Version
	items    map[string][]store.DecisionItem
	feedback map[string][]store.FeedbackRecord
	audit    []store.AuditEntry
	auditSeq int64
	fbSeq    int64
}

func newMemStore() *memStore {
	return &memStore{
		versions: make(map[string]*store.Version),
		items:    make(map[string][]store.DecisionItem),
		feedback: make(map[string][]store.FeedbackRecord),
	}
}

func (m *memStore) addAudit(phaseContextID, subjectType, subjectID, action, previous, next, actor string) {
	m.auditSeq++
	m.audit = append(m.audit, store.AuditEntry{
		ID:             m.auditSeq,
		PhaseContextID: phaseContextID,
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		Action:         action,
		PreviousValue:  previous,
		NewValue:       next,
		Actor:          actor,
		CreatedAt:      time.Now(),
	})
}

func (m *memStore) addFeedback(record store.FeedbackRecord, phaseContextID string) {
	m.fbSeq++
	record.ID = m.fbSeq
	record.DecidedAt = time.Now()
	m.feedback[record.VersionID] = append(m.feedback[record.VersionID], record)
	m.addAudit(phaseContextID, store.SubjectVersion, record.VersionID, store.ActionFeedbackRecorded, "", record.Remarks, record.DecidedBy)
}

func (m *memStore) CreateVersion(_ context.Context, v store.Version, items []store.DecisionItem) (store.Version, []store.DecisionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	number := 0
	for _, existing := range m.versions {
		if existing.PhaseContextID != v.PhaseContextID {
			continue
		}
		if existing.Status == review.StatusDraft || existing.Status == review.StatusPendingApproval {
			return store.Version{}, nil, store.ErrOpenVersionExists
		}
		if existing.VersionNumber > number {
			number = existing.VersionNumber
		}
	}
	v.VersionNumber = number + 1
	v.Status = review.StatusDraft
	v.CreatedAt = time.Now()
	m.versions[v.ID] = &v
	for i := range items {
		items[i].VersionID = v.ID
		items[i].CreatedAt = time.Now()
		items[i].UpdatedAt = items[i].CreatedAt
		m.addAudit(v.PhaseContextID, store.SubjectItem, items[i].ID, store.ActionItemAdded, "", items[i].Label, v.CreatedBy)
	}
	m.items[v.ID] = append([]store.DecisionItem{}, items...)
	m.addAudit(v.PhaseContextID, store.SubjectVersion, v.ID, store.ActionVersionCreated, "", review.StatusDraft, v.CreatedBy)
	return v, items, nil
}

func (m *memStore) GetVersion(_ context.Context, versionID string) (store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return store.Version{}, sql.ErrNoRows
	}
	return *v, nil
}

func (m *memStore) ListVersions(_ context.Context, phaseContextID string) ([]store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Version, 0)
	for number := 1; ; number++ {
		found := false
		for _, v := range m.versions {
			if v.PhaseContextID == phaseContextID && v.VersionNumber == number {
				out = append(out, *v)
				found = true
				break
			}
		}
		if !found {
			break
		}
	}
	return out, nil
}

func (m *memStore) GetOpenVersion(_ context.Context, phaseContextID string) (*store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.PhaseContextID == phaseContextID &&
			(v.Status == review.StatusDraft || v.Status == review.StatusPendingApproval) {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetApprovedVersion(_ context.Context, phaseContextID string) (*store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.PhaseContextID == phaseContextID && v.Status == review.StatusApproved {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) LatestVersionWithFeedback(_ context.Context, phaseContextID string) (*store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *store.Version
	for id, v := range m.versions {
		if v.PhaseContextID != phaseContextID || len(m.feedback[id]) == 0 {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memStore) ListItems(_ context.Context, versionID string) ([]store.DecisionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.DecisionItem{}, m.items[versionID]...), nil
}

func (m *memStore) GetItem(_ context.Context, versionID, itemID string) (store.DecisionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items[versionID] {
		if item.ID == itemID {
			return item, nil
		}
	}
	return store.DecisionItem{}, sql.ErrNoRows
}

func (m *memStore) InsertItem(_ context.Context, item store.DecisionItem, actor string) (store.DecisionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[item.VersionID]
	if !ok {
		return store.DecisionItem{}, sql.ErrNoRows
	}
	if !review.CanEdit(v.Status) {
		return store.DecisionItem{}, store.ErrVersionFrozen
	}
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.items[item.VersionID] = append(m.items[item.VersionID], item)
	m.addAudit(v.PhaseContextID, store.SubjectItem, item.ID, store.ActionItemAdded, "", item.Label, actor)
	return item, nil
}

func (m *memStore) RecordPreparerDecision(_ context.Context, versionID, itemID, decision, rationale, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return sql.ErrNoRows
	}
	if v.Status != review.StatusDraft {
		return store.ErrVersionNotDraft
	}
	for i, item := range m.items[versionID] {
		if item.ID != itemID {
			continue
		}
		previous := ""
		if item.PreparerDecision != nil {
			previous = *item.PreparerDecision
		}
		m.items[versionID][i].PreparerDecision = &decision
		m.items[versionID][i].PreparerRationale = rationale
		m.items[versionID][i].UpdatedAt = time.Now()
		m.addAudit(v.PhaseContextID, store.SubjectItem, itemID, store.ActionPreparerDecision, previous, decision, actor)
		return nil
	}
	return sql.ErrNoRows
}

func (m *memStore) RecordApproverDecision(_ context.Context, versionID, itemID, decision, notes, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return sql.ErrNoRows
	}
	if v.Status != review.StatusPendingApproval {
		return store.ErrVersionNotPending
	}
	for i, item := range m.items[versionID] {
		if item.ID != itemID {
			continue
		}
		previous := ""
		if item.ApproverDecision != nil {
			previous = *item.ApproverDecision
		}
		m.items[versionID][i].ApproverDecision = &decision
		m.items[versionID][i].ApproverNotes = notes
		m.items[versionID][i].UpdatedAt = time.Now()
		m.addAudit(v.PhaseContextID, store.SubjectItem, itemID, store.ActionApproverDecision, previous, decision, actor)
		if decision != review.DecisionApproved || notes != "" {
			m.addFeedback(store.FeedbackRecord{
				VersionID: versionID,
				ItemID:    &itemID,
				Remarks:   notes,
				DecidedBy: actor,
			}, v.PhaseContextID)
		}
		return nil
	}
	return sql.ErrNoRows
}

func (m *memStore) SubmitVersion(_ context.Context, versionID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return sql.ErrNoRows
	}
	if v.Status != review.StatusDraft {
		return store.ErrVersionNotDraft
	}
	items := m.items[versionID]
	if len(items) == 0 {
		return store.ErrNoItems
	}
	for _, item := range items {
		if !item.Exempt && item.PreparerDecision == nil {
			return store.ErrUndecidedItems
		}
	}
	for i := range items {
		items[i].ApproverDecision = nil
		items[i].ApproverNotes = ""
	}
	now := time.Now()
	v.Status = review.StatusPendingApproval
	v.SubmittedBy = actor
	v.SubmittedAt = &now
	m.addAudit(v.PhaseContextID, store.SubjectVersion, versionID, store.ActionApproverReset, "", "", actor)
	m.addAudit(v.PhaseContextID, store.SubjectVersion, versionID, store.ActionVersionSubmitted, review.StatusDraft, review.StatusPendingApproval, actor)
	return nil
}

func (m *memStore) FinalizeVersion(_ context.Context, versionID, outcome, notes, actor string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok {
		return "", sql.ErrNoRows
	}
	if v.Status != review.StatusPendingApproval {
		return "", store.ErrVersionNotPending
	}
	for _, item := range m.items[versionID] {
		if !item.Exempt && item.ApproverDecision == nil {
			return "", store.ErrIncompleteReview
		}
	}
	now := time.Now()
	supersededID := ""
	if outcome == review.OutcomeApproved {
		for id, other := range m.versions {
			if other.PhaseContextID == v.PhaseContextID && other.Status == review.StatusApproved {
				other.Status = review.StatusSuperseded
				other.DecidedBy = actor
				other.DecidedAt = &now
				supersededID = id
				m.addAudit(v.PhaseContextID, store.SubjectVersion, id, store.ActionVersionSuperseded, review.StatusApproved, review.StatusSuperseded, actor)
			}
		}
	}
	v.Status = outcome
	v.FeedbackSummary = notes
	v.DecidedBy = actor
	v.DecidedAt = &now
	action := store.ActionVersionApproved
	if outcome == review.OutcomeRejected {
		action = store.ActionVersionRejected
		m.addFeedback(store.FeedbackRecord{
			VersionID: versionID,
			Remarks:   notes,
			DecidedBy: actor,
		}, v.PhaseContextID)
	}
	m.addAudit(v.PhaseContextID, store.SubjectVersion, versionID, action, review.StatusPendingApproval, outcome, actor)
	return supersededID, nil
}

func (m *memStore) InsertFeedback(_ context.Context, record store.FeedbackRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[record.VersionID]
	if !ok {
		return sql.ErrNoRows
	}
	m.addFeedback(record, v.PhaseContextID)
	return nil
}

func (m *memStore) ListFeedback(_ context.Context, versionID string) ([]store.FeedbackRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.FeedbackRecord{}, m.feedback[versionID]...), nil
}

func (m *memStore) ListAudit(_ context.Context, phaseContextID string, limit int) ([]store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AuditEntry, 0)
	for _, entry := range m.audit {
		if entry.PhaseContextID == phaseContextID {
			out = append(out, entry)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) IterationMetrics(_ context.Context, phaseContextID string) (store.IterationMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics := store.IterationMetrics{PhaseContextID: phaseContextID}
	for _, entry := range m.audit {
		if entry.PhaseContextID != phaseContextID {
			continue
		}
		switch entry.Action {
		case store.ActionVersionSubmitted:
			metrics.SubmitCount++
		case store.ActionVersionRejected:
			metrics.RejectCount++
		}
	}
	for id, v := range m.versions {
		if v.PhaseContextID != phaseContextID {
			continue
		}
		metrics.VersionCount++
		if v.Status == review.StatusApproved {
			metrics.ApprovedVersionID = id
		}
	}
	return metrics, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

const testToken = "test-service-token"

type lifecycleClient struct {
	t      *testing.T
	server *httptest.Server
}

func (c *lifecycleClient) do(method, path string, body any, wantStatus int) map[string]any {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		c.t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	if resp.StatusCode != wantStatus {
		c.t.Fatalf("%s %s: status %d, want %d (payload %v)", method, path, resp.StatusCode, wantStatus, payload)
	}
	return payload
}

func itemIDs(t *testing.T, payload map[string]any) []string {
	t.Helper()
	rawItems, ok := payload["items"].([]any)
	if !ok {
		t.Fatalf("expected items array, got %T", payload["items"])
	}
	ids := make([]string, 0, len(rawItems))
	for _, raw := range rawItems {
		item := raw.(map[string]any)
		ids = append(ids, item["id"].(string))
	}
	return ids
}

func TestReviewLifecycleOverHTTP(t *testing.T) {
	mem := newMemStore()
	notifier := &fakeNotifier{}
	service := NewService(mem, notifier, nil, nil)
	server := httptest.NewServer(NewHTTPServer(service, testToken, "*").Handler())
	defer server.Close()
	client := &lifecycleClient{t: t, server: server}

	// Requests without the service token are rejected.
	resp, err := http.Get(server.URL + "/api/contexts/phase-1/versions")
	if err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// Health endpoints stay open.
	resp, err = http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", resp.StatusCode)
	}

	// Version 1: blank seed with two items.
	v1 := client.do(http.MethodPost, "/api/contexts/phase-1/versions", map[string]any{
		"actor": "alice",
		"seed":  "blank",
		"items": []map[string]any{
			{"label": "control A", "payload": map[string]any{"ref": "A-1"}},
			{"label": "control B"},
		},
	}, http.StatusCreated)
	v1ID := v1["id"].(string)
	ids := itemIDs(t, v1)
	if v1["versionNumber"].(float64) != 1 {
		t.Fatalf("expected version number 1, got %v", v1["versionNumber"])
	}

	// A second open version is refused.
	conflict := client.do(http.MethodPost, "/api/contexts/phase-1/versions", map[string]any{
		"actor": "alice",
	}, http.StatusConflict)
	if conflict["code"] != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %v", conflict["code"])
	}

	// Submitting before the preparer decided is refused with details.
	undecided := client.do(http.MethodPost, "/api/versions/"+v1ID+"/submit", map[string]any{
		"actor": "alice",
	}, http.StatusUnprocessableEntity)
	if undecided["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", undecided["code"])
	}

	// Preparer decides both items, then submits.
	for _, id := range ids {
		client.do(http.MethodPost, fmt.Sprintf("/api/versions/%s/items/%s/decision", v1ID, id), map[string]any{
			"actor": "alice", "role": "preparer", "decision": "INCLUDE", "notes": "in scope",
		}, http.StatusOK)
	}
	submitted := client.do(http.MethodPost, "/api/versions/"+v1ID+"/submit", map[string]any{
		"actor": "alice",
	}, http.StatusOK)
	if submitted["status"] != review.StatusPendingApproval {
		t.Fatalf("expected PENDING_APPROVAL, got %v", submitted["status"])
	}

	// Approver reviews: one approved, one sent back, then rejects overall.
	client.do(http.MethodPost, fmt.Sprintf("/api/versions/%s/items/%s/decision", v1ID, ids[0]), map[string]any{
		"actor": "bob", "role": "approver", "decision": "APPROVED",
	}, http.StatusOK)
	client.do(http.MethodPost, fmt.Sprintf("/api/versions/%s/items/%s/decision", v1ID, ids[1]), map[string]any{
		"actor": "bob", "role": "approver", "decision": "NEEDS_CHANGES", "notes": "missing evidence",
	}, http.StatusOK)
	rejected := client.do(http.MethodPost, "/api/versions/"+v1ID+"/finalize", map[string]any{
		"actor": "bob", "outcome": "REJECTED", "notes": "rework control B",
	}, http.StatusOK)
	if rejected["status"] != review.StatusRejected {
		t.Fatalf("expected REJECTED, got %v", rejected["status"])
	}

	// Rejection produced feedback records: one item-level, one version-level.
	feedback := client.do(http.MethodGet, "/api/versions/"+v1ID+"/feedback", nil, http.StatusOK)
	records := feedback["feedback"].([]any)
	if len(records) != 2 {
		t.Fatalf("expected 2 feedback records, got %d", len(records))
	}

	// Version 2 carries forward from the reviewed version 1.
	v2 := client.do(http.MethodPost, "/api/contexts/phase-1/versions", map[string]any{
		"actor": "alice", "seed": "carry_forward",
	}, http.StatusCreated)
	v2ID := v2["id"].(string)
	if v2["parentVersionId"] != v1ID {
		t.Fatalf("expected parent %s, got %v", v1ID, v2["parentVersionId"])
	}
	v2Items := v2["items"].([]any)
	if len(v2Items) != 2 {
		t.Fatalf("expected 2 carried items, got %d", len(v2Items))
	}
	var carriedApproved, carriedSentBack map[string]any
	for _, raw := range v2Items {
		item := raw.(map[string]any)
		switch item["label"] {
		case "control A":
			carriedApproved = item
		case "control B":
			carriedSentBack = item
		}
	}
	if carriedApproved["preparerDecision"] != "INCLUDE" {
		t.Fatal("approved item must keep its preparer decision across versions")
	}
	if _, ok := carriedSentBack["preparerDecision"]; ok {
		t.Fatal("sent-back item must arrive undecided in the new version")
	}
	if carriedSentBack["derivedStatus"] != review.ItemNoDecision {
		t.Fatalf("sent-back item derived status %v, want NO_DECISION", carriedSentBack["derivedStatus"])
	}

	// Round 2: re-decide the sent-back item, submit, approve everything.
	client.do(http.MethodPost, fmt.Sprintf("/api/versions/%s/items/%s/decision", v2ID, carriedSentBack["id"]), map[string]any{
		"actor": "alice", "role": "preparer", "decision": "MODIFY", "notes": "evidence attached",
	}, http.StatusOK)
	afterSubmit := client.do(http.MethodPost, "/api/versions/"+v2ID+"/submit", map[string]any{
		"actor": "alice",
	}, http.StatusOK)
	// Submission wipes retained approver context for a clean pass.
	for _, raw := range afterSubmit["items"].([]any) {
		item := raw.(map[string]any)
		if _, ok := item["approverDecision"]; ok {
			t.Fatal("approver fields must be reset on submission")
		}
	}
	for _, raw := range afterSubmit["items"].([]any) {
		item := raw.(map[string]any)
		client.do(http.MethodPost, fmt.Sprintf("/api/versions/%s/items/%s/decision", v2ID, item["id"]), map[string]any{
			"actor": "bob", "role": "approver", "decision": "APPROVED",
		}, http.StatusOK)
	}
	approved := client.do(http.MethodPost, "/api/versions/"+v2ID+"/finalize", map[string]any{
		"actor": "bob", "outcome": "APPROVED",
	}, http.StatusOK)
	if approved["status"] != review.StatusApproved {
		t.Fatalf("expected APPROVED, got %v", approved["status"])
	}

	// The approved version is the context's current version.
	current := client.do(http.MethodGet, "/api/contexts/phase-1/versions/current", nil, http.StatusOK)
	if current["id"] != v2ID {
		t.Fatalf("expected current version %s, got %v", v2ID, current["id"])
	}

	// Approved versions are frozen.
	frozen := client.do(http.MethodPost, "/api/versions/"+v2ID+"/items", map[string]any{
		"actor": "alice", "label": "late item",
	}, http.StatusConflict)
	if frozen["code"] != "NOT_EDITABLE" {
		t.Fatalf("expected NOT_EDITABLE, got %v", frozen["code"])
	}

	// Audit trail and metrics reflect the two iterations.
	audit := client.do(http.MethodGet, "/api/contexts/phase-1/audit", nil, http.StatusOK)
	if len(audit["entries"].([]any)) == 0 {
		t.Fatal("expected audit entries")
	}
	metrics := client.do(http.MethodGet, "/api/contexts/phase-1/metrics", nil, http.StatusOK)
	if metrics["versionCount"].(float64) != 2 {
		t.Fatalf("expected 2 versions, got %v", metrics["versionCount"])
	}
	if metrics["submitCount"].(float64) != 2 || metrics["rejectCount"].(float64) != 1 {
		t.Fatalf("unexpected counters: %v", metrics)
	}
	if metrics["approvedVersionId"] != v2ID {
		t.Fatalf("expected approved version %s, got %v", v2ID, metrics["approvedVersionId"])
	}

	// Assignment intents were emitted for both submits and both outcomes.
	if len(notifier.intents) != 4 {
		t.Fatalf("expected 4 assignment intents, got %d", len(notifier.intents))
	}
}
