package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced to the service layer, which maps them onto the
// public error taxonomy.
var (
	ErrOpenVersionExists = errors.New("an open version already exists for this phase context")
	ErrVersionNotDraft   = errors.New("version is not in draft")
	ErrVersionNotPending = errors.New("version is not pending approval")
	ErrVersionFrozen     = errors.New("version is frozen")
	ErrNoItems           = errors.New("version has no items")
	ErrUndecidedItems    = errors.New("required items are missing a preparer decision")
	ErrIncompleteReview  = errors.New("required items are missing an approver decision")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const versionColumns = `id, phase_context_id, version_number, status, parent_version_id,
	feedback_summary, created_by, created_at, submitted_by, submitted_at, decided_by, decided_at`

func scanVersion(row interface{ Scan(...any) error }) (Version, error) {
	var v Version
	err := row.Scan(
		&v.ID,
		&v.PhaseContextID,
		&v.VersionNumber,
		&v.Status,
		&v.ParentVersionID,
		&v.FeedbackSummary,
		&v.CreatedBy,
		&v.CreatedAt,
		&v.SubmittedBy,
		&v.SubmittedAt,
		&v.DecidedBy,
		&v.DecidedAt,
	)
	return v, err
}

// CreateVersion inserts a new draft version and its seed items in one
// transaction. The version number is assigned inside the insert so numbers
// stay contiguous per phase context; the partial unique index on open
// versions makes exactly one of two concurrent creators win.
func (s *PostgresStore) CreateVersion(ctx context.Context, version Version, items []DecisionItem) (Version, []DecisionItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, nil, fmt.Errorf("begin create version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO review_versions (id, phase_context_id, version_number, status, parent_version_id, created_by)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, 'DRAFT', $3, $4
		FROM review_versions
		WHERE phase_context_id = $2
		RETURNING version_number, created_at
	`, version.ID, version.PhaseContextID, version.ParentVersionID, version.CreatedBy).
		Scan(&version.VersionNumber, &version.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Version{}, nil, ErrOpenVersionExists
		}
		return Version{}, nil, fmt.Errorf("insert version: %w", err)
	}
	version.Status = "DRAFT"

	inserted := make([]DecisionItem, 0, len(items))
	for _, item := range items {
		item.VersionID = version.ID
		if err := insertItemTx(ctx, tx, &item); err != nil {
			return Version{}, nil, err
		}
		if err := insertAuditTx(ctx, tx, AuditEntry{
			PhaseContextID: version.PhaseContextID,
			SubjectType:    SubjectItem,
			SubjectID:      item.ID,
			Action:         ActionItemAdded,
			NewValue:       item.Label,
			Actor:          version.CreatedBy,
		}); err != nil {
			return Version{}, nil, err
		}
		inserted = append(inserted, item)
	}

	if err := insertAuditTx(ctx, tx, AuditEntry{
		PhaseContextID: version.PhaseContextID,
		SubjectType:    SubjectVersion,
		SubjectID:      version.ID,
		Action:         ActionVersionCreated,
		NewValue:       "DRAFT",
		Actor:          version.CreatedBy,
	}); err != nil {
		return Version{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return Version{}, nil, ErrOpenVersionExists
		}
		return Version{}, nil, fmt.Errorf("commit create version: %w", err)
	}
	return version, inserted, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM review_versions
		WHERE id=$1
	`, versionID)
	return scanVersion(row)
}

func (s *PostgresStore) ListVersions(ctx context.Context, phaseContextID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM review_versions
		WHERE phase_context_id=$1
		ORDER BY version_number ASC
	`, phaseContextID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// GetOpenVersion returns the draft or pending version for a context, nil if
// none. The one-open-version index guarantees at most one row.
func (s *PostgresStore) GetOpenVersion(ctx context.Context, phaseContextID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM review_versions
		WHERE phase_context_id=$1 AND status IN ('DRAFT', 'PENDING_APPROVAL')
	`, phaseContextID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open version: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) GetApprovedVersion(ctx context.Context, phaseContextID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM review_versions
		WHERE phase_context_id=$1 AND status='APPROVED'
	`, phaseContextID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approved version: %w", err)
	}
	return &v, nil
}

// LatestVersionWithFeedback finds the carry-forward source: the most recent
// version for the context that has at least one feedback record. A version
// nobody ever reviewed is skipped no matter how recent it is.
func (s *PostgresStore) LatestVersionWithFeedback(ctx context.Context, phaseContextID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM review_versions v
		WHERE phase_context_id=$1
		  AND EXISTS (SELECT 1 FROM feedback_records f WHERE f.version_id = v.id)
		ORDER BY version_number DESC
		LIMIT 1
	`, phaseContextID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version with feedback: %w", err)
	}
	return &v, nil
}

const itemColumns = `id, version_id, label, payload, exempt, preparer_decision,
	preparer_rationale, approver_decision, approver_notes, carried_from_item_id, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (DecisionItem, error) {
	var item DecisionItem
	err := row.Scan(
		&item.ID,
		&item.VersionID,
		&item.Label,
		&item.Payload,
		&item.Exempt,
		&item.PreparerDecision,
		&item.PreparerRationale,
		&item.ApproverDecision,
		&item.ApproverNotes,
		&item.CarriedFromItemID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListItems(ctx context.Context, versionID string) ([]DecisionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM decision_items
		WHERE version_id=$1
		ORDER BY created_at ASC, id ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, versionID, itemID string) (DecisionItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM decision_items
		WHERE version_id=$1 AND id=$2
	`, versionID, itemID)
	return scanItem(row)
}

// InsertItem adds a fresh item to an editable version. The version row is
// share-locked so a concurrent submit cannot freeze the version mid-insert.
func (s *PostgresStore) InsertItem(ctx context.Context, item DecisionItem, actor string) (DecisionItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DecisionItem{}, fmt.Errorf("begin insert item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := lockVersion(ctx, tx, item.VersionID, false)
	if err != nil {
		return DecisionItem{}, err
	}
	if version.Status != "DRAFT" && version.Status != "REJECTED" {
		return DecisionItem{}, ErrVersionFrozen
	}

	if err := insertItemTx(ctx, tx, &item); err != nil {
		return DecisionItem{}, err
	}
	if err := insertAuditTx(ctx, tx, AuditEntry{
		PhaseContextID: version.PhaseContextID,
		SubjectType:    SubjectItem,
		SubjectID:      item.ID,
		Action:         ActionItemAdded,
		NewValue:       item.Label,
		Actor:          actor,
	}); err != nil {
		return DecisionItem{}, err
	}

	if err := tx.Commit(); err != nil {
		return DecisionItem{}, fmt.Errorf("commit insert item: %w", err)
	}
	return item, nil
}

// RecordPreparerDecision writes a preparer decision on one item. Legal only
// while the owning version is a draft. Items of the same version may be
// decided concurrently; only the version status is share-locked.
func (s *PostgresStore) RecordPreparerDecision(ctx context.Context, versionID, itemID, decision, rationale, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin preparer decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := lockVersion(ctx, tx, versionID, false)
	if err != nil {
		return err
	}
	if version.Status != "DRAFT" {
		return ErrVersionNotDraft
	}

	var previous sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE decision_items
		SET preparer_decision=$3, preparer_rationale=$4, updated_at=NOW()
		WHERE version_id=$1 AND id=$2
		RETURNING (SELECT preparer_decision FROM decision_items WHERE version_id=$1 AND id=$2)
	`, versionID, itemID, decision, rationale).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("record preparer decision: %w", err)
	}

	if err := insertAuditTx(ctx, tx, AuditEntry{
		PhaseContextID: version.PhaseContextID,
		SubjectType:    SubjectItem,
		SubjectID:      itemID,
		Action:         ActionPreparerDecision,
		PreviousValue:  previous.String,
		NewValue:       decision,
		Actor:          actor,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit preparer decision: %w", err)
	}
	return nil
}

// RecordApproverDecision writes an approver decision on one item. Legal only
// while the owning version is pending approval.
func (s *PostgresStore) RecordApproverDecision(ctx context.Context, versionID, itemID, decision, notes, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approver decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := lockVersion(ctx, tx, versionID, false)
	if err != nil {
		return err
	}
	if version.Status != "PENDING_APPROVAL" {
		return ErrVersionNotPending
	}

	var previous sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE decision_items
		SET approver_decision=$3, approver_notes=$4, updated_at=NOW()
		WHERE version_id=$1 AND id=$2
		RETURNING (SELECT approver_decision FROM decision_items WHERE version_id=$1 AND id=$2)
	`, versionID, itemID, decision, notes).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("record approver decision: %w", err)
	}

	if err := insertAuditTx(ctx, tx, AuditEntry{
		PhaseContextID: version.PhaseContextID,
		SubjectType:    SubjectItem,
		SubjectID:      itemID,
		Action:         ActionApproverDecision,
		PreviousValue:  previous.String,
		NewValue:       decision,
		Actor:          actor,
	}); err != nil {
		return err
	}

	// Rejections and change requests are mirrored into the feedback
	// channel; notes accompany approvals too when present.
	if decision != "APPROVED" || notes != "" {
		if err := insertFeedbackTx(ctx, tx, FeedbackRecord{
			VersionID:           versionID,
			ItemID:              &itemID,
			Remarks:             notes,
			RequestedChangeType: changeTypeFor(decision),
			DecidedBy:           actor,
		}, version.PhaseContextID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approver decision: %w", err)
	}
	return nil
}

func changeTypeFor(decision string) string {
	switch decision {
	case "REJECTED":
		return "REMOVE"
	case "NEEDS_CHANGES":
		return "CORRECT"
	}
	return ""
}

// SubmitVersion moves a draft to pending approval. Preconditions (at least
// one item, every non-exempt item decided) are checked inside the
// transaction, and all approver fields are wiped so every submission gets a
// clean review pass.
func (s *PostgresStore) SubmitVersion(ctx context.Context, versionID, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := lockVersion(ctx, tx, versionID, true)
	if err != nil {
		return err
	}
	if version.Status != "DRAFT" {
		return ErrVersionNotDraft
	}

	var total, undecided int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT exempt AND preparer_decision IS NULL)
		FROM decision_items
		WHERE version_id=$1
	`, versionID).Scan(&total, &undecided)
	if err != nil {
		return fmt.Errorf("count submit preconditions: %w", err)
	}
	if total == 0 {
		return ErrNoItems
	}
	if undecided > 0 {
		return ErrUndecidedItems
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE decision_items
		SET approver_decision=NULL, approver_notes='', updated_at=NOW()
		WHERE version_id=$1
	`, versionID); err != nil {
		return fmt.Errorf("reset approver fields: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE review_versions
		SET status='PENDING_APPROVAL', submitted_by=$2, submitted_at=NOW()
		WHERE id=$1
	`, versionID, actor); err != nil {
		return fmt.Errorf("submit version: %w", err)
	}

	for _, entry := range []AuditEntry{
		{
			PhaseContextID: version.PhaseContextID,
			SubjectType:    SubjectVersion,
			SubjectID:      versionID,
			Action:         ActionApproverReset,
			Actor:          actor,
		},
		{
			PhaseContextID: version.PhaseContextID,
			SubjectType:    SubjectVersion,
			SubjectID:      versionID,
			Action:         ActionVersionSubmitted,
			PreviousValue:  "DRAFT",
			NewValue:       "PENDING_APPROVAL",
			Actor:          actor,
		},
	} {
		if err := insertAuditTx(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submit: %w", err)
	}
	return nil
}

// FinalizeVersion closes a review pass. On approval the previously approved
// version of the same context is superseded in the same transaction, so no
// reader ever observes zero or two approved versions. Returns the id of the
// superseded version, if any.
func (s *PostgresStore) FinalizeVersion(ctx context.Context, versionID, outcome, notes, actor string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin finalize: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := lockVersion(ctx, tx, versionID, true)
	if err != nil {
		return "", err
	}
	if version.Status != "PENDING_APPROVAL" {
		return "", ErrVersionNotPending
	}

	var unreviewed int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE NOT exempt AND approver_decision IS NULL)
		FROM decision_items
		WHERE version_id=$1
	`, versionID).Scan(&unreviewed)
	if err != nil {
		return "", fmt.Errorf("count finalize preconditions: %w", err)
	}
	if unreviewed > 0 {
		return "", ErrIncompleteReview
	}

	supersededID := ""
	if outcome == "APPROVED" {
		err = tx.QueryRowContext(ctx, `
			UPDATE review_versions
			SET status='SUPERSEDED', decided_by=$2, decided_at=NOW()
			WHERE phase_context_id=$1 AND status='APPROVED'
			RETURNING id
		`, version.PhaseContextID, actor).Scan(&supersededID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("supersede prior version: %w", err)
		}
		if supersededID != "" {
			if err := insertAuditTx(ctx, tx, AuditEntry{
				PhaseContextID: version.PhaseContextID,
				SubjectType:    SubjectVersion,
				SubjectID:      supersededID,
				Action:         ActionVersionSuperseded,
				PreviousValue:  "APPROVED",
				NewValue:       "SUPERSEDED",
				Actor:          actor,
			}); err != nil {
				return "", err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE review_versions
		SET status=$2, feedback_summary=$3, decided_by=$4, decided_at=NOW()
		WHERE id=$1
	`, versionID, outcome, notes, actor); err != nil {
		return "", fmt.Errorf("finalize version: %w", err)
	}

	action := ActionVersionApproved
	if outcome == "REJECTED" {
		action = ActionVersionRejected
		if err := insertFeedbackTx(ctx, tx, FeedbackRecord{
			VersionID: versionID,
			Remarks:   notes,
			DecidedBy: actor,
		}, version.PhaseContextID); err != nil {
			return "", err
		}
	}
	if err := insertAuditTx(ctx, tx, AuditEntry{
		PhaseContextID: version.PhaseContextID,
		SubjectType:    SubjectVersion,
		SubjectID:      versionID,
		Action:         action,
		PreviousValue:  "PENDING_APPROVAL",
		NewValue:       outcome,
		Actor:          actor,
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit finalize: %w", err)
	}
	return supersededID, nil
}

// InsertFeedback appends an explicit feedback record; records are never
// updated or deleted; corrections are new records.
func (s *PostgresStore) InsertFeedback(ctx context.Context, record FeedbackRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert feedback: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var phaseContextID string
	err = tx.QueryRowContext(ctx, `
		SELECT phase_context_id FROM review_versions WHERE id=$1
	`, record.VersionID).Scan(&phaseContextID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lookup feedback version: %w", err)
	}

	if err := insertFeedbackTx(ctx, tx, record, phaseContextID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedback(ctx context.Context, versionID string) ([]FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_id, item_id, remarks, requested_change_type, decided_by, decided_at
		FROM feedback_records
		WHERE version_id=$1
		ORDER BY decided_at ASC, id ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	items := make([]FeedbackRecord, 0)
	for rows.Next() {
		var record FeedbackRecord
		if err := rows.Scan(
			&record.ID,
			&record.VersionID,
			&record.ItemID,
			&record.Remarks,
			&record.RequestedChangeType,
			&record.DecidedBy,
			&record.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, phaseContextID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phase_context_id, subject_type, subject_id, action, previous_value, new_value, actor, created_at
		FROM audit_log
		WHERE phase_context_id=$1
		ORDER BY id ASC
		LIMIT $2
	`, phaseContextID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.PhaseContextID,
			&entry.SubjectType,
			&entry.SubjectID,
			&entry.Action,
			&entry.PreviousValue,
			&entry.NewValue,
			&entry.Actor,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

// IterationMetrics derives compliance counters for a phase context purely
// from audit entries and version timestamps.
func (s *PostgresStore) IterationMetrics(ctx context.Context, phaseContextID string) (IterationMetrics, error) {
	metrics := IterationMetrics{PhaseContextID: phaseContextID}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM review_versions WHERE phase_context_id=$1),
			(SELECT COUNT(*) FROM audit_log WHERE phase_context_id=$1 AND action='VERSION_SUBMITTED'),
			(SELECT COUNT(*) FROM audit_log WHERE phase_context_id=$1 AND action='VERSION_REJECTED')
	`, phaseContextID).Scan(&metrics.VersionCount, &metrics.SubmitCount, &metrics.RejectCount)
	if err != nil {
		return IterationMetrics{}, fmt.Errorf("iteration counts: %w", err)
	}

	var approvedID string
	var seconds int64
	err = s.db.QueryRowContext(ctx, `
		SELECT v.id,
		       EXTRACT(EPOCH FROM (v.decided_at - first.created_at))::bigint
		FROM review_versions v,
		     (SELECT MIN(created_at) AS created_at FROM review_versions WHERE phase_context_id=$1) first
		WHERE v.phase_context_id=$1 AND v.status='APPROVED' AND v.decided_at IS NOT NULL
	`, phaseContextID).Scan(&approvedID, &seconds)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return IterationMetrics{}, fmt.Errorf("time to approval: %w", err)
	}
	if err == nil {
		metrics.ApprovedVersionID = approvedID
		metrics.TimeToApprovalSeconds = &seconds
	}
	return metrics, nil
}

func insertItemTx(ctx context.Context, tx *sql.Tx, item *DecisionItem) error {
	payload := item.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO decision_items (id, version_id, label, payload, exempt, preparer_decision,
			preparer_rationale, approver_decision, approver_notes, carried_from_item_id)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, item.ID, item.VersionID, item.Label, string(payload), item.Exempt, item.PreparerDecision,
		item.PreparerRationale, item.ApproverDecision, item.ApproverNotes, item.CarriedFromItemID).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	item.Payload = payload
	return nil
}

func insertFeedbackTx(ctx context.Context, tx *sql.Tx, record FeedbackRecord, phaseContextID string) error {
	subjectType := SubjectVersion
	subjectID := record.VersionID
	if record.ItemID != nil {
		subjectType = SubjectItem
		subjectID = *record.ItemID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO feedback_records (version_id, item_id, remarks, requested_change_type, decided_by)
		VALUES ($1, $2, $3, $4, $5)
	`, record.VersionID, record.ItemID, record.Remarks, record.RequestedChangeType, record.DecidedBy); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return insertAuditTx(ctx, tx, AuditEntry{
		PhaseContextID: phaseContextID,
		SubjectType:    subjectType,
		SubjectID:      subjectID,
		Action:         ActionFeedbackRecorded,
		NewValue:       record.Remarks,
		Actor:          record.DecidedBy,
	})
}

func insertAuditTx(ctx context.Context, tx *sql.Tx, entry AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (phase_context_id, subject_type, subject_id, action, previous_value, new_value, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.PhaseContextID, entry.SubjectType, entry.SubjectID, entry.Action, entry.PreviousValue, entry.NewValue, entry.Actor)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// lockVersion reads a version row under FOR UPDATE (exclusive, for status
// transitions) or FOR SHARE (item writes, which may run concurrently with
// each other but not with a transition).
func lockVersion(ctx context.Context, tx *sql.Tx, versionID string, exclusive bool) (Version, error) {
	lock := "FOR SHARE"
	if exclusive {
		lock = "FOR UPDATE"
	}
	row := tx.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM review_versions
		WHERE id=$1 `+lock, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, sql.ErrNoRows
	}
	if err != nil {
		return Version{}, fmt.Errorf("lock version: %w", err)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
