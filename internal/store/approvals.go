package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ApprovalStatus is the lifecycle state of an approval record.
type ApprovalStatus string

const (
	ApprovalPending       ApprovalStatus = "pending"
	ApprovalApproved      ApprovalStatus = "approved"
	ApprovalExecuted      ApprovalStatus = "executed"
	ApprovalFailed        ApprovalStatus = "failed"
	ApprovalDeniedByHuman ApprovalStatus = "denied_by_human"
)

// Approval is a persisted approval gate. Records are never deleted;
// they are retained for audit.
type Approval struct {
	ID          int64
	Status      ApprovalStatus
	Tool        string
	Action      string
	Resource    string
	RiskLevel   string
	RequestJSON string
	ResultJSON  string
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateApproval inserts a new pending approval and returns its id.
func (s *Store) CreateApproval(ctx context.Context, a Approval) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (status, tool, action, resource, risk_level, request_json, result_json, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '{}', '', ?, ?)`,
		string(ApprovalPending), a.Tool, a.Action, a.Resource, a.RiskLevel, a.RequestJSON,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert approval: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("approval id: %w", err)
	}
	return id, nil
}

// GetApproval returns one approval by id.
func (s *Store) GetApproval(ctx context.Context, id int64) (Approval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, tool, action, resource, risk_level, request_json, result_json, reason, created_at, updated_at
		FROM approvals WHERE id = ?`, id)
	return scanApproval(row)
}

// ListApprovalsByStatus returns approvals in one status, oldest first.
func (s *Store) ListApprovalsByStatus(ctx context.Context, status ApprovalStatus) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, tool, action, resource, risk_level, request_json, result_json, reason, created_at, updated_at
		FROM approvals WHERE status = ? ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return approvals, nil
}

// TransitionApproval moves an approval from one status to another and
// records the decision reason. The transition runs as a read-then-
// conditional-write inside one transaction so concurrent deciders
// cannot both succeed. It returns ErrNotFound for an unknown id and
// ErrInvalidState when the record is not in the expected status.
func (s *Store) TransitionApproval(ctx context.Context, id int64, from, to ApprovalStatus, reason string) (Approval, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Approval{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, "SELECT status FROM approvals WHERE id = ?", id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return Approval{}, ErrNotFound
		}
		return Approval{}, fmt.Errorf("read approval status: %w", err)
	}
	if ApprovalStatus(current) != from {
		return Approval{}, ErrInvalidState
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE approvals SET status = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), reason, time.Now().UTC().UnixMilli(), id, string(from))
	if err != nil {
		return Approval{}, fmt.Errorf("transition approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Approval{}, err
	}
	if affected == 0 {
		return Approval{}, ErrInvalidState
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, status, tool, action, resource, risk_level, request_json, result_json, reason, created_at, updated_at
		FROM approvals WHERE id = ?`, id)
	a, err := scanApproval(row)
	if err != nil {
		return Approval{}, err
	}

	if err := tx.Commit(); err != nil {
		return Approval{}, fmt.Errorf("commit transition: %w", err)
	}
	return a, nil
}

// CompleteApproval records the execution outcome of an approved
// approval: executed with its result, or failed with the error payload.
func (s *Store) CompleteApproval(ctx context.Context, id int64, to ApprovalStatus, resultJSON string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, result_json = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), resultJSON, time.Now().UTC().UnixMilli(), id, string(ApprovalApproved))
	if err != nil {
		return fmt.Errorf("complete approval: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidState
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (Approval, error) {
	var a Approval
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&a.ID, &status, &a.Tool, &a.Action, &a.Resource, &a.RiskLevel,
		&a.RequestJSON, &a.ResultJSON, &a.Reason, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return Approval{}, ErrNotFound
		}
		return Approval{}, fmt.Errorf("scan approval: %w", err)
	}
	a.Status = ApprovalStatus(status)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return a, nil
}
