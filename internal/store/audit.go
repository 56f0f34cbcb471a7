package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditSchemaVersion tags every persisted audit entry so downstream
// consumers can detect format evolution.
const AuditSchemaVersion = 1

// AuditEntry is one immutable audit record. Entries are append-only:
// no update or delete path exists.
type AuditEntry struct {
	ID            int64
	Timestamp     time.Time
	AgentID       string
	Tool          string
	Action        string
	Resource      string
	RiskLevel     string
	SchemaVersion int
	Status        string
	RequestJSON   string
	ResponseJSON  string
	ApprovalID    *int64
	Message       string
}

// AppendAudit appends one audit entry as a single atomic insert and
// returns its id.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = AuditSchemaVersion
	}
	if e.ResponseJSON == "" {
		e.ResponseJSON = "{}"
	}

	var approvalID any
	if e.ApprovalID != nil {
		approvalID = *e.ApprovalID
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, agent_id, tool, action, resource, risk_level, schema_version, status, request_json, response_json, approval_id, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.AgentID, e.Tool, e.Action, e.Resource, e.RiskLevel,
		e.SchemaVersion, e.Status, e.RequestJSON, e.ResponseJSON, approvalID, e.Message)
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	return result.LastInsertId()
}

// ListAudit returns all audit entries newest-first.
func (s *Store) ListAudit(ctx context.Context) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, agent_id, tool, action, resource, risk_level, schema_version, status, request_json, response_json, approval_id, message
		FROM audit_log ORDER BY ts DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		var approvalID sql.NullInt64
		if err := rows.Scan(&e.ID, &ts, &e.AgentID, &e.Tool, &e.Action, &e.Resource,
			&e.RiskLevel, &e.SchemaVersion, &e.Status, &e.RequestJSON, &e.ResponseJSON,
			&approvalID, &e.Message); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		if approvalID.Valid {
			id := approvalID.Int64
			e.ApprovalID = &id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
