package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PostgresSink writes audit events to the audit_events table
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a database-backed sink. The table is created by the storage migrations.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Record inserts the event and sets event.ID
func (s *PostgresSink) Record(ctx context.Context, event *Event) error {
	var changesJSON, metadataJSON []byte
	var err error

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			occurred_at, event_type, status,
			tenant_id, actor_id,
			resource_type, resource_id,
			request_id, message, changes, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.Type), string(event.Status),
		nullableUUID(event.TenantID), nullableUUID(event.ActorID),
		nullString(string(event.ResourceType)), nullString(event.ResourceID),
		nullString(event.RequestID), event.Message, nullJSON(changesJSON), nullJSON(metadataJSON),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
