package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"netfuse/internal/domain"
)

// ============================================================================
// Error Classification
// ============================================================================

// wrapStoreError classifies a raw driver error into a domain.StoreError.
// Busy/locked/timeout conditions are transient and retried by the service
// layer; corruption becomes the fatal domain.ErrCorrupt.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt") || strings.Contains(msg, "not a database") {
		return &domain.StoreError{Op: op, Err: fmt.Errorf("%w: %v", domain.ErrCorrupt, err)}
	}

	transient := strings.Contains(msg, "busy") ||
		strings.Contains(msg, "locked") ||
		errors.Is(err, context.DeadlineExceeded)
	return &domain.StoreError{Op: op, Transient: transient, Err: err}
}

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// marshalJSON marshals an entity for the data column
func marshalJSON(op string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &domain.StoreError{Op: op, Err: fmt.Errorf("marshal: %w", err)}
	}
	return data, nil
}

// unmarshalJSON unmarshals a data column into an entity. A row that cannot
// be decoded means the store is damaged, not a transient condition.
func unmarshalJSON(op string, data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		return &domain.StoreError{Op: op, Err: fmt.Errorf("%w: undecodable row: %v", domain.ErrCorrupt, err)}
	}
	return nil
}
