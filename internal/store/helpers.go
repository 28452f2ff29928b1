package store

import (
	"database/sql"
	"fmt"

	"github.com/triqapp/smsgateway/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanRetryItem scans a RetryItem from sql.Rows.
func scanRetryItem(rows *sql.Rows) (RetryItem, error) {
	var item RetryItem
	var msgType, status string
	var lastError sql.NullString
	err := rows.Scan(
		&item.ID, &item.Recipient, &item.Body, &msgType, &status, &item.Attempts,
		&lastError, &item.NextRetryAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return item, fmt.Errorf("scan retry item failed: %w", err)
	}
	item.Type = models.MessageType(msgType)
	item.Status = RetryStatus(status)
	item.LastError = lastError.String
	return item, nil
}
