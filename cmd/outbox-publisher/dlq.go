package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	"github.com/evpool/evpool-backend/pkg/outbox"
)

type deadLetterReader interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

type pendingReader interface {
	ListUnpublished(limit int) ([]models.OutboxEvent, error)
}

type pendingLine struct {
	ID           string  `json:"id"`
	EventType    string  `json:"event_type"`
	AggregateID  string  `json:"aggregate_id"`
	AttemptCount int     `json:"attempt_count"`
	LastError    *string `json:"last_error,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type deadLetterLine struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	AggregateID  string          `json:"aggregate_id"`
	Reason       string          `json:"reason"`
	Error        string          `json:"error,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	FailedAt     string          `json:"failed_at"`
	Payload      json.RawMessage `json:"payload"`
}

// writeDeadLetters prints a per-reason summary followed by the newest rows
// as JSON lines.
func writeDeadLetters(ctx context.Context, w io.Writer, repo deadLetterReader, filter outbox.DLQFilter) error {
	counts, err := repo.CountByReason(ctx)
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}
	for _, reason := range []enums.OutboxDLQErrorReason{enums.OutboxDLQReasonMaxAttempts, enums.OutboxDLQReasonNonRetryable} {
		fmt.Fprintf(w, "# %s: %d\n", reason, counts[reason])
	}

	rows, err := repo.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	enc := json.NewEncoder(w)
	for _, row := range rows {
		line := deadLetterLine{
			EventID:      row.EventID.String(),
			EventType:    string(row.EventType),
			AggregateID:  row.AggregateID,
			Reason:       string(row.ErrorReason),
			AttemptCount: row.AttemptCount,
			FailedAt:     row.FailedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Payload:      row.Payload,
		}
		if row.ErrorMessage != nil {
			line.Error = *row.ErrorMessage
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

// writePending prints the oldest unpublished outbox rows as JSON lines.
func writePending(w io.Writer, repo pendingReader, limit int) error {
	rows, err := repo.ListUnpublished(limit)
	if err != nil {
		return fmt.Errorf("list pending events: %w", err)
	}
	fmt.Fprintf(w, "# pending: %d\n", len(rows))
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(pendingLine{
			ID:           row.ID.String(),
			EventType:    string(row.EventType),
			AggregateID:  row.AggregateID,
			AttemptCount: row.AttemptCount,
			LastError:    row.LastError,
			CreatedAt:    row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}); err != nil {
			return err
		}
	}
	return nil
}
