package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantfold/marginbot/internal/domain"
)

// ClosedPositionSource is the slice of the position ledger the journal needs:
// closed positions after a cutoff, oldest first.
type ClosedPositionSource interface {
	ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error)
}

// Journal exports closed positions to object storage as newline-delimited
// JSON, one file per day under journal/positions/. Records are never deleted
// from the primary store here; the journal is an append-only export.
type Journal struct {
	writer domain.BlobWriter
	source ClosedPositionSource
	prefix string
}

// NewJournal creates a Journal reading from source and writing through
// writer. prefix is the key prefix inside the bucket; empty means "journal".
func NewJournal(writer domain.BlobWriter, source ClosedPositionSource, prefix string) *Journal {
	if prefix == "" {
		prefix = "journal"
	}
	return &Journal{writer: writer, source: source, prefix: strings.TrimRight(prefix, "/")}
}

// journalRecord is the export schema for one closed position.
type journalRecord struct {
	ID             string                                 `json:"id"`
	Strategy       string                                 `json:"strategy"`
	Symbol         string                                 `json:"symbol"`
	Side           domain.Side                            `json:"side"`
	Size           float64                                `json:"size"`
	EntryPrice     float64                                `json:"entry_price"`
	ExitPrice      *float64                               `json:"exit_price,omitempty"`
	RealizedPnL    *float64                               `json:"realized_pnl,omitempty"`
	CloseReason    domain.CloseReason                     `json:"close_reason,omitempty"`
	ClosingOrderID string                                 `json:"closing_order_id,omitempty"`
	OpenedAt       time.Time                              `json:"opened_at"`
	ClosedAt       *time.Time                             `json:"closed_at,omitempty"`
	Orders         map[domain.OrderRole]domain.ChildOrder `json:"orders,omitempty"`
}

// Archive exports every position closed at or after since and uploads the
// batch to journal/positions/YYYY-MM-DD.jsonl, keyed by the cutoff day. It
// returns the number of exported records; zero records skip the upload.
func (j *Journal) Archive(ctx context.Context, since time.Time) (int64, error) {
	positions, err := j.source.ListClosedSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("s3blob: journal query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, pos := range positions {
		if err := enc.Encode(journalRecord{
			ID:             pos.ID,
			Strategy:       pos.Strategy,
			Symbol:         pos.Symbol,
			Side:           pos.Side,
			Size:           pos.Size,
			EntryPrice:     pos.EntryPrice,
			ExitPrice:      pos.ExitPrice,
			RealizedPnL:    pos.RealizedPnL,
			CloseReason:    pos.CloseReason,
			ClosingOrderID: pos.ClosingOrderID,
			OpenedAt:       pos.OpenedAt,
			ClosedAt:       pos.ClosedAt,
			Orders:         pos.Orders,
		}); err != nil {
			return 0, fmt.Errorf("s3blob: journal encode record %d: %w", i, err)
		}
	}

	path := j.path(since)
	if err := j.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: journal upload: %w", err)
	}
	return int64(len(positions)), nil
}

// path partitions exports by the cutoff day.
//
//	journal/positions/2026-08-28.jsonl
func (j *Journal) path(since time.Time) string {
	return fmt.Sprintf("%s/positions/%s.jsonl", j.prefix, since.UTC().Format("2006-01-02"))
}
