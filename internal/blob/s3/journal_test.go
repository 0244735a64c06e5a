package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marginbot/internal/domain"
)

type captureWriter struct {
	path        string
	contentType string
	data        []byte
	puts        int
}

func (w *captureWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	w.path = path
	w.contentType = contentType
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.data = b
	w.puts++
	return nil
}

type staticSource struct {
	positions []domain.Position
}

func (s staticSource) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	return s.positions, nil
}

func TestJournal_ArchiveWritesDailyJSONL(t *testing.T) {
	exit := 1795.0
	pnl := -77.5
	closed := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	src := staticSource{positions: []domain.Position{
		{
			ID:          "pos-1",
			Strategy:    "trend-1",
			Symbol:      "XETHZUSD",
			Side:        domain.SideLong,
			Size:        0.5,
			Status:      domain.PositionStatusClosed,
			EntryPrice:  1950,
			ExitPrice:   &exit,
			RealizedPnL: &pnl,
			CloseReason: domain.CloseReasonStopLoss,
			ClosedAt:    &closed,
		},
		{ID: "pos-2", Strategy: "trend-1", Symbol: "XXBTZUSD", Side: domain.SideShort, Size: 0.01},
	}}

	w := &captureWriter{}
	j := NewJournal(w, src, "")

	n, err := j.Archive(context.Background(), time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, "journal/positions/2026-08-28.jsonl", w.path)
	assert.Equal(t, "application/x-ndjson", w.contentType)

	scanner := bufio.NewScanner(bytes.NewReader(w.data))
	var lines []map[string]any
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "pos-1", lines[0]["id"])
	assert.Equal(t, "stop_loss", lines[0]["close_reason"])
	assert.Equal(t, -77.5, lines[0]["realized_pnl"])
	_, hasExit := lines[1]["exit_price"]
	assert.False(t, hasExit, "omitted fields stay off the record")
}

func TestJournal_NothingClosedSkipsUpload(t *testing.T) {
	w := &captureWriter{}
	j := NewJournal(w, staticSource{}, "archive")

	n, err := j.Archive(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, w.puts)
}
