package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockex/marketd/internal/domain"
)

// memWriter captures uploads in memory, keyed by object path.
type memWriter struct {
	objects map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string]string)}
}

func (w *memWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = string(body)
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return w.Put(ctx, path, data, "")
}

// memTradeStore holds trade records in memory and supports pruning, mirroring
// the archive job's upload-then-delete cycle.
type memTradeStore struct {
	records []domain.TradeRecord
}

func (s *memTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, rec := range s.records {
		if rec.Timestamp.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memTradeStore) prune(before time.Time) {
	kept := s.records[:0]
	for _, rec := range s.records {
		if !rec.Timestamp.Before(before) {
			kept = append(kept, rec)
		}
	}
	s.records = kept
}

func tradeAt(id int64, ts time.Time) domain.TradeRecord {
	return domain.TradeRecord{
		ID:          id,
		Account:     domain.Account{0x0A},
		Direction:   domain.Buy,
		AmountStock: domain.Units(100),
		AmountFiat:  domain.Units(1),
		Timestamp:   ts,
	}
}

func TestArchiveTrades(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads trades before the cutoff as JSONL", func(t *testing.T) {
		writer := newMemWriter()
		store := &memTradeStore{records: []domain.TradeRecord{
			tradeAt(1, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
			tradeAt(2, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)),
		}}

		n, err := NewArchiver(writer, store).ArchiveTrades(ctx, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.Len(t, writer.objects, 1)
		body := writer.objects["archive/trades/2026-08-10T000000Z.jsonl"]
		assert.Contains(t, body, `"id":1`)
		assert.NotContains(t, body, `"id":2`)
		assert.True(t, strings.HasSuffix(body, "\n"))
	})

	t.Run("empty cutoff writes no object", func(t *testing.T) {
		writer := newMemWriter()
		store := &memTradeStore{}

		n, err := NewArchiver(writer, store).ArchiveTrades(ctx, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, writer.objects)
	})

	t.Run("later cycles never overwrite pruned trades", func(t *testing.T) {
		writer := newMemWriter()
		store := &memTradeStore{records: []domain.TradeRecord{
			tradeAt(1, time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)),
			tradeAt(2, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)),
		}}
		archiver := NewArchiver(writer, store)

		// Cycle one: archive and prune everything before Aug 10. After the
		// prune, the uploaded object is trade 1's only copy.
		cutoff1 := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
		n, err := archiver.ArchiveTrades(ctx, cutoff1)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		store.prune(cutoff1)

		// Cycle two in the same month.
		cutoff2 := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
		n, err = archiver.ArchiveTrades(ctx, cutoff2)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
		store.prune(cutoff2)

		// Each cycle wrote its own object and trade 1 is still archived.
		require.Len(t, writer.objects, 2)
		assert.Contains(t, writer.objects["archive/trades/2026-08-10T000000Z.jsonl"], `"id":1`)
		assert.Contains(t, writer.objects["archive/trades/2026-08-20T000000Z.jsonl"], `"id":2`)
	})
}
