package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stockex/marketd/internal/domain"
)

// TradeArchiveStore provides the read access the archiver needs. The
// Postgres trade store satisfies it through its ListBefore method; deletion
// of archived rows is a separate, explicit step executed by the archive job
// only after the upload has succeeded.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// Archiver exports trades older than a cutoff as JSONL objects in S3, one
// object per cycle, keyed by the cutoff timestamp.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
	}
}

// ArchiveTrades queries all trades before the cutoff, serialises them to
// JSONL, and uploads the file under a key derived from the cutoff. It
// returns the number of archived records; zero with a nil error means there
// was nothing to archive and no object was written.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// archivePath builds the S3 key for an archive file. The full cutoff
// timestamp keeps the key unique per cycle: archived rows are pruned from
// the primary store afterwards, so a later cycle reusing a key would
// overwrite the only remaining copy of the earlier rows.
//
//	archive/trades/2026-08-10T120000Z.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
