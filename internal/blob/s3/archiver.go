package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/streampredict/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// multipartThreshold is the batch size above which uploads go through the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// SettlementLister is the slice of domain.SettlementStore the archiver reads.
type SettlementLister interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementResult, error)
}

// Archiver implements domain.Archiver. Settled records stay in Postgres;
// removing them is a separate step once the archive has been verified.
type Archiver struct {
	writer      domain.BlobWriter
	settlements SettlementLister
	audit       domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, settlements SettlementLister, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, settlements: settlements, audit: audit}
}

// ArchiveSettlement uploads a single result as one JSONL line and returns
// the object key.
func (a *Archiver) ArchiveSettlement(ctx context.Context, result domain.SettlementResult) (string, error) {
	buf, err := marshalJSONL([]domain.SettlementResult{result})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive settlement %s: %w", result.MarketID, err)
	}
	path := settlementPath(result)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL); err != nil {
		return "", fmt.Errorf("s3blob: archive settlement %s: %w", result.MarketID, err)
	}
	return path, nil
}

// ArchiveSettlements writes every result settled before the cutoff into one
// monthly batch file and records the run in the audit log.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := batchPath(before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(results))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
		}
	}
	return count, nil
}

// settlementPath partitions single results by settlement day:
//
//	archive/settlements/2025/01/31/<market_id>.jsonl
func settlementPath(r domain.SettlementResult) string {
	return fmt.Sprintf("archive/settlements/%s/%s.jsonl", r.SettledAt.UTC().Format("2006/01/02"), r.MarketID)
}

// batchPath names a backfill batch by the cutoff month:
//
//	archive/settlements/batch/2025-01.jsonl
func batchPath(before time.Time) string {
	return fmt.Sprintf("archive/settlements/batch/%s.jsonl", before.UTC().Format("2006-01"))
}

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

var _ domain.Archiver = (*Archiver)(nil)
