package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// multipartThreshold is the payload size above which archive uploads switch
// to the multipart path.
const multipartThreshold = 8 * 1024 * 1024

// Uploader is the write surface the archiver needs. Satisfied by Writer.
type Uploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// TradeArchiveSource provides the settled trades eligible for archival.
// Satisfied by the Postgres BankrollStore.
type TradeArchiveSource interface {
	ListTradesBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
}

// OpportunityArchiveSource provides the opportunity history eligible for
// archival. Satisfied by the Postgres OpportunityStore.
type OpportunityArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error)
}

// Archiver implements domain.Archiver: it queries the stores for records
// older than a cutoff, serializes them to JSONL, and uploads the result to
// object storage. Deleting archived rows from the primary store is a
// separate, explicit step to run after the archive has been verified.
type Archiver struct {
	writer Uploader
	trades TradeArchiveSource
	opps   OpportunityArchiveSource
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. The audit store may be nil, in which case
// archive events are not recorded.
func NewArchiver(writer Uploader, trades TradeArchiveSource, opps OpportunityArchiveSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		opps:   opps,
		audit:  audit,
	}
}

// ArchiveTrades uploads all trades settled before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the number of records archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListTradesBefore(ctx, before)
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
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	if err := a.logArchive(ctx, "archive.trades", path, count, before); err != nil {
		return count, err
	}
	return count, nil
}

// ArchiveOpportunities uploads all opportunities detected before the cutoff
// to archive/opportunities/YYYY-MM.jsonl and returns the number archived.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opps.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	if len(opps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath("opportunities", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	count := int64(len(opps))
	if err := a.logArchive(ctx, "archive.opportunities", path, count, before); err != nil {
		return count, err
	}
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

func (a *Archiver) logArchive(ctx context.Context, event, path string, count int64, before time.Time) error {
	if a.audit == nil {
		return nil
	}
	err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON, one compact
// object per line.
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
