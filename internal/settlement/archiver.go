package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// ReportArchiver uploads every finished report as JSON to object storage
// under <prefix>/YYYY/MM/DD/<run_id>.json.
type ReportArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewReportArchiver creates a ReportArchiver. An empty prefix defaults to
// "settlement".
func NewReportArchiver(writer domain.BlobWriter, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "settlement"
	}
	return &ReportArchiver{writer: writer, prefix: prefix}
}

// Key returns the object key for a report.
func (a *ReportArchiver) Key(report domain.SettlementReport) string {
	return path.Join(a.prefix, report.StartedAt.UTC().Format("2006/01/02"), report.RunID+".json")
}

// Archive implements ReportSink.
func (a *ReportArchiver) Archive(ctx context.Context, report domain.SettlementReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("settlement: marshal report %s: %w", report.RunID, err)
	}
	key := a.Key(report)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("settlement: archive report to %s: %w", key, err)
	}
	return nil
}
