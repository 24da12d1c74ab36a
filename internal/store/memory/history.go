package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

var (
	_ domain.SettlementRunStore = (*RunStore)(nil)
	_ domain.AuditStore         = (*AuditStore)(nil)
)

// RunStore keeps settlement reports in insertion order.
type RunStore struct {
	mu   sync.Mutex
	runs []domain.SettlementReport
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore { return &RunStore{} }

// Record stores a settlement report.
func (s *RunStore) Record(_ context.Context, report domain.SettlementReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, report)
	return nil
}

// ListRecent returns up to limit reports, newest first. limit <= 0 means all.
func (s *RunStore) ListRecent(_ context.Context, limit int) ([]domain.SettlementReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]domain.SettlementReport, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

// AuditStore is an append-only in-memory audit log.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore { return &AuditStore{now: time.Now} }

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}
