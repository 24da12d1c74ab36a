package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

type memBlob struct {
	objects     map[string][]byte
	contentType map[string]string
	err         error
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
		m.contentType = make(map[string]string)
	}
	m.objects[path] = b
	m.contentType[path] = contentType
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "application/octet-stream")
}

func TestReportArchiver_Archive(t *testing.T) {
	blob := &memBlob{}
	a := NewReportArchiver(blob, "")
	report := domain.SettlementReport{
		RunID:         "run-42",
		StartedAt:     time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC),
		Advanced:      2,
		TotalCredited: decimal.RequireFromString("12.50"),
	}

	require.NoError(t, a.Archive(context.Background(), report))

	key := "settlement/2026/03/01/run-42.json"
	require.Contains(t, blob.objects, key)
	assert.Equal(t, "application/json", blob.contentType[key])

	var got map[string]any
	require.NoError(t, json.Unmarshal(blob.objects[key], &got))
	assert.Equal(t, "run-42", got["run_id"])
	assert.Equal(t, float64(2), got["advanced"])
}

func TestReportArchiver_Error(t *testing.T) {
	a := NewReportArchiver(&memBlob{err: errors.New("denied")}, "reports")
	assert.Equal(t, "reports/2026/03/01/r.json", a.Key(domain.SettlementReport{RunID: "r", StartedAt: testNow}))
	assert.Error(t, a.Archive(context.Background(), domain.SettlementReport{RunID: "r", StartedAt: testNow}))
}
