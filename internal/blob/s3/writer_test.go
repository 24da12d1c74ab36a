package s3blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	c := &Client{prefix: "archive"}
	assert.Equal(t, "archive/settlement/a.json", c.objectKey("/settlement/a.json"))
	assert.Equal(t, "settlement/a.json", (&Client{}).objectKey("settlement/a.json"))
}

func TestWriter_Put(t *testing.T) {
	var (
		mu          sync.Mutex
		gotPath     string
		gotBody     string
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		b, _ := io.ReadAll(r.Body)
		gotPath, gotBody, contentType = r.URL.Path, string(b), r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "reports",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
		KeyPrefix:      "ecovest",
	})
	require.NoError(t, err)

	err = NewWriter(c).Put(context.Background(), "settlement/2026/03/01/r.json",
		strings.NewReader(`{"run_id":"r"}`), "application/json")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/reports/ecovest/settlement/2026/03/01/r.json", gotPath)
	assert.Contains(t, gotBody, `{"run_id":"r"}`)
	assert.Equal(t, "application/json", contentType)
}
