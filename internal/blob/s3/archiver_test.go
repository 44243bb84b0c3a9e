package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

type putCall struct {
	path        string
	contentType string
	multipart   bool
	body        []byte
}

type memWriter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	return m.record(putCall{path: path, contentType: contentType}, data)
}

func (m *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return m.record(putCall{path: path, multipart: true}, data)
}

func (m *memWriter) record(c putCall, data io.Reader) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	c.body = b
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
	return nil
}

func records(n int) []domain.TransactionRecord {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]domain.TransactionRecord, n)
	for i := range out {
		out[i] = domain.TransactionRecord{
			ID: "tx-" + string(rune('a'+i%26)), TradeID: "t1", LegIndex: i,
			Venue: "x", State: domain.TxSucceeded, SubmittedAt: at, UpdatedAt: at,
		}
	}
	return out
}

func TestTransactionArchiverWritesJSONL(t *testing.T) {
	w := &memWriter{}
	a := NewTransactionArchiver(w, "transactions")
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) }

	require.NoError(t, a.ArchiveTransactions(context.Background(), records(3)))
	require.Len(t, w.calls, 1)

	call := w.calls[0]
	assert.True(t, strings.HasPrefix(call.path, "transactions/2026/03/01/20260301T123000Z-"), call.path)
	assert.True(t, strings.HasSuffix(call.path, ".jsonl"))
	assert.Equal(t, "application/x-ndjson", call.contentType)
	assert.False(t, call.multipart)

	sc := bufio.NewScanner(bytes.NewReader(call.body))
	var lines int
	for sc.Scan() {
		var rec domain.TransactionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, lines, rec.LegIndex)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestTransactionArchiverEmptyAndErrors(t *testing.T) {
	w := &memWriter{}
	a := NewTransactionArchiver(w, "tx")
	require.NoError(t, a.ArchiveTransactions(context.Background(), nil))
	assert.Empty(t, w.calls)

	w.err = errors.New("bucket gone")
	err := a.ArchiveTransactions(context.Background(), records(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestTransactionArchiverLargeBatchUsesMultipart(t *testing.T) {
	w := &memWriter{}
	a := NewTransactionArchiver(w, "tx")

	big := records(1)
	big[0].LastError = strings.Repeat("x", multipartThreshold+1)
	require.NoError(t, a.ArchiveTransactions(context.Background(), big))
	require.Len(t, w.calls, 1)
	assert.True(t, w.calls[0].multipart)
}

func TestWriterPutAgainstS3Endpoint(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "archive", client.Bucket())

	a := NewTransactionArchiver(NewWriter(client), "transactions")
	require.NoError(t, a.ArchiveTransactions(context.Background(), records(2)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/archive/transactions/"), path)
	assert.Contains(t, string(body), `"trade_id":"t1"`)
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	require.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}
