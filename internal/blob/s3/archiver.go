package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// multipartThreshold is the payload size above which the archiver switches
// to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// TransactionArchiver writes batches of evicted transaction records to object
// storage as JSON Lines, one object per batch. It implements
// domain.TransactionArchive.
type TransactionArchiver struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewTransactionArchiver creates an archiver that writes under prefix.
func NewTransactionArchiver(writer domain.BlobWriter, prefix string) *TransactionArchiver {
	return &TransactionArchiver{writer: writer, prefix: prefix, now: time.Now}
}

// ArchiveTransactions uploads recs as one JSONL object. An empty batch
// writes nothing.
func (a *TransactionArchiver) ArchiveTransactions(ctx context.Context, recs []domain.TransactionRecord) error {
	if len(recs) == 0 {
		return nil
	}

	data, err := marshalJSONL(recs)
	if err != nil {
		return fmt.Errorf("s3blob: marshal transactions: %w", err)
	}

	key := a.objectKey()
	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(data), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(data), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %d transactions: %w", len(recs), err)
	}
	return nil
}

// objectKey partitions objects by UTC day, e.g.
// transactions/2026/03/01/20260301T120000Z-<uuid>.jsonl.
func (a *TransactionArchiver) objectKey() string {
	ts := a.now().UTC()
	name := fmt.Sprintf("%s-%s.jsonl", ts.Format("20060102T150405Z"), uuid.NewString())
	return path.Join(a.prefix, ts.Format("2006/01/02"), name)
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var _ domain.TransactionArchive = (*TransactionArchiver)(nil)
