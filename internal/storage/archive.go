package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/contact-sync/internal/domain"
)

// S3PutAPI is the part of the S3 client the archive writes with.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// RunArchive buffers a run's outcomes and passthrough records and uploads
// them as JSON lines under <prefix>/runs/<run-id>/ when flushed.
type RunArchive struct {
	client S3PutAPI
	bucket string
	prefix string
	runID  string

	mu       sync.Mutex
	outcomes bytes.Buffer
	raw      map[string]*bytes.Buffer
}

func NewRunArchive(client S3PutAPI, bucket, prefix, runID string) *RunArchive {
	return &RunArchive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		runID:  runID,
		raw:    make(map[string]*bytes.Buffer),
	}
}

// OutcomesKey is the object key of the run's outcome log.
func (a *RunArchive) OutcomesKey() string {
	return path.Join(a.prefix, "runs", a.runID, "outcomes.jsonl")
}

// RawKey is the object key holding passthrough records of stream.
func (a *RunArchive) RawKey(stream string) string {
	return path.Join(a.prefix, "runs", a.runID, "raw", stream+".jsonl")
}

func (a *RunArchive) Emit(_ context.Context, o domain.Outcome) error {
	line, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes.Write(line)
	a.outcomes.WriteByte('\n')
	return nil
}

// WriteRaw keeps records of a stream that bypasses the contact engine.
func (a *RunArchive) WriteRaw(_ context.Context, stream string, records []json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.raw[stream]
	if !ok {
		buf = &bytes.Buffer{}
		a.raw[stream] = buf
	}
	for _, r := range records {
		if err := json.Compact(buf, r); err != nil {
			return fmt.Errorf("archiving %s record: %w", stream, err)
		}
		buf.WriteByte('\n')
	}
	return nil
}

// Flush uploads everything buffered so far. Objects are rewritten whole, so
// calling it again after more writes replaces them with the longer log.
func (a *RunArchive) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.outcomes.Len() > 0 {
		if err := a.put(ctx, a.OutcomesKey(), a.outcomes.Bytes()); err != nil {
			return err
		}
	}

	streams := make([]string, 0, len(a.raw))
	for s := range a.raw {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	for _, s := range streams {
		if err := a.put(ctx, a.RawKey(s), a.raw[s].Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (a *RunArchive) put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}
