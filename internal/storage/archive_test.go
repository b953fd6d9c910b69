package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/domain"
)

type fakeS3 struct {
	objects map[string]string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(in.Body)
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[*in.Bucket+"/"+*in.Key] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestRunArchive_Flush(t *testing.T) {
	client := &fakeS3{}
	a := NewRunArchive(client, "sync-archive", "mailchimp", "run-1")
	ctx := context.Background()

	require.NoError(t, a.Emit(ctx, domain.Succeeded("m1", "ext-1")))
	require.NoError(t, a.Emit(ctx, domain.Failed("ext-2", "email is required", domain.ErrCodeEmailRequired)))
	require.NoError(t, a.WriteRaw(ctx, "orders", []json.RawMessage{json.RawMessage(`{ "id": 1 }`)}))
	require.NoError(t, a.Flush(ctx))

	outcomes := client.objects["sync-archive/mailchimp/runs/run-1/outcomes.jsonl"]
	lines := strings.Split(strings.TrimSpace(outcomes), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"success":true,"id":"m1","externalId":"ext-1"}`, lines[0])
	assert.Contains(t, lines[1], `"hg_error_class":"EmailRequired"`)

	assert.Equal(t, "{\"id\":1}\n", client.objects["sync-archive/mailchimp/runs/run-1/raw/orders.jsonl"])
}

func TestRunArchive_EmptyFlushWritesNothing(t *testing.T) {
	client := &fakeS3{}
	a := NewRunArchive(client, "b", "", "run-2")
	require.NoError(t, a.Flush(context.Background()))
	assert.Empty(t, client.objects)
}

func TestRunArchive_PutError(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	a := NewRunArchive(client, "b", "", "run-3")
	require.NoError(t, a.Emit(context.Background(), domain.Succeeded("m", "e")))

	err := a.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestRunArchive_InvalidRawRecord(t *testing.T) {
	a := NewRunArchive(&fakeS3{}, "b", "", "run-4")
	err := a.WriteRaw(context.Background(), "orders", []json.RawMessage{json.RawMessage(`{broken`)})
	assert.Error(t, err)
}
