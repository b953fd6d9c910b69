package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, src Source) []*Batch {
	t.Helper()
	var out []*Batch
	for {
		b, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, b)
	}
}

func TestJSONLSource_BareRecords(t *testing.T) {
	input := `{"email":"a@x.com"}

{"email":"b@x.com","type":"person"}
{"email":"c@x.com"}`
	src := NewJSONLSource(strings.NewReader(input), "", 2)

	batches := drain(t, src)
	require.Len(t, batches, 2)
	assert.Equal(t, DefaultStream, batches[0].Stream)
	assert.Len(t, batches[0].Records, 2)
	assert.JSONEq(t, `{"email":"c@x.com"}`, string(batches[1].Records[0]))
}

func TestJSONLSource_SingerMessages(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"SCHEMA","stream":"customers","schema":{},"key_properties":["externalId"]}`,
		`{"type":"RECORD","stream":"customers","record":{"externalId":"1","email":"a@x.com"}}`,
		`{"type":"RECORD","stream":"orders","record":{"externalId":"o-1"}}`,
		`{"type":"RECORD","stream":"customers","record":{"externalId":"2","email":"b@x.com"}}`,
		`{"type":"STATE","value":{"bookmarks":{"customers":"2026-01-01"}}}`,
		`{"type":"RECORD","stream":"customers","record":{"externalId":"3","email":"c@x.com"}}`,
	}, "\n") + "\n"
	src := NewJSONLSource(strings.NewReader(input), "", 0)

	batches := drain(t, src)
	require.Len(t, batches, 3)
	assert.Equal(t, "customers", batches[0].Stream)
	assert.Len(t, batches[0].Records, 2)
	assert.Equal(t, "orders", batches[1].Stream)
	assert.Equal(t, "customers", batches[2].Stream)
	assert.Len(t, batches[2].Records, 1)
	assert.JSONEq(t, `{"bookmarks":{"customers":"2026-01-01"}}`, string(src.State()))
}

func TestJSONLSource_StreamReachesBatchSize(t *testing.T) {
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, `{"type":"RECORD","stream":"contacts","record":{"email":"x@x.com"}}`)
	}
	src := NewJSONLSource(strings.NewReader(strings.Join(lines, "\n")), "", 2)

	batches := drain(t, src)
	require.Len(t, batches, 3)
	assert.Len(t, batches[2].Records, 1)
}

func TestJSONLSource_InvalidLine(t *testing.T) {
	src := NewJSONLSource(strings.NewReader("{\"email\":\"a@x.com\"}\n[1,2]\n"), "", 0)
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

type fakeS3 struct {
	body   string
	bucket string
	key    string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestOpenS3(t *testing.T) {
	client := &fakeS3{body: `{"type":"RECORD","stream":"contacts","record":{"email":"a@x.com"}}` + "\n"}
	src, err := OpenS3(context.Background(), client, "exports", "daily/contacts.jsonl", "", 0)
	require.NoError(t, err)
	defer src.Close()

	batches := drain(t, src)
	require.Len(t, batches, 1)
	assert.Equal(t, "exports", client.bucket)
	assert.Equal(t, "daily/contacts.jsonl", client.key)
}

func TestSQLSource_RowsBecomeRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"EXTERNALID", "EMAIL", "LISTS", "ADDRESSES", "TAGS"}).
		AddRow(int64(101), []byte("a@x.com"), `["VIP/Gold"]`, `[{"line1":"1 Main St","city":"X","state":"CA","postalCode":"1"}]`, nil).
		AddRow("102", "b@x.com", "", "not json", `["vip"]`).
		AddRow("103", "c@x.com", nil, nil, nil)
	mock.ExpectQuery("SELECT (.+) FROM CONTACTS").WillReturnRows(rows)

	src := NewSQLSource(db, "SELECT * FROM CONTACTS", "customers", 2)
	batches := drain(t, src)
	require.NoError(t, src.Close())
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, batches, 2)
	assert.Equal(t, "customers", batches[0].Stream)
	require.Len(t, batches[0].Records, 2)
	require.Len(t, batches[1].Records, 1)

	var first map[string]any
	require.NoError(t, json.Unmarshal(batches[0].Records[0], &first))
	assert.Equal(t, float64(101), first["externalId"])
	assert.Equal(t, "a@x.com", first["email"])
	assert.Equal(t, []any{"VIP/Gold"}, first["lists"])
	assert.IsType(t, []any{}, first["addresses"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(batches[0].Records[1], &second))
	assert.Nil(t, second["lists"])
	assert.Equal(t, "not json", second["addresses"])
	assert.Equal(t, []any{"vip"}, second["tags"])
}

func TestSQLSource_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("warehouse suspended"))
	src := NewSQLSource(db, "SELECT 1", "", 0)

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse suspended")
}

func TestOpenDB_UnknownDriver(t *testing.T) {
	_, err := OpenDB("mysql", "dsn")
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestSnowflakeDSN(t *testing.T) {
	dsn, err := SnowflakeConfig{
		Account: "acme-xy12345", User: "sync", Password: "pw",
		Database: "CRM", Schema: "PUBLIC", Warehouse: "ETL_WH",
	}.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "sync:pw@")
	assert.Contains(t, dsn, "warehouse=ETL_WH")
}
