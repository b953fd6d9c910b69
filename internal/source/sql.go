package source

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/snowflakedb/gosnowflake"
)

// jsonColumns hold collections serialised as JSON text.
var jsonColumns = map[string]bool{
	"addresses":     true,
	"phone_numbers": true,
	"custom_fields": true,
	"lists":         true,
	"tags":          true,
}

// columnKeys renames columns whose record key is not simply lowercase.
var columnKeys = map[string]string{
	"externalid":  "externalId",
	"external_id": "externalId",
}

// SnowflakeConfig identifies a Snowflake warehouse.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`
}

// DSN builds the driver connection string.
func (c SnowflakeConfig) DSN() (string, error) {
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:   c.Account,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		Schema:    c.Schema,
		Warehouse: c.Warehouse,
		Role:      c.Role,
	})
}

// OpenDB opens a pooled connection for driver "snowflake" or "postgres".
func OpenDB(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "snowflake", "postgres":
	default:
		return nil, fmt.Errorf("%w: sql driver %q", ErrUnsupportedKind, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// SQLSource turns the rows of a query into records of one stream. Column
// names are lowercased; JSON text in collection columns is decoded.
type SQLSource struct {
	db       *sql.DB
	query    string
	args     []any
	stream   string
	maxBatch int

	rows    *sql.Rows
	columns []string
	done    bool
}

func NewSQLSource(db *sql.DB, query, stream string, maxBatch int, args ...any) *SQLSource {
	if stream == "" {
		stream = DefaultStream
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchRecords
	}
	return &SQLSource{db: db, query: query, args: args, stream: stream, maxBatch: maxBatch}
}

func (s *SQLSource) Next(ctx context.Context) (*Batch, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.rows == nil {
		rows, err := s.db.QueryContext(ctx, s.query, s.args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query records: %w", err)
		}
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read columns: %w", err)
		}
		s.rows = rows
		s.columns = make([]string, len(cols))
		for i, c := range cols {
			key := strings.ToLower(strings.TrimSpace(c))
			if renamed, ok := columnKeys[key]; ok {
				key = renamed
			}
			s.columns[i] = key
		}
	}

	batch := &Batch{Stream: s.stream}
	for len(batch.Records) < s.maxBatch {
		if !s.rows.Next() {
			s.done = true
			if err := s.rows.Err(); err != nil {
				return nil, fmt.Errorf("failed to iterate records: %w", err)
			}
			break
		}
		rec, err := s.scan()
		if err != nil {
			return nil, err
		}
		batch.Records = append(batch.Records, rec)
	}

	if len(batch.Records) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *SQLSource) scan() (json.RawMessage, error) {
	values := make([]any, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec := make(map[string]any, len(s.columns))
	for i, col := range s.columns {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if str, ok := v.(string); ok && jsonColumns[col] {
			trimmed := strings.TrimSpace(str)
			if trimmed == "" {
				v = nil
			} else {
				var decoded any
				dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
				dec.UseNumber()
				if err := dec.Decode(&decoded); err == nil {
					v = decoded
				}
			}
		}
		rec[col] = v
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func (s *SQLSource) Close() error {
	if s.rows != nil {
		return s.rows.Close()
	}
	return nil
}
