package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// singerMessage is a line of a Singer tap's output.
type singerMessage struct {
	Type   string          `json:"type"`
	Stream string          `json:"stream"`
	Record json.RawMessage `json:"record"`
	Value  json.RawMessage `json:"value"`
}

var singerTypes = map[string]bool{
	"RECORD":           true,
	"SCHEMA":           true,
	"STATE":            true,
	"ACTIVATE_VERSION": true,
	"BATCH":            true,
}

// JSONLSource reads newline-delimited JSON. Each line is either a bare record
// or a Singer message; SCHEMA lines are ignored and a STATE line flushes every
// pending batch. Records are grouped per stream and a batch is released once
// a stream reaches the batch size or the input ends.
type JSONLSource struct {
	r        *bufio.Reader
	closer   io.Closer
	stream   string
	maxBatch int

	line    int
	pending map[string][]json.RawMessage
	order   []string
	ready   []*Batch
	state   json.RawMessage
	done    bool
}

// NewJSONLSource reads from r. defaultStream names bare records; maxBatch
// defaults to DefaultMaxBatchRecords. If r is an io.Closer, Close closes it.
func NewJSONLSource(r io.Reader, defaultStream string, maxBatch int) *JSONLSource {
	if defaultStream == "" {
		defaultStream = DefaultStream
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchRecords
	}
	s := &JSONLSource{
		r:        bufio.NewReaderSize(r, 64*1024),
		stream:   defaultStream,
		maxBatch: maxBatch,
		pending:  make(map[string][]json.RawMessage),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// State returns the value of the last Singer STATE message seen.
func (s *JSONLSource) State() json.RawMessage { return s.state }

func (s *JSONLSource) Next(ctx context.Context) (*Batch, error) {
	for len(s.ready) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.readLine(); err != nil {
			return nil, err
		}
	}
	b := s.ready[0]
	s.ready = s.ready[1:]
	return b, nil
}

func (s *JSONLSource) readLine() error {
	data, err := s.r.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read line %d: %w", s.line+1, err)
	}
	if errors.Is(err, io.EOF) {
		s.done = true
		defer s.flushAll()
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	s.line++

	if !json.Valid(data) || data[0] != '{' {
		return fmt.Errorf("line %d: not a JSON object", s.line)
	}
	var msg singerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		// A record whose own "type" or "stream" is not a string.
		msg = singerMessage{}
	}

	kind := strings.ToUpper(msg.Type)
	if !singerTypes[kind] {
		s.add(s.stream, json.RawMessage(append([]byte(nil), data...)))
		return nil
	}

	switch kind {
	case "RECORD":
		stream := msg.Stream
		if stream == "" {
			stream = s.stream
		}
		if len(msg.Record) == 0 {
			return fmt.Errorf("line %d: RECORD message without record", s.line)
		}
		s.add(stream, msg.Record)
	case "STATE":
		s.state = msg.Value
		s.flushAll()
	}
	return nil
}

func (s *JSONLSource) add(stream string, rec json.RawMessage) {
	if _, ok := s.pending[stream]; !ok {
		s.order = append(s.order, stream)
	}
	s.pending[stream] = append(s.pending[stream], rec)
	if len(s.pending[stream]) >= s.maxBatch {
		s.flush(stream)
	}
}

func (s *JSONLSource) flush(stream string) {
	recs := s.pending[stream]
	if len(recs) > 0 {
		s.ready = append(s.ready, &Batch{Stream: stream, Records: recs})
	}
	delete(s.pending, stream)
	for i, name := range s.order {
		if name == stream {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *JSONLSource) flushAll() {
	for len(s.order) > 0 {
		s.flush(s.order[0])
	}
}

func (s *JSONLSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
