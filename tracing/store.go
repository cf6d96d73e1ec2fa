package tracing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/bpmai/llm"
	"github.com/aschepis/bpmai/migrations"
)

// Event kinds stored in trace_events.
const (
	KindSpanStart = "span_start"
	KindSpanEnd   = "span_end"
	KindLLMStart  = "llm_start"
	KindLLMEnd    = "llm_end"
	KindToolStart = "tool_start"
	KindToolEnd   = "tool_end"
	KindEvent     = "event"
)

// TraceRecord is one stored trace.
type TraceRecord struct {
	ID        string
	Name      string
	RunID     string
	Inputs    string // JSON
	Outputs   string // JSON
	Error     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// EventRecord is one stored event of a trace.
type EventRecord struct {
	Seq       int
	Kind      string
	Name      string
	Depth     int
	Attempt   int
	Payload   string // JSON
	Error     string
	CreatedAt time.Time
}

// Store is a Tracer persisting every event to SQLite. Write failures are logged and the
// first one is returned by Finalize.
type Store struct {
	db     *sql.DB
	runID  string
	logger zerolog.Logger

	mu      sync.Mutex
	traceID string
	seq     int
	depth   int
	names   []string // open span names
	err     error
}

// NewStore creates a Store on an already migrated database.
func NewStore(db *sql.DB, runID string, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		runID:  runID,
		logger: logger.With().Str("component", "trace_store").Logger(),
	}
}

// OpenStore opens (or creates) the SQLite database at path and applies migrations.
func OpenStore(path, runID string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open trace database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db, runID, logger), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// TraceID returns the id of the current trace, or "" before the first event.
func (s *Store) TraceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traceID
}

func (s *Store) StartTrace(name string, inputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTrace(name, inputs)
}

// startTrace must be called with s.mu held.
func (s *Store) startTrace(name string, inputs map[string]any) {
	s.traceID = uuid.NewString()
	s.seq = 0
	s.depth = 0
	s.exec(sq.Insert("traces").
		Columns("id", "name", "run_id", "inputs", "started_at").
		Values(s.traceID, name, nullString(s.runID), toJSON(inputs), time.Now().UnixMilli()))
}

func (s *Store) EndTrace(outputs map[string]any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.traceID == "" {
		return
	}
	s.exec(sq.Update("traces").
		Set("outputs", toJSON(outputs)).
		Set("error", nullString(errString(err))).
		Set("ended_at", time.Now().UnixMilli()).
		Where(sq.Eq{"id": s.traceID}))
}

func (s *Store) StartSpan(name string, inputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(KindSpanStart, name, 0, inputs, nil)
	s.names = append(s.names, name)
	s.depth++
}

func (s *Store) EndSpan(outputs map[string]any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := ""
	if n := len(s.names); n > 0 {
		name = s.names[n-1]
		s.names = s.names[:n-1]
	}
	if s.depth > 0 {
		s.depth--
	}
	s.record(KindSpanEnd, name, 0, outputs, err)
}

func (s *Store) StartLLM(call LLMCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(KindLLMStart, call.Provider+"/"+call.Model, call.Attempt, map[string]any{
		"messages": call.Messages,
		"tools":    call.Tools,
	}, nil)
}

func (s *Store) EndLLM(completion *llm.AssistantMessage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var payload any
	if completion != nil {
		payload = completion
	}
	s.record(KindLLMEnd, "completion", 0, payload, err)
}

func (s *Store) StartTool(name string, inputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(KindToolStart, name, 0, inputs, nil)
}

func (s *Store) EndTool(name string, output any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(KindToolEnd, name, 0, output, err)
}

func (s *Store) Event(name string, inputs, outputs map[string]any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(KindEvent, name, 0, map[string]any{"inputs": inputs, "outputs": outputs}, err)
}

// Finalize returns the first write error, if any.
func (s *Store) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// record must be called with s.mu held. Events before any StartTrace open an implicit trace.
func (s *Store) record(kind, name string, attempt int, payload any, err error) {
	if s.traceID == "" {
		s.startTrace("run", nil)
	}
	s.seq++
	var att any
	if attempt > 0 {
		att = attempt
	}
	s.exec(sq.Insert("trace_events").
		Columns("trace_id", "seq", "kind", "name", "depth", "attempt", "payload", "error", "created_at").
		Values(s.traceID, s.seq, kind, name, s.depth, att, toJSON(payload), nullString(errString(err)), time.Now().UnixMilli()))
}

func (s *Store) exec(query sq.Sqlizer) {
	queryStr, args, err := query.ToSql()
	if err == nil {
		_, err = s.db.Exec(queryStr, args...)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write trace record")
		if s.err == nil {
			s.err = fmt.Errorf("write trace record: %w", err)
		}
	}
}

// ListTraces returns the most recent traces first.
func (s *Store) ListTraces(ctx context.Context, limit int) ([]TraceRecord, error) {
	query := sq.Select("id", "name", "run_id", "inputs", "outputs", "error", "started_at", "ended_at").
		From("traces").
		OrderBy("started_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var traces []TraceRecord
	for rows.Next() {
		var tr TraceRecord
		var runID, inputs, outputs, errMsg sql.NullString
		var startedAt int64
		var endedAt sql.NullInt64
		if err := rows.Scan(&tr.ID, &tr.Name, &runID, &inputs, &outputs, &errMsg, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		tr.RunID = runID.String
		tr.Inputs = inputs.String
		tr.Outputs = outputs.String
		tr.Error = errMsg.String
		tr.StartedAt = time.UnixMilli(startedAt)
		if endedAt.Valid {
			tr.EndedAt = lo.ToPtr(time.UnixMilli(endedAt.Int64))
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}

// Events returns the events of a trace in the order they were recorded.
func (s *Store) Events(ctx context.Context, traceID string) ([]EventRecord, error) {
	query := sq.Select("seq", "kind", "name", "depth", "attempt", "payload", "error", "created_at").
		From("trace_events").
		Where(sq.Eq{"trace_id": traceID}).
		OrderBy("seq ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		var attempt sql.NullInt64
		var payload, errMsg sql.NullString
		var createdAt int64
		if err := rows.Scan(&ev.Seq, &ev.Kind, &ev.Name, &ev.Depth, &attempt, &payload, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		ev.Attempt = int(attempt.Int64)
		ev.Payload = payload.String
		ev.Error = errMsg.String
		ev.CreatedAt = time.UnixMilli(createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func toJSON(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
