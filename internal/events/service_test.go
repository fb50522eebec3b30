package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/fingerprint"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock event store ---

type mockEventStore struct {
	mu        sync.Mutex
	inserted  []*models.Event
	batches   [][]*models.Event
	insertErr error

	timeline       map[int]int
	timelineFilter store.EventFilter
	timelineWidth  time.Duration
	levels         map[models.Level]int
}

func (m *mockEventStore) InsertEvent(_ context.Context, e *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, e)
	return nil
}
func (m *mockEventStore) InsertEvents(_ context.Context, events []*models.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.batches = append(m.batches, events)
	return int64(len(events)), nil
}
func (m *mockEventStore) GetEvent(_ context.Context, _ uuid.UUID, _ []uuid.UUID) (*models.Event, error) {
	return nil, store.ErrNotFound
}
func (m *mockEventStore) ListEvents(_ context.Context, _ store.EventFilter) ([]*models.Event, error) {
	return nil, nil
}
func (m *mockEventStore) CountEvents(_ context.Context, _ store.EventFilter) (int, error) {
	return 0, nil
}
func (m *mockEventStore) HasEarlierEvents(_ context.Context, _ *models.Event) (bool, error) {
	return false, nil
}
func (m *mockEventStore) CountEventsByLevel(_ context.Context, _ []uuid.UUID, _ time.Time) (map[models.Level]int, error) {
	return m.levels, nil
}
func (m *mockEventStore) RecentEventTypes(_ context.Context, _ []uuid.UUID, _ time.Time, _ int) ([]models.TypeCount, error) {
	return nil, nil
}
func (m *mockEventStore) EventTimeline(_ context.Context, f store.EventFilter, width time.Duration) (map[int]int, error) {
	m.timelineFilter = f
	m.timelineWidth = width
	return m.timeline, nil
}
func (m *mockEventStore) ListEnvironments(_ context.Context, _ []uuid.UUID) ([]string, error) {
	return nil, nil
}
func (m *mockEventStore) DeleteEventsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// --- recording collaborators ---

type recordingPublisher struct {
	mu      sync.Mutex
	events  []*models.Event
	batches []int
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e *models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}
func (p *recordingPublisher) PublishBatch(_ context.Context, _ uuid.UUID, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, count)
}

type recordingEvaluator struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recordingEvaluator) Evaluate(_ context.Context, e *models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type panickingEvaluator struct{}

func (panickingEvaluator) Evaluate(context.Context, *models.Event) { panic("rule exploded") }

func newTestService(s store.EventStore, p Publisher, e Evaluator) *Service {
	return NewService(s, p, e, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// --- Create ---

func TestCreate_DefaultsAndEnrichment(t *testing.T) {
	ms := &mockEventStore{}
	svc := newTestService(ms, nil, nil)
	projectID := uuid.New()

	before := time.Now().UTC().Add(-time.Second)
	e, err := svc.Create(context.Background(), projectID, Input{Type: "error", Message: "boom"})
	require.NoError(t, err)

	assert.Equal(t, models.LevelInfo, e.Level)
	assert.Equal(t, projectID, e.ProjectID)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, fingerprint.Compute("error", "boom"), e.Fingerprint)
	assert.WithinDuration(t, time.Now(), e.Timestamp, 3*time.Second)
	assert.True(t, !e.Timestamp.Before(before.Truncate(time.Second)))
	assert.Equal(t, 0, e.Timestamp.Nanosecond(), "server timestamps are truncated to seconds")
	require.Len(t, ms.inserted, 1)
}

func TestCreate_ExplicitFieldsPassThrough(t *testing.T) {
	ms := &mockEventStore{}
	svc := newTestService(ms, nil, nil)

	e, err := svc.Create(context.Background(), uuid.New(), Input{
		Type:        "payment.failed",
		Level:       "fatal",
		Metadata:    map[string]any{"a": float64(1)},
		Stacktrace:  json.RawMessage(`"opaque trace"`),
		Tags:        map[string]string{"region": "eu"},
		Environment: "production",
		Release:     "1.2.3",
		Timestamp:   "2024-02-17T01:47:32.123Z",
		Fingerprint: "custom-group",
	})
	require.NoError(t, err)

	assert.Equal(t, models.LevelFatal, e.Level)
	assert.Equal(t, "custom-group", e.Fingerprint)
	assert.Equal(t, map[string]any{"a": float64(1)}, e.Metadata)
	assert.Equal(t, `"opaque trace"`, string(e.Stacktrace))
	assert.Equal(t, time.Date(2024, 2, 17, 1, 47, 32, 123000000, time.UTC), e.Timestamp)
}

func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{name: "missing type", in: Input{Message: "no type"}, field: "type"},
		{name: "blank type", in: Input{Type: "   "}, field: "type"},
		{name: "invalid level", in: Input{Type: "error", Level: "critical"}, field: "level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := &mockEventStore{}
			pub := &recordingPublisher{}
			svc := newTestService(ms, pub, nil)

			_, err := svc.Create(context.Background(), uuid.New(), tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, IsValidation(err))
			assert.Empty(t, ms.inserted)

			svc.Wait()
			assert.Empty(t, pub.events)
		})
	}
}

func TestCreate_TriggersFanoutAndAlerts(t *testing.T) {
	pub := &recordingPublisher{}
	eval := &recordingEvaluator{}
	svc := newTestService(&mockEventStore{}, pub, eval)

	ctx, cancel := context.WithCancel(context.Background())
	e, err := svc.Create(ctx, uuid.New(), Input{Type: "error", Level: "error"})
	require.NoError(t, err)
	cancel()

	svc.Wait()
	require.Len(t, pub.events, 1)
	assert.Same(t, e, pub.events[0])
	require.Len(t, eval.events, 1)
	assert.Same(t, e, eval.events[0])
}

func TestCreate_StoreErrorSkipsSideEffects(t *testing.T) {
	pub := &recordingPublisher{}
	eval := &recordingEvaluator{}
	svc := newTestService(&mockEventStore{insertErr: errors.New("db down")}, pub, eval)

	_, err := svc.Create(context.Background(), uuid.New(), Input{Type: "error"})
	require.Error(t, err)
	assert.False(t, IsValidation(err))

	svc.Wait()
	assert.Empty(t, pub.events)
	assert.Empty(t, eval.events)
}

func TestCreate_EvaluatorPanicDoesNotFailWrite(t *testing.T) {
	ms := &mockEventStore{}
	svc := newTestService(ms, nil, panickingEvaluator{})

	_, err := svc.Create(context.Background(), uuid.New(), Input{Type: "error"})
	require.NoError(t, err)
	svc.Wait()
	assert.Len(t, ms.inserted, 1)
}

// --- CreateBatch ---

func rawEntries(entries ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = json.RawMessage(e)
	}
	return out
}

func TestCreateBatch_DropsInvalidEntries(t *testing.T) {
	ms := &mockEventStore{}
	pub := &recordingPublisher{}
	eval := &recordingEvaluator{}
	svc := newTestService(ms, pub, eval)

	n, err := svc.CreateBatch(context.Background(), uuid.New(), rawEntries(
		`{"type":"ok"}`,
		`{"message":"missing type"}`,
	))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, ms.batches, 1)
	assert.Len(t, ms.batches[0], 1)

	svc.Wait()
	assert.Equal(t, []int{1}, pub.batches, "one batch notification, not one per event")
	assert.Empty(t, pub.events)
	assert.Empty(t, eval.events, "batch path does not evaluate alerts")
}

func TestCreateBatch_SharedDefaultTimestamp(t *testing.T) {
	ms := &mockEventStore{}
	svc := newTestService(ms, nil, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 987654321, time.UTC)
	svc.now = func() time.Time { return fixed }

	n, err := svc.CreateBatch(context.Background(), uuid.New(), rawEntries(
		`{"type":"a"}`,
		`{"type":"b"}`,
		`{"type":"c","timestamp":"2025-05-31T08:00:00Z"}`,
	))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	batch := ms.batches[0]
	assert.Equal(t, fixed.Truncate(time.Second), batch[0].Timestamp)
	assert.Equal(t, batch[0].Timestamp, batch[1].Timestamp)
	assert.Equal(t, time.Date(2025, 5, 31, 8, 0, 0, 0, time.UTC), batch[2].Timestamp)
	assert.NotEqual(t, batch[0].Fingerprint, batch[1].Fingerprint)
}

func TestCreateBatch_AllInvalid(t *testing.T) {
	ms := &mockEventStore{}
	pub := &recordingPublisher{}
	svc := newTestService(ms, pub, nil)

	n, err := svc.CreateBatch(context.Background(), uuid.New(), rawEntries(`{"level":"info"}`))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, ms.batches)
	svc.Wait()
	assert.Empty(t, pub.batches)
}

func TestCreateBatch_WronglyTypedEntriesDropped(t *testing.T) {
	ms := &mockEventStore{}
	svc := newTestService(ms, nil, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	n, err := svc.CreateBatch(context.Background(), uuid.New(), rawEntries(
		`{"type":"ok"}`,
		`{"type":"bad-level","level":3}`,
		`{"type":"bad-metadata","metadata":[1,2]}`,
		`{"type":"bad-tags","tags":{"n":1}}`,
		`"not an object"`,
		`{"type":"numeric-ts","timestamp":1700000000}`,
	))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, ms.batches, 1)
	batch := ms.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "ok", batch[0].Type)
	assert.Equal(t, "numeric-ts", batch[1].Type)
	assert.Equal(t, fixed, batch[1].Timestamp, "non-string timestamp falls back to server time")
}

func TestCreateBatch_TooLarge(t *testing.T) {
	svc := newTestService(&mockEventStore{}, nil, nil)

	entries := make([]json.RawMessage, MaxBatchSize+1)
	for i := range entries {
		entries[i] = json.RawMessage(`{"type":"a"}`)
	}
	_, err := svc.CreateBatch(context.Background(), uuid.New(), entries)
	assert.True(t, IsValidation(err))
}

// --- Timestamps ---

func TestParseTimestamp(t *testing.T) {
	fallback := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"", fallback},
		{"not a time", fallback},
		{"2024-02-17T01:47:32Z", time.Date(2024, 2, 17, 1, 47, 32, 0, time.UTC)},
		{"2024-02-17T03:47:32+02:00", time.Date(2024, 2, 17, 1, 47, 32, 0, time.UTC)},
		{"2024-02-17T01:47:32.5", time.Date(2024, 2, 17, 1, 47, 32, 500000000, time.UTC)},
		{"2024-02-17 01:47:32", time.Date(2024, 2, 17, 1, 47, 32, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTimestamp(tt.in, fallback))
		})
	}
}

func TestInputUnmarshal_Timestamp(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string", `{"type":"a","timestamp":"2024-02-17T01:47:32Z"}`, "2024-02-17T01:47:32Z"},
		{"number", `{"type":"a","timestamp":1700000000}`, ""},
		{"object", `{"type":"a","timestamp":{"s":1}}`, ""},
		{"null", `{"type":"a","timestamp":null}`, ""},
		{"absent", `{"type":"a"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in Input
			require.NoError(t, json.Unmarshal([]byte(tt.body), &in))
			assert.Equal(t, "a", in.Type)
			assert.Equal(t, tt.want, in.Timestamp)
		})
	}
}

func TestInputUnmarshal_KeepsOtherFields(t *testing.T) {
	var in Input
	body := `{"type":"t","level":"warning","message":"m","metadata":{"k":"v"},` +
		`"stacktrace":{"frames":[]},"tags":{"r":"eu"},"environment":"prod",` +
		`"release":"1.0","fingerprint":"fp","timestamp":42}`
	require.NoError(t, json.Unmarshal([]byte(body), &in))

	assert.Equal(t, "warning", in.Level)
	assert.Equal(t, "m", in.Message)
	assert.Equal(t, map[string]any{"k": "v"}, in.Metadata)
	assert.JSONEq(t, `{"frames":[]}`, string(in.Stacktrace))
	assert.Equal(t, map[string]string{"r": "eu"}, in.Tags)
	assert.Equal(t, "prod", in.Environment)
	assert.Equal(t, "1.0", in.Release)
	assert.Equal(t, "fp", in.Fingerprint)
	assert.Empty(t, in.Timestamp)
}

// --- Queries ---

func TestStats_FillsEveryLevel(t *testing.T) {
	ms := &mockEventStore{levels: map[models.Level]int{models.LevelError: 4}}
	svc := newTestService(ms, nil, nil)

	stats, err := svc.Stats(context.Background(), []uuid.UUID{uuid.New()}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, stats, 5)
	assert.Equal(t, 4, stats[models.LevelError])
	assert.Equal(t, 0, stats[models.LevelDebug])
}
