package issues

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snowdamiz/pulsekit/internal/store"
	"github.com/snowdamiz/pulsekit/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock store ---

type mockStore struct {
	statuses     map[string]*models.IssueStatus
	statusCounts map[models.IssueState]int
	issueCount   int

	countFilter  store.IssueFilter
	eventsFilter store.EventFilter
}

func newMockStore() *mockStore {
	return &mockStore{statuses: make(map[string]*models.IssueStatus)}
}

func (m *mockStore) ListIssues(_ context.Context, _ store.IssueFilter) ([]*models.Issue, error) {
	return []*models.Issue{}, nil
}
func (m *mockStore) CountIssues(_ context.Context, f store.IssueFilter) (int, error) {
	m.countFilter = f
	return m.issueCount, nil
}
func (m *mockStore) GetIssue(_ context.Context, _ uuid.UUID, _ string) (*models.Issue, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) UpsertIssueStatus(_ context.Context, st *models.IssueStatus) (*models.IssueStatus, error) {
	key := st.ProjectID.String() + "/" + st.Fingerprint
	if existing, ok := m.statuses[key]; ok {
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	}
	m.statuses[key] = st
	return st, nil
}
func (m *mockStore) CountIssueStatuses(_ context.Context, _ []uuid.UUID) (map[models.IssueState]int, error) {
	return m.statusCounts, nil
}
func (m *mockStore) ListEvents(_ context.Context, f store.EventFilter) ([]*models.Event, error) {
	m.eventsFilter = f
	return []*models.Event{}, nil
}

// --- UpdateStatus ---

func TestUpdateStatus_Transitions(t *testing.T) {
	ms := newMockStore()
	svc := NewService(ms)
	projectID := uuid.New()
	ctx := context.Background()

	resolved, err := svc.UpdateStatus(ctx, projectID, "fp1", models.IssueResolved)
	require.NoError(t, err)
	assert.Equal(t, models.IssueResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Nil(t, resolved.IgnoredAt)

	ignored, err := svc.UpdateStatus(ctx, projectID, "fp1", models.IssueIgnored)
	require.NoError(t, err)
	assert.Nil(t, ignored.ResolvedAt)
	assert.NotNil(t, ignored.IgnoredAt)
	assert.Equal(t, resolved.ID, ignored.ID)

	reopened, err := svc.UpdateStatus(ctx, projectID, "fp1", models.IssueUnresolved)
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
	assert.Nil(t, reopened.IgnoredAt)
	assert.Len(t, ms.statuses, 1)
}

func TestUpdateStatus_Idempotent(t *testing.T) {
	ms := newMockStore()
	svc := NewService(ms)
	projectID := uuid.New()

	_, err := svc.UpdateStatus(context.Background(), projectID, "fp1", models.IssueResolved)
	require.NoError(t, err)
	again, err := svc.UpdateStatus(context.Background(), projectID, "fp1", models.IssueResolved)
	require.NoError(t, err)

	assert.Len(t, ms.statuses, 1)
	assert.Equal(t, models.IssueResolved, again.Status)
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	svc := NewService(newMockStore())

	_, err := svc.UpdateStatus(context.Background(), uuid.New(), "fp1", "archived")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

// --- Stats ---

func TestStats(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		statuses map[models.IssueState]int
		want     models.IssueStats
	}{
		{
			name:     "mixed",
			total:    10,
			statuses: map[models.IssueState]int{models.IssueResolved: 3, models.IssueIgnored: 2},
			want:     models.IssueStats{Total: 10, Unresolved: 5, Resolved: 3, Ignored: 2},
		},
		{
			name:     "unresolved clamps at zero",
			total:    1,
			statuses: map[models.IssueState]int{models.IssueResolved: 4},
			want:     models.IssueStats{Total: 1, Unresolved: 0, Resolved: 4},
		},
		{
			name:  "no status rows",
			total: 3,
			want:  models.IssueStats{Total: 3, Unresolved: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newMockStore()
			ms.issueCount = tt.total
			ms.statusCounts = tt.statuses
			svc := NewService(ms)

			since := time.Now().Add(-24 * time.Hour)
			ids := []uuid.UUID{uuid.New()}
			stats, err := svc.Stats(context.Background(), ids, since)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *stats)
			assert.Equal(t, since, ms.countFilter.Since)
			assert.Equal(t, ids, ms.countFilter.ProjectIDs)
		})
	}
}

func TestEvents_FiltersByFingerprint(t *testing.T) {
	ms := newMockStore()
	svc := NewService(ms)
	projectID := uuid.New()

	_, err := svc.Events(context.Background(), projectID, "fp1", 25, 50)
	require.NoError(t, err)
	assert.Equal(t, store.EventFilter{
		ProjectIDs:  []uuid.UUID{projectID},
		Fingerprint: "fp1",
		Limit:       25,
		Offset:      50,
	}, ms.eventsFilter)
}

func TestGet_NotFound(t *testing.T) {
	svc := NewService(newMockStore())
	_, err := svc.Get(context.Background(), uuid.New(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
