package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strydelabs/hrrscan/core/hrr"
)

// memStore is an in-memory SampleSource and ResultSink with the same claim
// semantics as the sqlite store: a session is claimed by at most one owner.
type memStore struct {
	mu        sync.Mutex
	sessions  []SessionRef
	samples   map[string][]hrr.Sample
	claims    map[string]string
	processed map[string]string // session -> config version
	saved     map[string]*SessionResult

	listErr error
	loadErr map[string]error
	saveErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		samples:   make(map[string][]hrr.Sample),
		claims:    make(map[string]string),
		processed: make(map[string]string),
		saved:     make(map[string]*SessionResult),
		loadErr:   make(map[string]error),
		saveErr:   make(map[string]error),
	}
}

func (m *memStore) add(id string, samples []hrr.Sample) {
	m.sessions = append(m.sessions, SessionRef{ID: id, StartedAt: time.Unix(0, 0)})
	m.samples[id] = samples
}

func (m *memStore) ListSessions(from, to *time.Time) ([]SessionRef, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sessions, nil
}

func (m *memStore) LoadSamples(sessionID string) ([]hrr.Sample, error) {
	if err := m.loadErr[sessionID]; err != nil {
		return nil, err
	}
	return m.samples[sessionID], nil
}

func (m *memStore) Claim(sessionID, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.claims[sessionID]; ok && holder != owner {
		return false, nil
	}
	m.claims[sessionID] = owner
	return true, nil
}

func (m *memStore) Release(sessionID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[sessionID] == owner {
		delete(m.claims, sessionID)
	}
	return nil
}

func (m *memStore) Processed(sessionID, configVersion string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[sessionID] == configVersion, nil
}

func (m *memStore) SaveSession(result *SessionResult, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[result.SessionID]; err != nil {
		return err
	}
	m.saved[result.SessionID] = result
	m.processed[result.SessionID] = result.ConfigVersion
	return nil
}

func batchPipeline(t *testing.T) *Pipeline {
	t.Helper()
	cfg := testConfig()
	cfg.Valley.LocalPeakProminence = 2
	return New(cfg, nil, nil)
}

func TestBatch_ProcessesAllSessions(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())
	store.add("b", doublePeakSession())
	store.add("c", doublePeakSession())

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Sessions)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Skipped)
	assert.Len(t, store.saved, 3)
	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, store.claims, "every claim released")
}

func TestBatch_SkipsSessionsProcessedUnderCurrentConfig(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())
	store.add("b", doublePeakSession())
	store.processed["a"] = "test"

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.NotContains(t, store.saved, "a")
	assert.Contains(t, store.saved, "b")
}

func TestBatch_StaleConfigVersionReprocessed(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())
	store.processed["a"] = "old-version"

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 1})
	require.NoError(t, err)

	assert.Zero(t, report.Skipped)
	assert.Contains(t, store.saved, "a")
}

func TestBatch_ForceReprocesses(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())
	store.processed["a"] = "test"

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 1, Force: true})
	require.NoError(t, err)

	assert.Zero(t, report.Skipped)
	assert.Contains(t, store.saved, "a")
}

func TestBatch_SessionAlreadyClaimed(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())
	store.add("b", doublePeakSession())
	store.claims["a"] = "another-run/0"

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Claimed)
	assert.NotContains(t, store.saved, "a")
	assert.Contains(t, store.saved, "b")
}

func TestBatch_OneBadSessionDoesNotAbort(t *testing.T) {
	store := newMemStore()
	store.add("good", doublePeakSession())
	store.add("empty", nil) // fails series validation
	store.add("broken", doublePeakSession())
	store.loadErr["broken"] = errors.New("disk gone")

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 1})
	require.NoError(t, err, "per-session failures never fail the batch")

	assert.Equal(t, 2, report.Failed)
	assert.Contains(t, store.saved, "good")
	assert.Empty(t, store.claims, "claims released even on failure")
}

func TestBatch_SaveFailureCounted(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())
	store.saveErr["a"] = errors.New("database is locked")

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, store.saved)
}

func TestBatch_ListFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("no such table")

	_, err := batchPipeline(t).Batch(store, store, BatchOptions{})
	assert.Error(t, err)
}

func TestBatch_ReportAggregatesCounts(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())
	store.add("b", doublePeakSession())

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Counts.MergedDuplicates)
	byReason := 0
	for _, n := range report.Counts.ByReason {
		byReason += n
	}
	assert.Equal(t, report.Counts.Rejected, byReason,
		"reason breakdown never exceeds the rejection count")
	total := report.Counts.Passed + report.Counts.Flagged + report.Counts.Rejected
	intervals := 0
	for _, saved := range store.saved {
		intervals += len(saved.Intervals)
	}
	assert.Equal(t, intervals, total)
}

func TestBatch_FlatSessionSkippedOnRerun(t *testing.T) {
	store := newMemStore()
	flat := []hrr.Sample{
		{Offset: 0, HR: 118}, {Offset: 1, HR: 118}, {Offset: 2, HR: 118},
		{Offset: 3, HR: 118}, {Offset: 4, HR: 118},
	}
	store.add("flat", flat)
	p := batchPipeline(t)

	first, err := p.Batch(store, store, BatchOptions{Workers: 1})
	require.NoError(t, err)
	assert.Zero(t, first.Skipped)
	require.Contains(t, store.saved, "flat")
	assert.Empty(t, store.saved["flat"].Intervals)

	second, err := p.Batch(store, store, BatchOptions{Workers: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped,
		"a session with no recoveries is still processed work")
}

func TestBatch_RunIDPropagated(t *testing.T) {
	store := newMemStore()
	store.add("a", doublePeakSession())

	report, err := batchPipeline(t).Batch(store, store, BatchOptions{Workers: 1, RunID: "run-42"})
	require.NoError(t, err)

	assert.Equal(t, "run-42", report.RunID)
}
