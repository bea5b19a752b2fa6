package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumina-bi/lumina-engine/pkg/apperrors"
	"github.com/lumina-bi/lumina-engine/pkg/backend"
	"github.com/lumina-bi/lumina-engine/pkg/cache"
	"github.com/lumina-bi/lumina-engine/pkg/models"
	"github.com/lumina-bi/lumina-engine/pkg/sql"
)

// mockStore is an in-memory cache.Store with injectable failures.
type mockStore struct {
	mu        sync.Mutex
	entries   map[string][]byte
	getErr    error
	setErr    error
	deleteErr error
	prefixErr error
	setCalls  int
}

func newMockStore() *mockStore {
	return &mockStore{entries: map[string][]byte{}}
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.entries[key] = value
	return nil
}

func (m *mockStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *mockStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefixErr != nil {
		return 0, m.prefixErr
	}
	deleted := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// mockRouter is a configurable QueryRouter.
type mockRouter struct {
	rows         *backend.RowSet
	backendName  string
	err          error
	errByName    map[string]error
	enumErrBySQL map[string]error

	executeCalls     int
	adHocCalls       int
	enumerationCalls int

	capturedFilters models.FilterParams
	capturedSQL     string
}

func (m *mockRouter) Execute(ctx context.Context, query *models.ValidatedQuery, filters models.FilterParams) (*backend.RowSet, string, error) {
	m.executeCalls++
	m.capturedFilters = filters
	if err, ok := m.errByName[query.Name]; ok {
		return nil, "", err
	}
	if m.err != nil {
		return nil, "", m.err
	}
	return m.rows, m.backendName, nil
}

func (m *mockRouter) ExecuteAdHoc(ctx context.Context, sqlText string, filters models.FilterParams) (*backend.RowSet, string, error) {
	m.adHocCalls++
	m.capturedSQL = sqlText
	m.capturedFilters = filters
	if m.err != nil {
		return nil, "", m.err
	}
	return m.rows, m.backendName, nil
}

func (m *mockRouter) ExecuteEnumeration(ctx context.Context, sqlText string) (*backend.RowSet, string, error) {
	m.enumerationCalls++
	m.capturedSQL = sqlText
	if err, ok := m.enumErrBySQL[sqlText]; ok {
		return nil, "", err
	}
	if m.err != nil {
		return nil, "", m.err
	}
	return m.rows, m.backendName, nil
}

// mockQueryCatalog is a configurable mock for the validated query
// repository.
type mockQueryCatalog struct {
	byID map[uuid.UUID]*models.ValidatedQuery

	createErr     error
	getErr        error
	listErr       error
	updateErr     error
	deactivateErr error
	recordRunErr  error

	capturedCreate *models.ValidatedQuery
	capturedUpdate *models.ValidatedQuery
	recordedRuns   []uuid.UUID
}

func newMockQueryCatalog(queries ...*models.ValidatedQuery) *mockQueryCatalog {
	m := &mockQueryCatalog{byID: map[uuid.UUID]*models.ValidatedQuery{}}
	for _, q := range queries {
		m.byID[q.ID] = q
	}
	return m
}

func (m *mockQueryCatalog) Create(ctx context.Context, query *models.ValidatedQuery) error {
	if m.createErr != nil {
		return m.createErr
	}
	if query.ID == uuid.Nil {
		query.ID = uuid.New()
	}
	m.capturedCreate = query
	m.byID[query.ID] = query
	return nil
}

func (m *mockQueryCatalog) GetByID(ctx context.Context, id uuid.UUID) (*models.ValidatedQuery, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	q, ok := m.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return q, nil
}

func (m *mockQueryCatalog) GetByName(ctx context.Context, name string) (*models.ValidatedQuery, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, q := range m.byID {
		if q.Name == name && q.Active {
			return q, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockQueryCatalog) ListActive(ctx context.Context, scope string) ([]*models.ValidatedQuery, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.ValidatedQuery, 0, len(m.byID))
	for _, q := range m.byID {
		if q.Active && (scope == "" || q.Scope == scope) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *mockQueryCatalog) Update(ctx context.Context, query *models.ValidatedQuery) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.capturedUpdate = query
	m.byID[query.ID] = query
	return nil
}

func (m *mockQueryCatalog) Deactivate(ctx context.Context, id uuid.UUID) error {
	if m.deactivateErr != nil {
		return m.deactivateErr
	}
	q, ok := m.byID[id]
	if !ok || !q.Active {
		return apperrors.ErrNotFound
	}
	q.Active = false
	return nil
}

func (m *mockQueryCatalog) RecordRun(ctx context.Context, id uuid.UUID) error {
	if m.recordRunErr != nil {
		return m.recordRunErr
	}
	m.recordedRuns = append(m.recordedRuns, id)
	return nil
}

// mockSnapshotRepo is a configurable mock for the snapshot repository.
type mockSnapshotRepo struct {
	inserted      []*models.ResultSnapshot
	invalidations []*models.CacheInvalidation
	list          []*models.ResultSnapshot

	insertErr error
	listErr   error
	recordErr error
}

func (m *mockSnapshotRepo) InsertSnapshot(ctx context.Context, snap *models.ResultSnapshot) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, snap)
	return nil
}

func (m *mockSnapshotRepo) ListByQuery(ctx context.Context, queryID uuid.UUID, limit int) ([]*models.ResultSnapshot, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.list, nil
}

func (m *mockSnapshotRepo) RecordInvalidation(ctx context.Context, inv *models.CacheInvalidation) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.invalidations = append(m.invalidations, inv)
	return nil
}

func testQuery(name string) *models.ValidatedQuery {
	return &models.ValidatedQuery{
		ID:              uuid.New(),
		Name:            name,
		Scope:           models.ScopeGeneral,
		SQLTemplate:     "SELECT region, SUM(amount) AS revenue FROM payments WHERE (:region IS NULL OR region = :region) GROUP BY region",
		ChartHint:       models.ChartBar,
		BackendAffinity: models.AffinityAuto,
		ValidatedBy:     "analyst",
		ValidatedAt:     time.Now(),
		Active:          true,
	}
}

func testRows() *backend.RowSet {
	return &backend.RowSet{
		Columns:  []string{"region", "revenue"},
		Rows:     []map[string]any{{"region": "Cairo", "revenue": 1200.5}},
		RowCount: 1,
	}
}

type queryServiceFixture struct {
	catalog   *mockQueryCatalog
	snapshots *mockSnapshotRepo
	store     *mockStore
	router    *mockRouter
	service   ValidatedQueryService
}

func newQueryServiceFixture(queries ...*models.ValidatedQuery) *queryServiceFixture {
	catalog := newMockQueryCatalog(queries...)
	snapshots := &mockSnapshotRepo{}
	store := newMockStore()
	router := &mockRouter{rows: testRows(), backendName: "postgres"}
	service := NewValidatedQueryService(catalog, snapshots, store, router, sql.NewRenderer("analytics"), DefaultCacheTTLs(), zap.NewNop())
	return &queryServiceFixture{
		catalog:   catalog,
		snapshots: snapshots,
		store:     store,
		router:    router,
		service:   service,
	}
}

func TestValidatedQueryService_Execute_MissThenHit(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)
	filters := models.FilterParams{"region": "Cairo"}

	first, err := fix.service.Execute(context.Background(), query.ID.String(), filters)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if first.Cached {
		t.Error("expected first execution to miss the cache")
	}
	if first.Backend != "postgres" {
		t.Errorf("expected backend postgres, got %q", first.Backend)
	}
	if first.RowSet.RowCount != 1 {
		t.Errorf("expected 1 row, got %d", first.RowSet.RowCount)
	}

	second, err := fix.service.Execute(context.Background(), query.ID.String(), filters)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !second.Cached {
		t.Error("expected second execution to hit the cache")
	}
	if second.Backend != "cache" {
		t.Errorf("expected backend cache, got %q", second.Backend)
	}
	if second.RowSet.RowCount != first.RowSet.RowCount {
		t.Errorf("cached rows differ: got %d, want %d", second.RowSet.RowCount, first.RowSet.RowCount)
	}
	if fix.router.executeCalls != 1 {
		t.Errorf("expected a single backend execution, got %d", fix.router.executeCalls)
	}
}

func TestValidatedQueryService_Execute_ByName(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)

	result, err := fix.service.Execute(context.Background(), "revenue_by_region", nil)
	if err != nil {
		t.Fatalf("Execute by name failed: %v", err)
	}
	if result.Query.ID != query.ID {
		t.Errorf("resolved wrong query: got %v, want %v", result.Query.ID, query.ID)
	}
}

func TestValidatedQueryService_Execute_DifferentFiltersMissIndependently(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)

	if _, err := fix.service.Execute(context.Background(), query.ID.String(), models.FilterParams{"region": "Cairo"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := fix.service.Execute(context.Background(), query.ID.String(), models.FilterParams{"region": "Alexandria"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if fix.router.executeCalls != 2 {
		t.Errorf("distinct filters must execute independently, got %d backend calls", fix.router.executeCalls)
	}
}

func TestValidatedQueryService_Execute_AppliesDefaultWindow(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)

	svc := fix.service.(*validatedQueryService)
	svc.now = func() time.Time { return time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC) }

	if _, err := fix.service.Execute(context.Background(), query.ID.String(), nil); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	got := fix.router.capturedFilters
	if got[models.FilterStartDate] != "2025-03-01" {
		t.Errorf("expected start_date 2025-03-01, got %q", got[models.FilterStartDate])
	}
	if got[models.FilterEndDate] != "2025-03-31" {
		t.Errorf("expected end_date 2025-03-31, got %q", got[models.FilterEndDate])
	}
}

func TestValidatedQueryService_Execute_RecordsSnapshotAndRun(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)

	if _, err := fix.service.Execute(context.Background(), query.ID.String(), models.FilterParams{"region": "Cairo"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(fix.snapshots.inserted) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(fix.snapshots.inserted))
	}
	snap := fix.snapshots.inserted[0]
	if snap.QueryID != query.ID {
		t.Errorf("snapshot bound to wrong query: %v", snap.QueryID)
	}
	if snap.Filters["region"] != "Cairo" {
		t.Errorf("snapshot filters not preserved: %v", snap.Filters)
	}
	if snap.RowCount != 1 {
		t.Errorf("expected snapshot row count 1, got %d", snap.RowCount)
	}

	if len(fix.catalog.recordedRuns) != 1 || fix.catalog.recordedRuns[0] != query.ID {
		t.Errorf("expected one recorded run for %v, got %v", query.ID, fix.catalog.recordedRuns)
	}
}

func TestValidatedQueryService_Execute_CachedHitSkipsBookkeeping(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)
	filters := models.FilterParams{"region": "Cairo"}

	if _, err := fix.service.Execute(context.Background(), query.ID.String(), filters); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := fix.service.Execute(context.Background(), query.ID.String(), filters); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(fix.snapshots.inserted) != 1 {
		t.Errorf("cached hits must not append snapshots, got %d", len(fix.snapshots.inserted))
	}
	if len(fix.catalog.recordedRuns) != 1 {
		t.Errorf("cached hits must not bump run count, got %d", len(fix.catalog.recordedRuns))
	}
}

func TestValidatedQueryService_Execute_NotFound(t *testing.T) {
	fix := newQueryServiceFixture()

	_, err := fix.service.Execute(context.Background(), uuid.New().String(), nil)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidatedQueryService_Execute_DeactivatedQuery(t *testing.T) {
	query := testQuery("retired")
	query.Active = false
	fix := newQueryServiceFixture(query)

	_, err := fix.service.Execute(context.Background(), query.ID.String(), nil)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for deactivated query, got %v", err)
	}
}

func TestValidatedQueryService_Execute_BackendFailure(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)
	fix.router.err = errors.New("connection refused")

	_, err := fix.service.Execute(context.Background(), query.ID.String(), nil)
	if !errors.Is(err, apperrors.ErrExecutionFailed) {
		t.Errorf("expected ErrExecutionFailed, got %v", err)
	}
	if len(fix.snapshots.inserted) != 0 {
		t.Errorf("failed executions must not snapshot, got %d", len(fix.snapshots.inserted))
	}
}

func TestValidatedQueryService_Execute_CacheFailuresDegradeGracefully(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)
	fix.store.getErr = errors.New("redis down")
	fix.store.setErr = errors.New("redis down")
	fix.snapshots.insertErr = errors.New("disk full")
	fix.catalog.recordRunErr = errors.New("deadlock")

	result, err := fix.service.Execute(context.Background(), query.ID.String(), nil)
	if err != nil {
		t.Fatalf("Execute must survive cache and bookkeeping failures, got %v", err)
	}
	if result.Cached {
		t.Error("expected a miss when the store is unreachable")
	}
	if result.RowSet.RowCount != 1 {
		t.Errorf("expected rows despite degraded write path, got %d", result.RowSet.RowCount)
	}
}

func TestValidatedQueryService_Execute_ConcurrentMissesShareOneExecution(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)

	// Hold the router open so both callers overlap.
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	fix.service.(*validatedQueryService).router = &gatedRouter{inner: fix.router, started: started, release: release}

	var wg sync.WaitGroup
	results := make([]*ExecutionResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fix.service.Execute(context.Background(), query.ID.String(), models.FilterParams{"region": "Cairo"})
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("Execute %d failed: %v", i, errs[i])
		}
		if results[i].RowSet.RowCount != 1 {
			t.Errorf("Execute %d returned wrong rows", i)
		}
	}
	if fix.router.executeCalls != 1 {
		t.Errorf("concurrent misses must share one backend execution, got %d", fix.router.executeCalls)
	}
}

// gatedRouter blocks the first Execute until released so tests can pile up
// concurrent callers.
type gatedRouter struct {
	inner   *mockRouter
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedRouter) Execute(ctx context.Context, query *models.ValidatedQuery, filters models.FilterParams) (*backend.RowSet, string, error) {
	g.once.Do(func() {
		g.started <- struct{}{}
		<-g.release
	})
	return g.inner.Execute(ctx, query, filters)
}

func (g *gatedRouter) ExecuteAdHoc(ctx context.Context, sqlText string, filters models.FilterParams) (*backend.RowSet, string, error) {
	return g.inner.ExecuteAdHoc(ctx, sqlText, filters)
}

func (g *gatedRouter) ExecuteEnumeration(ctx context.Context, sqlText string) (*backend.RowSet, string, error) {
	return g.inner.ExecuteEnumeration(ctx, sqlText)
}

func TestValidatedQueryService_ExecuteAdHoc_Success(t *testing.T) {
	fix := newQueryServiceFixture()

	result, err := fix.service.ExecuteAdHoc(context.Background(), "SELECT * FROM payments;", models.FilterParams{"region": "Cairo"})
	if err != nil {
		t.Fatalf("ExecuteAdHoc failed: %v", err)
	}
	if result.Cached {
		t.Error("expected a fresh execution")
	}
	if result.Query != nil {
		t.Error("ad-hoc results must not claim a catalogue entry")
	}
	if fix.router.capturedSQL != "SELECT * FROM payments" {
		t.Errorf("expected normalized statement, got %q", fix.router.capturedSQL)
	}
}

func TestValidatedQueryService_ExecuteAdHoc_CachesRendered(t *testing.T) {
	fix := newQueryServiceFixture()
	filters := models.FilterParams{"region": "Cairo"}

	if _, err := fix.service.ExecuteAdHoc(context.Background(), "SELECT * FROM payments", filters); err != nil {
		t.Fatalf("ExecuteAdHoc failed: %v", err)
	}
	second, err := fix.service.ExecuteAdHoc(context.Background(), "SELECT * FROM payments", filters)
	if err != nil {
		t.Fatalf("ExecuteAdHoc failed: %v", err)
	}
	if !second.Cached {
		t.Error("expected identical ad-hoc statement to be served from cache")
	}
	if fix.router.adHocCalls != 1 {
		t.Errorf("expected one backend call, got %d", fix.router.adHocCalls)
	}

	// A different filter binding renders a different statement, so it must
	// not share the cache entry.
	third, err := fix.service.ExecuteAdHoc(context.Background(), "SELECT * FROM payments", models.FilterParams{"region": "Alexandria"})
	if err != nil {
		t.Fatalf("ExecuteAdHoc failed: %v", err)
	}
	if third.Cached {
		t.Error("different filters must not share an ad-hoc cache entry")
	}
}

func TestValidatedQueryService_ExecuteAdHoc_RejectsMultipleStatements(t *testing.T) {
	fix := newQueryServiceFixture()

	_, err := fix.service.ExecuteAdHoc(context.Background(), "SELECT 1; DROP TABLE payments", nil)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if fix.router.adHocCalls != 0 {
		t.Error("rejected statement must never reach a backend")
	}
}

func TestValidatedQueryService_ExecuteAdHoc_RejectsInjectedFilterValue(t *testing.T) {
	fix := newQueryServiceFixture()

	_, err := fix.service.ExecuteAdHoc(context.Background(), "SELECT * FROM payments", models.FilterParams{
		"region": "' OR '1'='1",
	})
	if !errors.Is(err, apperrors.ErrUnsafeSQL) {
		t.Errorf("expected ErrUnsafeSQL, got %v", err)
	}
	if fix.router.adHocCalls != 0 {
		t.Error("unsafe filters must never reach a backend")
	}
}

func TestValidatedQueryService_InvalidateCache_RemovesOnlyThatQuery(t *testing.T) {
	query := testQuery("revenue_by_region")
	other := testQuery("orders_by_tier")
	fix := newQueryServiceFixture(query, other)
	filters := models.FilterParams{"region": "Cairo"}

	if _, err := fix.service.Execute(context.Background(), query.ID.String(), filters); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := fix.service.Execute(context.Background(), other.ID.String(), filters); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	optionsKey := cache.FilterOptionsKey("region")
	if err := fix.store.Set(context.Background(), optionsKey, []byte(`["Cairo"]`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	deleted, err := fix.service.InvalidateCache(context.Background(), query.ID, "test")
	if err != nil {
		t.Fatalf("InvalidateCache failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 key deleted, got %d", deleted)
	}

	otherKey := cache.ResultKey(other.ID, filters.Normalize(time.Now()))
	if !fix.store.has(otherKey) {
		t.Error("invalidation must not touch other queries' entries")
	}
	if !fix.store.has(optionsKey) {
		t.Error("invalidation must not touch filter option entries")
	}

	if len(fix.snapshots.invalidations) != 1 {
		t.Fatalf("expected 1 invalidation record, got %d", len(fix.snapshots.invalidations))
	}
	record := fix.snapshots.invalidations[0]
	if record.QueryID != query.ID || record.Reason != "test" || record.KeysDeleted != 1 {
		t.Errorf("unexpected invalidation record: %+v", record)
	}
}

func TestValidatedQueryService_Update_InvalidatesCache(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)
	filters := models.FilterParams{"region": "Cairo"}

	if _, err := fix.service.Execute(context.Background(), query.ID.String(), filters); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	newHint := models.ChartLine
	if _, err := fix.service.Update(context.Background(), query.ID, &UpdateValidatedQueryRequest{ChartHint: &newHint}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	result, err := fix.service.Execute(context.Background(), query.ID.String(), filters)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Cached {
		t.Error("update must drop cached results")
	}
	if len(fix.snapshots.invalidations) != 1 || fix.snapshots.invalidations[0].Reason != "query updated" {
		t.Errorf("expected an update invalidation record, got %+v", fix.snapshots.invalidations)
	}
}

func TestValidatedQueryService_Update_RejectsBadTemplate(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)

	bad := "SELECT 1; SELECT 2"
	_, err := fix.service.Update(context.Background(), query.ID, &UpdateValidatedQueryRequest{SQLTemplate: &bad})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidatedQueryService_Deactivate_InvalidatesCache(t *testing.T) {
	query := testQuery("revenue_by_region")
	fix := newQueryServiceFixture(query)
	filters := models.FilterParams{"region": "Cairo"}

	if _, err := fix.service.Execute(context.Background(), query.ID.String(), filters); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if err := fix.service.Deactivate(context.Background(), query.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	key := cache.ResultKey(query.ID, filters.Normalize(time.Now()))
	if fix.store.has(key) {
		t.Error("deactivation must drop cached results")
	}
	if len(fix.snapshots.invalidations) != 1 || fix.snapshots.invalidations[0].Reason != "query deactivated" {
		t.Errorf("expected a deactivation invalidation record, got %+v", fix.snapshots.invalidations)
	}
}

func TestValidatedQueryService_Create_AppliesDefaults(t *testing.T) {
	fix := newQueryServiceFixture()

	query, err := fix.service.Create(context.Background(), &CreateValidatedQueryRequest{
		Name:        "  weekly_gmv  ",
		SQLTemplate: "SELECT SUM(amount) FROM payments;",
		ValidatedBy: "analyst",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if query.Name != "weekly_gmv" {
		t.Errorf("expected trimmed name, got %q", query.Name)
	}
	if query.Scope != models.ScopeGeneral {
		t.Errorf("expected default scope general, got %q", query.Scope)
	}
	if query.ChartHint != models.ChartTable {
		t.Errorf("expected default chart hint table, got %q", query.ChartHint)
	}
	if query.BackendAffinity != models.AffinityAuto {
		t.Errorf("expected default affinity auto, got %q", query.BackendAffinity)
	}
	if !query.Active {
		t.Error("new queries must be active")
	}
	if query.SQLTemplate != "SELECT SUM(amount) FROM payments" {
		t.Errorf("expected normalized template, got %q", query.SQLTemplate)
	}
	if query.ValidatedAt.IsZero() {
		t.Error("expected validation timestamp to be set")
	}
}

func TestValidatedQueryService_Create_Validation(t *testing.T) {
	fix := newQueryServiceFixture()

	cases := []struct {
		name string
		req  CreateValidatedQueryRequest
	}{
		{"missing name", CreateValidatedQueryRequest{SQLTemplate: "SELECT 1", ValidatedBy: "a"}},
		{"missing validator", CreateValidatedQueryRequest{Name: "q", SQLTemplate: "SELECT 1"}},
		{"multiple statements", CreateValidatedQueryRequest{Name: "q", SQLTemplate: "SELECT 1; SELECT 2", ValidatedBy: "a"}},
		{"empty template", CreateValidatedQueryRequest{Name: "q", SQLTemplate: "  ;  ", ValidatedBy: "a"}},
		{"bad scope", CreateValidatedQueryRequest{Name: "q", SQLTemplate: "SELECT 1", ValidatedBy: "a", Scope: "marketing"}},
		{"bad chart hint", CreateValidatedQueryRequest{Name: "q", SQLTemplate: "SELECT 1", ValidatedBy: "a", ChartHint: "sankey"}},
		{"bad affinity", CreateValidatedQueryRequest{Name: "q", SQLTemplate: "SELECT 1", ValidatedBy: "a", BackendAffinity: "spark"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fix.service.Create(context.Background(), &tc.req)
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidatedQueryService_Create_Conflict(t *testing.T) {
	fix := newQueryServiceFixture()
	fix.catalog.createErr = apperrors.ErrConflict

	_, err := fix.service.Create(context.Background(), &CreateValidatedQueryRequest{
		Name:        "dup",
		SQLTemplate: "SELECT 1",
		ValidatedBy: "analyst",
	})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestValidatedQueryService_List_RejectsUnknownScope(t *testing.T) {
	fix := newQueryServiceFixture()

	_, err := fix.service.List(context.Background(), "sales")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestValidatedQueryService_MaterializeAll(t *testing.T) {
	healthy := testQuery("revenue_by_region")
	broken := testQuery("broken_report")
	fix := newQueryServiceFixture(healthy, broken)
	fix.router.errByName = map[string]error{"broken_report": errors.New("syntax error")}

	report, err := fix.service.MaterializeAll(context.Background())
	if err != nil {
		t.Fatalf("MaterializeAll failed: %v", err)
	}

	if report.Total != 2 {
		t.Errorf("expected 2 total, got %d", report.Total)
	}
	if report.Refreshed != 1 {
		t.Errorf("expected 1 refreshed, got %d", report.Refreshed)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "broken_report" {
		t.Errorf("expected broken_report to fail, got %v", report.Failed)
	}

	// The healthy query's result must now be cached for default filters.
	result, err := fix.service.Execute(context.Background(), healthy.ID.String(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Cached {
		t.Error("materialization must leave the result cached")
	}
}

func TestValidatedQueryService_ListSnapshots_QueryMustExist(t *testing.T) {
	fix := newQueryServiceFixture()

	_, err := fix.service.ListSnapshots(context.Background(), uuid.New(), 10)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// recordingExecutor implements backend.QueryExecutor for pipeline tests that
// run the real router and renderer instead of mocks.
type recordingExecutor struct {
	rows    *backend.RowSet
	calls   int
	lastSQL string
}

func (r *recordingExecutor) Query(ctx context.Context, sqlText string, limit int) (*backend.RowSet, error) {
	r.calls++
	r.lastSQL = sqlText
	return r.rows, nil
}

func (r *recordingExecutor) Name() string { return "postgres" }
func (r *recordingExecutor) Close() error { return nil }

// Runs the whole pipeline with real collaborators: catalogue lookup, date
// defaulting, token-stream rendering, routing to the relational executor, a
// real in-process cache, and the cached-flag flip on the second call.
func TestValidatedQueryService_Execute_FullPipeline(t *testing.T) {
	query := testQuery("daily_count")
	query.SQLTemplate = "SELECT COUNT(*) c FROM t WHERE d BETWEEN :start_date AND :end_date AND (:region IS NULL OR region = :region)"
	query.BackendAffinity = models.AffinityRelational

	executor := &recordingExecutor{rows: &backend.RowSet{
		Columns:  []string{"c"},
		Rows:     []map[string]any{{"c": float64(42)}},
		RowCount: 1,
	}}
	renderer := sql.NewRenderer("analytics")
	router := backend.NewRouter(executor, nil, backend.NewClassifier(nil), renderer, 0, zap.NewNop())
	store := cache.NewMemoryStore()

	catalog := newMockQueryCatalog(query)
	service := NewValidatedQueryService(catalog, &mockSnapshotRepo{}, store, router, renderer, DefaultCacheTTLs(), zap.NewNop())
	service.(*validatedQueryService).now = func() time.Time {
		return time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	}

	filters := models.FilterParams{"region": "Cairo"}

	first, err := service.Execute(context.Background(), query.ID.String(), filters)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if first.Cached {
		t.Error("expected first execution to miss the cache")
	}
	if first.Backend != "postgres" {
		t.Errorf("expected relational backend, got %q", first.Backend)
	}
	if !strings.Contains(executor.lastSQL, "region = 'Cairo'") {
		t.Errorf("expected bound region literal, got %q", executor.lastSQL)
	}
	if strings.Contains(executor.lastSQL, ":") {
		t.Errorf("rendered SQL must not contain placeholders, got %q", executor.lastSQL)
	}
	if !strings.Contains(executor.lastSQL, "BETWEEN '2025-03-01' AND '2025-03-31'") {
		t.Errorf("expected defaulted date window, got %q", executor.lastSQL)
	}

	key := cache.ResultKey(query.ID, filters.Normalize(time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)))
	if _, ok, _ := store.Get(context.Background(), key); !ok {
		t.Errorf("expected result cached under %q", key)
	}

	second, err := service.Execute(context.Background(), query.ID.String(), filters)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !second.Cached {
		t.Error("expected second execution to hit the cache")
	}
	if second.RowSet.RowCount != 1 || second.RowSet.Rows[0]["c"] != float64(42) {
		t.Errorf("cached rows do not round-trip: %+v", second.RowSet.Rows)
	}
	if executor.calls != 1 {
		t.Errorf("expected a single backend execution, got %d", executor.calls)
	}
}
