package records_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saltyorg/lighter/internal/database"
	"github.com/saltyorg/lighter/internal/records"
)

type mockStore struct {
	getAllFn func(ctx context.Context) ([]database.WeightRecord, error)
	loadFn   func(ctx context.Context, ids []int64) ([]database.WeightRecord, error)
	insertFn func(ctx context.Context, rs []database.WeightRecord) ([]database.WeightRecord, error)
	deleteFn func(ctx context.Context, r database.WeightRecord) error
	countFn  func(ctx context.Context) (int, error)
}

func (m *mockStore) GetAllWeightRecords(ctx context.Context) ([]database.WeightRecord, error) {
	if m.getAllFn != nil {
		return m.getAllFn(ctx)
	}
	return []database.WeightRecord{}, nil
}

func (m *mockStore) LoadWeightRecordsByIDs(ctx context.Context, ids []int64) ([]database.WeightRecord, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, ids)
	}
	return []database.WeightRecord{}, nil
}

func (m *mockStore) InsertWeightRecords(ctx context.Context, rs []database.WeightRecord) ([]database.WeightRecord, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, rs)
	}
	return rs, nil
}

func (m *mockStore) DeleteWeightRecord(ctx context.Context, r database.WeightRecord) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, r)
	}
	return nil
}

func (m *mockStore) CountWeightRecords(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []records.Change
}

func (p *recordingPublisher) PublishRecordChange(c records.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
}

func startService(t *testing.T, store database.WeightRecordStore, cfg records.Config) *records.Service {
	t.Helper()
	svc := records.New(store, cfg)
	svc.Start()
	t.Cleanup(svc.Stop)
	return svc
}

func TestService_SQLiteScenario(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), database.DefaultFileName))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	pub := &recordingPublisher{}
	svc := startService(t, db, records.DefaultConfig())
	svc.SetPublisher(pub)
	ctx := context.Background()

	inserted, err := svc.InsertAll(ctx, []database.WeightRecord{{Weight: 70.5, Date: "2024-01-01", Time: "08:00"}})
	if err != nil {
		t.Fatalf("InsertAll returned error: %v", err)
	}
	if len(inserted) != 1 || inserted[0].UID == 0 {
		t.Fatalf("unexpected insert result: %+v", inserted)
	}

	all, err := svc.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
	if len(all) != 1 || all[0] != inserted[0] {
		t.Fatalf("unexpected GetAll result: %+v", all)
	}
	if count, err := svc.Count(ctx); err != nil || count != 1 {
		t.Fatalf("Count() = %d, %v; want 1", count, err)
	}

	byID, err := svc.LoadAllByIDs(ctx, []int64{inserted[0].UID, 12345})
	if err != nil {
		t.Fatalf("LoadAllByIDs returned error: %v", err)
	}
	if len(byID) != 1 {
		t.Fatalf("expected 1 record, got %d", len(byID))
	}

	if err := svc.Delete(ctx, inserted[0]); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	byID, err = svc.LoadAllByIDs(ctx, []int64{inserted[0].UID})
	if err != nil {
		t.Fatalf("LoadAllByIDs returned error: %v", err)
	}
	if len(byID) != 0 {
		t.Fatalf("expected deleted record to be gone, got %+v", byID)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.changes) != 2 {
		t.Fatalf("expected 2 published changes, got %d", len(pub.changes))
	}
	if pub.changes[0].Op != records.OpInserted || pub.changes[1].Op != records.OpDeleted {
		t.Fatalf("unexpected change ops: %+v", pub.changes)
	}
}

func TestService_EmptyInputsSkipStore(t *testing.T) {
	store := &mockStore{
		loadFn: func(context.Context, []int64) ([]database.WeightRecord, error) {
			t.Fatal("store should not be called for empty ids")
			return nil, nil
		},
		insertFn: func(context.Context, []database.WeightRecord) ([]database.WeightRecord, error) {
			t.Fatal("store should not be called for empty batch")
			return nil, nil
		},
	}
	svc := startService(t, store, records.DefaultConfig())

	got, err := svc.LoadAllByIDs(context.Background(), nil)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v, %v", got, err)
	}
	inserted, err := svc.InsertAll(context.Background(), []database.WeightRecord{})
	if err != nil || inserted == nil || len(inserted) != 0 {
		t.Fatalf("expected empty result, got %v, %v", inserted, err)
	}
}

func TestService_PropagatesStoreError(t *testing.T) {
	store := &mockStore{
		getAllFn: func(context.Context) ([]database.WeightRecord, error) {
			return nil, database.ErrOperation
		},
		insertFn: func(context.Context, []database.WeightRecord) ([]database.WeightRecord, error) {
			return nil, database.ErrOperation
		},
	}
	pub := &recordingPublisher{}
	svc := startService(t, store, records.DefaultConfig())
	svc.SetPublisher(pub)

	if _, err := svc.GetAll(context.Background()); !errors.Is(err, database.ErrOperation) {
		t.Fatalf("expected ErrOperation, got %v", err)
	}
	if _, err := svc.InsertAll(context.Background(), []database.WeightRecord{{Weight: 1}}); !errors.Is(err, database.ErrOperation) {
		t.Fatalf("expected ErrOperation, got %v", err)
	}
	if len(pub.changes) != 0 {
		t.Fatalf("failed insert should not publish, got %+v", pub.changes)
	}
}

func TestService_StoppedRejectsWork(t *testing.T) {
	svc := records.New(&mockStore{}, records.DefaultConfig())

	if _, err := svc.GetAll(context.Background()); !errors.Is(err, records.ErrStopped) {
		t.Fatalf("expected ErrStopped before Start, got %v", err)
	}

	svc.Start()
	if !svc.IsRunning() {
		t.Fatal("expected service to be running")
	}
	svc.Stop()
	svc.Stop()

	if err := svc.Delete(context.Background(), database.WeightRecord{UID: 1}); !errors.Is(err, records.ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestService_QueuedJobAbandoned(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	store := &mockStore{
		getAllFn: func(ctx context.Context) ([]database.WeightRecord, error) {
			if calls.Add(1) == 1 {
				close(started)
				<-release
			}
			return []database.WeightRecord{}, nil
		},
	}
	svc := startService(t, store, records.Config{Workers: 1, QueueSize: 1})

	// Occupy the only worker
	blocked := make(chan error, 1)
	go func() {
		_, err := svc.GetAll(context.Background())
		blocked <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.GetAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := <-blocked; err != nil {
		t.Fatalf("blocking GetAll returned error: %v", err)
	}
	// The worker skips the abandoned job instead of running it
	if _, err := svc.GetAll(context.Background()); err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected abandoned job to be skipped, store called %d times", got)
	}
}

func TestService_RunningJobHonoursCallerContext(t *testing.T) {
	store := &mockStore{
		getAllFn: func(ctx context.Context) ([]database.WeightRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := startService(t, store, records.Config{Workers: 1, QueueSize: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := svc.GetAll(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestService_CommittedInsertReportedAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &mockStore{
		insertFn: func(_ context.Context, rs []database.WeightRecord) ([]database.WeightRecord, error) {
			// Caller gives up while the batch commits
			cancel()
			time.Sleep(10 * time.Millisecond)
			out := make([]database.WeightRecord, len(rs))
			for i, r := range rs {
				r.UID = int64(i + 1)
				out[i] = r
			}
			return out, nil
		},
	}
	pub := &recordingPublisher{}
	svc := startService(t, store, records.Config{Workers: 1, QueueSize: 1})
	svc.SetPublisher(pub)

	inserted, err := svc.InsertAll(ctx, []database.WeightRecord{{Weight: 70.5, Date: "2024-01-01", Time: "08:00"}})
	if err != nil {
		t.Fatalf("InsertAll returned error for a committed batch: %v", err)
	}
	if len(inserted) != 1 || inserted[0].UID != 1 {
		t.Fatalf("unexpected insert result: %+v", inserted)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.changes) != 1 || pub.changes[0].Op != records.OpInserted {
		t.Fatalf("expected one inserted change, got %+v", pub.changes)
	}
}

func TestService_OperationTimeoutApplied(t *testing.T) {
	store := &mockStore{
		getAllFn: func(ctx context.Context) ([]database.WeightRecord, error) {
			if _, ok := ctx.Deadline(); !ok {
				return nil, errors.New("expected a deadline on the store context")
			}
			return []database.WeightRecord{}, nil
		},
	}
	svc := startService(t, store, records.Config{Workers: 1, QueueSize: 4, OperationTimeout: time.Second})

	if _, err := svc.GetAll(context.Background()); err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
}

func TestService_SingleWorkerPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int64
	store := &mockStore{
		deleteFn: func(_ context.Context, r database.WeightRecord) error {
			mu.Lock()
			order = append(order, r.UID)
			mu.Unlock()
			return nil
		},
	}
	svc := startService(t, store, records.Config{Workers: 1, QueueSize: 16})

	for uid := int64(1); uid <= 10; uid++ {
		if err := svc.Delete(context.Background(), database.WeightRecord{UID: uid}); err != nil {
			t.Fatalf("Delete returned error: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, uid := range order {
		if uid != int64(i+1) {
			t.Fatalf("expected uid %d at position %d, got %d", i+1, i, uid)
		}
	}
}

func TestService_RecoversFromPanic(t *testing.T) {
	store := &mockStore{
		getAllFn: func(context.Context) ([]database.WeightRecord, error) {
			panic("boom")
		},
	}
	svc := startService(t, store, records.Config{Workers: 1, QueueSize: 1})

	if _, err := svc.GetAll(context.Background()); !errors.Is(err, database.ErrOperation) {
		t.Fatalf("expected ErrOperation from panic, got %v", err)
	}
	// Worker is still alive
	if err := svc.Delete(context.Background(), database.WeightRecord{UID: 1}); err != nil {
		t.Fatalf("Delete after panic returned error: %v", err)
	}
}

func TestService_ConcurrentCallers(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), database.DefaultFileName))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	svc := startService(t, db, records.Config{Workers: 4, QueueSize: 8, OperationTimeout: 10 * time.Second})

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := range callers {
		wg.Go(func() {
			_, err := svc.InsertAll(context.Background(), []database.WeightRecord{{Weight: float64(i), Date: "2024-05-01", Time: "12:00"}})
			errs <- err
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("InsertAll returned error: %v", err)
		}
	}

	all, err := svc.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
	if len(all) != callers {
		t.Fatalf("expected %d records, got %d", callers, len(all))
	}
}
