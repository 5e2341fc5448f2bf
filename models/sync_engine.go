package models

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Sync Engine
//
// Background reconciler between the local store and the remote service.
// Runs one cycle at a time: connectivity check, pull (local-wins), then
// push of the durable queue through a small worker pool. The polling timer,
// the connectivity-regained trigger and the "sync now" button all funnel
// into runSyncCycle behind a TryLock, so cycles never overlap.
//
// Failure handling: consecutive failed cycles back off exponentially up to
// maxBackoff; per-task failures are booked on the task itself and surface
// as FAILED after the attempt budget (rejections immediately).
// ============================================================================

// syncEngineInstance follows the package's var db singleton pattern.
var syncEngineInstance *SyncEngine

// Engine states reported to the status surface.
const (
	EngineStateIdle     = "idle"
	EngineStateChecking = "checking"
	EngineStatePulling  = "pulling"
	EngineStatePushing  = "pushing"
	EngineStateError    = "error"
	EngineStateOffline  = "offline"
)

const maxBackoff = 5 * time.Minute

const dispatchBatchSize = 100

type SyncEngine struct {
	cfg     *SyncConfig
	rc      *RemoteClient
	monitor *ConnectivityMonitor
	session *Session

	syncMu     sync.Mutex
	enabled    atomic.Bool
	inProgress atomic.Bool
	cancelFunc context.CancelFunc

	mu                  sync.Mutex
	state               string
	lastSync            time.Time
	lastAttempt         time.Time
	lastError           error
	consecutiveFailures int
}

// NewSyncEngine wires the engine to its collaborators and registers the
// connectivity-regained trigger: failed tasks get a fresh attempt budget
// and a cycle runs immediately.
func NewSyncEngine(cfg *SyncConfig, rc *RemoteClient, monitor *ConnectivityMonitor, session *Session) (*SyncEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, serr.Wrap(err, "invalid sync config")
	}

	se := &SyncEngine{
		cfg:     cfg,
		rc:      rc,
		monitor: monitor,
		session: session,
		state:   EngineStateIdle,
	}
	se.enabled.Store(cfg.Enabled)

	monitor.OnRegain(func() {
		if !se.enabled.Load() {
			return
		}
		if _, err := ResetFailedTasks(); err != nil {
			logger.LogErr(err, "failed to reset failed tasks on reconnect")
		}
		if err := se.runSyncCycle(context.Background()); err != nil {
			logger.LogErr(err, "reconnect sync cycle failed")
		}
	})

	syncEngineInstance = se
	return se, nil
}

// GetSyncEngine returns the package-level engine. Nil when sync is not
// configured; callers must check.
func GetSyncEngine() *SyncEngine {
	return syncEngineInstance
}

// Start recovers any tasks orphaned by a crash, then launches the loop.
func (se *SyncEngine) Start(ctx context.Context) error {
	if err := resetInFlightTasks(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	se.cancelFunc = cancel

	go se.syncLoop(ctx)
	logger.Info("Sync engine started",
		"api_url", se.cfg.APIBaseURL,
		"interval", se.cfg.Interval.String(),
		"workers", se.cfg.Concurrency,
	)
	return nil
}

func (se *SyncEngine) Stop() {
	if se.cancelFunc != nil {
		se.cancelFunc()
	}
	logger.Info("Sync engine stopped")
}

// SyncNow runs a cycle synchronously so the caller observes its outcome.
func (se *SyncEngine) SyncNow() error {
	if !se.enabled.Load() {
		return serr.New("sync is disabled")
	}
	if se.inProgress.Load() {
		return serr.New("sync already in progress")
	}
	return se.runSyncCycle(context.Background())
}

// SyncDown forces a pull-only refresh from the server.
func (se *SyncEngine) SyncDown() error {
	if !se.enabled.Load() {
		return serr.New("sync is disabled")
	}
	return se.pull()
}

// SyncEntity pushes a single entity's queued mutation immediately,
// bypassing the cycle. Used by "save and sync" flows that want feedback
// for one record.
func (se *SyncEngine) SyncEntity(entityType string, entityID int64) error {
	if !se.enabled.Load() {
		return serr.New("sync is disabled")
	}

	tasks, err := dispatchableTasks(dispatchBatchSize)
	if err != nil {
		return err
	}
	for i := range tasks {
		t := tasks[i]
		if t.EntityType != entityType || t.EntityID != entityID {
			continue
		}
		claimed, err := markTaskInFlight(t.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return serr.New("entity sync already in progress")
		}
		if err := se.dispatch(&t); err != nil {
			// Book the failure so the claim is surrendered; a stranded
			// IN_FLIGHT row would never be dispatched again.
			if recErr := recordTaskFailure(&t, err, se.cfg.MaxAttempts); recErr != nil {
				logger.LogErr(recErr, "failed to record task failure")
			}
			return err
		}
		return nil
	}
	return serr.New("no pending sync task for entity",
		"entity_type", entityType)
}

// RetryFailed gives every failed task a fresh attempt budget and runs a
// cycle.
func (se *SyncEngine) RetryFailed() error {
	if _, err := ResetFailedTasks(); err != nil {
		return err
	}
	return se.SyncNow()
}

// Remote exposes the engine's remote client for ad-hoc fetches.
func (se *SyncEngine) Remote() *RemoteClient {
	return se.rc
}

func (se *SyncEngine) SetEnabled(enabled bool) {
	se.enabled.Store(enabled)
	logger.Info("Sync engine toggled", "enabled", enabled)
}

func (se *SyncEngine) IsEnabled() bool {
	return se.enabled.Load()
}

// syncLoop runs cycles on the configured interval, skipping ticks while a
// failure backoff is in effect.
func (se *SyncEngine) syncLoop(ctx context.Context) {
	if se.enabled.Load() {
		if err := se.runSyncCycle(ctx); err != nil {
			logger.LogErr(err, "initial sync cycle failed")
		}
	}

	ticker := time.NewTicker(se.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !se.enabled.Load() {
				continue
			}

			se.mu.Lock()
			failures := se.consecutiveFailures
			last := se.lastAttempt
			se.mu.Unlock()

			if failures > 0 && time.Since(last) < se.backoff(failures) {
				continue
			}

			if err := se.runSyncCycle(ctx); err != nil {
				logger.LogErr(err, "sync cycle failed", "consecutive_failures", failures+1)
			}
		}
	}
}

// runSyncCycle executes one full cycle: health, pull, push.
func (se *SyncEngine) runSyncCycle(ctx context.Context) error {
	if !se.syncMu.TryLock() {
		return nil
	}
	defer se.syncMu.Unlock()

	se.inProgress.Store(true)
	defer se.inProgress.Store(false)

	se.setState(EngineStateChecking)
	if err := se.rc.Health(ctx); err != nil {
		se.recordFailure(err, EngineStateOffline)
		return serr.Wrap(err, "remote unreachable")
	}

	// First successful contact also resolves who this device belongs to.
	// Best effort; identity is not required for the entity surface.
	if se.session.UserGUID() == "" {
		if err := se.rc.Me(); err != nil {
			logger.LogErr(err, "failed to fetch user identity")
		}
	}

	se.setState(EngineStatePulling)
	if err := se.pull(); err != nil {
		se.recordFailure(err, EngineStateError)
		return serr.Wrap(err, "pull phase failed")
	}

	se.setState(EngineStatePushing)
	if err := se.push(ctx); err != nil {
		se.recordFailure(err, EngineStateError)
		return serr.Wrap(err, "push phase failed")
	}

	now := time.Now()
	se.mu.Lock()
	se.consecutiveFailures = 0
	se.lastError = nil
	se.lastSync = now
	se.lastAttempt = now
	se.state = EngineStateIdle
	se.mu.Unlock()

	if err := se.session.MarkSynced(); err != nil {
		logger.LogErr(err, "failed to persist sync timestamp")
	}

	logger.Info("Sync cycle completed")
	return nil
}

// pull refreshes local state from the server under the local-wins policy.
func (se *SyncEngine) pull() error {
	if err := FetchRoundsFromServer(se.rc); err != nil {
		return err
	}
	if err := FetchClubsFromServer(se.rc); err != nil {
		return err
	}

	// Courses are pulled individually; only server-side ones can refresh.
	courses, err := ListCourses()
	if err != nil {
		return err
	}
	for _, c := range courses {
		if c.ID <= 0 {
			continue
		}
		if err := FetchCourseFromServer(se.rc, c.ID); err != nil {
			if StatusOf(err) == 404 {
				continue
			}
			return err
		}
	}
	return nil
}

// push drains dispatchable tasks through the worker pool. A task is
// attempted at most once per cycle; child tasks unblocked by a parent's
// reconciliation mid-cycle are picked up by the next batch.
func (se *SyncEngine) push(ctx context.Context) error {
	attempted := make(map[int64]bool)

	var firstErr error
	succeeded := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := dispatchableTasks(dispatchBatchSize)
		if err != nil {
			return err
		}

		var fresh []SyncTask
		for _, t := range batch {
			if !attempted[t.ID] {
				fresh = append(fresh, t)
				attempted[t.ID] = true
			}
		}
		if len(fresh) == 0 {
			break
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		taskCh := make(chan SyncTask)

		workers := se.cfg.Concurrency
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range taskCh {
					err := se.pushOne(&t)
					mu.Lock()
					if err != nil && firstErr == nil {
						firstErr = err
					}
					if err == nil {
						succeeded++
					}
					mu.Unlock()
				}
			}()
		}

		for _, t := range fresh {
			taskCh <- t
		}
		close(taskCh)
		wg.Wait()
	}

	// Partial progress counts as a working link; only a fully failed batch
	// trips the cycle into backoff.
	if succeeded == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// pushOne claims, dispatches and books the outcome of a single task.
func (se *SyncEngine) pushOne(task *SyncTask) error {
	claimed, err := markTaskInFlight(task.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if err := se.dispatch(task); err != nil {
		if recErr := recordTaskFailure(task, err, se.cfg.MaxAttempts); recErr != nil {
			logger.LogErr(recErr, "failed to record task failure")
		}
		return err
	}
	return nil
}

// dispatch routes a claimed task to its entity push handler. The handler
// owns completion: on success the task row is gone (or requeued with a
// fresh snapshot when a mid-flight edit was detected).
func (se *SyncEngine) dispatch(task *SyncTask) error {
	logger.Debug("Dispatching sync task",
		"entity_type", task.EntityType,
		"entity_id", task.EntityID,
		"operation", task.Operation,
	)

	switch task.EntityType {
	case EntityRound:
		return pushRound(se.rc, task)
	case EntityClub:
		return pushClub(se.rc, task)
	case EntityCourse:
		return pushCourse(se.rc, task)
	case EntityCourseHole:
		return pushCourseHole(se.rc, task)
	case EntityCoursePublish:
		return pushCoursePublish(se.rc, task)
	}
	return serr.New("unknown sync entity type", "entity_type", task.EntityType)
}

func (se *SyncEngine) setState(state string) {
	se.mu.Lock()
	se.state = state
	se.mu.Unlock()
}

func (se *SyncEngine) recordFailure(err error, state string) {
	se.mu.Lock()
	se.consecutiveFailures++
	se.lastError = err
	se.lastAttempt = time.Now()
	se.state = state
	se.mu.Unlock()
}

// backoff doubles per consecutive failure: 1s, 2s, 4s, ... capped.
func (se *SyncEngine) backoff(failures int) time.Duration {
	d := time.Second
	for i := 0; i < failures; i++ {
		d *= 2
		if d > maxBackoff {
			return maxBackoff
		}
	}
	return d
}
