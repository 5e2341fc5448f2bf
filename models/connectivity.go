package models

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohanthewiz/logger"
)

// ============================================================================
// Connectivity Monitor
//
// Polls the remote health endpoint on a short interval and exposes the
// current verdict. The offline→online edge fires the registered trigger
// exactly once per transition, so a flapping link cannot stampede the
// engine with redundant cycles.
// ============================================================================

type ConnectivityMonitor struct {
	rc       *RemoteClient
	interval time.Duration
	online   atomic.Bool
	cancel   context.CancelFunc

	mu        sync.Mutex
	onRegain  func()
	wasOnline bool
}

func NewConnectivityMonitor(rc *RemoteClient, interval time.Duration) *ConnectivityMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ConnectivityMonitor{rc: rc, interval: interval}
}

// OnRegain registers the callback invoked once per offline→online edge.
// Must be set before Start.
func (cm *ConnectivityMonitor) OnRegain(fn func()) {
	cm.mu.Lock()
	cm.onRegain = fn
	cm.mu.Unlock()
}

// Online reports the last observed verdict without touching the network.
func (cm *ConnectivityMonitor) Online() bool {
	return cm.online.Load()
}

// Start launches the polling goroutine. The first probe runs immediately so
// callers get a verdict without waiting out an interval.
func (cm *ConnectivityMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	cm.cancel = cancel

	go cm.loop(ctx)
	logger.Info("Connectivity monitor started", "interval", cm.interval.String())
}

func (cm *ConnectivityMonitor) Stop() {
	if cm.cancel != nil {
		cm.cancel()
	}
}

func (cm *ConnectivityMonitor) loop(ctx context.Context) {
	cm.probe(ctx)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.probe(ctx)
		}
	}
}

// probe checks the health endpoint and handles the transition edges.
func (cm *ConnectivityMonitor) probe(ctx context.Context) {
	err := cm.rc.Health(ctx)
	nowOnline := err == nil
	cm.online.Store(nowOnline)

	cm.mu.Lock()
	regained := nowOnline && !cm.wasOnline
	lost := !nowOnline && cm.wasOnline
	cm.wasOnline = nowOnline
	fn := cm.onRegain
	cm.mu.Unlock()

	if lost {
		logger.Info("Remote service unreachable, entering offline mode")
	}
	if regained {
		logger.Info("Connectivity regained")
		if fn != nil {
			go fn()
		}
	}
}
