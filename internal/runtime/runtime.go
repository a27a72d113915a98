// Package runtime wires the gateway's periodic services into a single
// cooperative process: a context-cancellable set of goroutines, one per
// service loop, joined on shutdown with a WaitGroup and a bounded grace
// period. Grounded on cmd/building-integration/main.go's
// BuildingIntegrator.Start/Stop, generalized from one fixed service list to
// an arbitrary registered set.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kloudnuk/bacnet-gateway/internal/apperrors"
	"github.com/kloudnuk/bacnet-gateway/internal/config"
	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/store"
)

// ShutdownGrace is how long Stop waits for in-flight service loops to
// return after cancellation before giving up.
const ShutdownGrace = 10 * time.Second

// Task is one cooperative service loop. It must return promptly once ctx
// is done.
type Task func(ctx context.Context)

// Runtime owns the process-wide cancellation context and the set of
// registered tasks.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	tasks  []Task
	log    logging.Logger
}

// New builds a Runtime derived from parent.
func New(parent context.Context) *Runtime {
	ctx, cancel := context.WithCancel(parent)
	return &Runtime{
		ctx:    ctx,
		cancel: cancel,
		log:    logging.GetLogger().WithField("log", "runtime"),
	}
}

// Register adds task to the set started by Start. Registration after Start
// has been called has no effect on already-running tasks; register
// everything before calling Start.
func (r *Runtime) Register(task Task) {
	r.tasks = append(r.tasks, task)
}

// Start launches every registered task on its own goroutine.
func (r *Runtime) Start() {
	for _, task := range r.tasks {
		t := task
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			t(r.ctx)
		}()
	}
	r.log.Info("runtime started", logging.Int("tasks", len(r.tasks)))
}

// Stop cancels every task's context and waits up to ShutdownGrace for them
// to return.
func (r *Runtime) Stop() {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("runtime stopped cleanly")
	case <-time.After(ShutdownGrace):
		r.log.Warn("runtime shutdown grace period elapsed, some tasks may still be running")
	}
}

// Bootstrap runs the startup sequence the gateway's services depend on,
// matching the source's bootstrap order: ping the database before doing
// anything else (fatal on failure, §7's ConfigMissing severity class), then
// post one structured startup record naming the configured device once C1's
// initialized flag has flipped true.
func Bootstrap(ctx context.Context, db store.Database, cfg *config.Store) error {
	if err := db.Ping(ctx); err != nil {
		return apperrors.New(apperrors.KindDB, "database not reachable at startup", err)
	}
	if !cfg.Initialized() {
		return nil
	}

	name, _ := cfg.Read("device", "objectName")
	vendor, _ := cfg.Read("device", "vendorIdentifier")
	iface, _ := cfg.Read("network", "interface")
	logging.GetLogger().WithField("log", "runtime").Info("gateway bootstrap complete",
		logging.String("device", fmt.Sprint(name)),
		logging.String("vendorIdentifier", fmt.Sprint(vendor)),
		logging.String("interface", fmt.Sprint(iface)))
	return nil
}

// Ticker builds a Task that calls fn once immediately and then on a fixed
// period until the context is cancelled. period is how often the task
// checks in, not the service's own cadence — each fn is expected to gate
// its real work behind the Ticket Scheduler.
func Ticker(period time.Duration, fn func(ctx context.Context) error) Task {
	return func(ctx context.Context) {
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		if err := fn(ctx); err != nil {
			logging.GetLogger().Error("task cycle failed", logging.Err(err))
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					logging.GetLogger().Error("task cycle failed", logging.Err(err))
				}
			}
		}
	}
}
