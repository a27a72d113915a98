// Package watcher implements the Change Watcher (C2): it detects that the
// configuration file changed by polling the line count of an append-only
// events file, decoupling the gateway from any inotify-style dependency
// (an external helper is responsible for appending to that file whenever
// local-device.ini is written).
package watcher

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/kloudnuk/bacnet-gateway/internal/logging"
	"github.com/kloudnuk/bacnet-gateway/internal/metrics"
)

// Syncer is the subset of the Config Store the watcher depends on.
type Syncer interface {
	Sync() error
}

// MaxEvents is the line count at which the events file is truncated to
// bound its growth (§4.2).
const MaxEvents = 5000

// PollInterval is how often the watcher checks the events file.
const PollInterval = 60 * time.Second

// Watcher polls eventsPath and drives Syncer.Sync when it grows.
type Watcher struct {
	mu         sync.Mutex
	eventsPath string
	last       int
	syncer     Syncer
	log        logging.Logger
}

// New builds a Watcher for eventsPath against the given Syncer.
func New(eventsPath string, syncer Syncer) *Watcher {
	return &Watcher{
		eventsPath: eventsPath,
		syncer:     syncer,
		log:        logging.GetLogger().WithField("log", "watcher"),
	}
}

// Tick performs one check-and-maybe-sync cycle, implementing the §4.2
// algorithm exactly:
//   - current > last: invoke Sync, set last = current.
//   - current < last: assume rotation; set last = current without syncing.
//   - current > MaxEvents: truncate the file and reset last to 0.
func (w *Watcher) Tick() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	current, err := countLines(w.eventsPath)
	if err != nil {
		return err
	}

	switch {
	case current > w.last:
		if err := w.syncer.Sync(); err != nil {
			w.log.Error("config sync failed", logging.Err(err))
			return err
		}
		metrics.ConfigSyncs.Inc()
		w.last = current
	case current < w.last:
		w.last = current
	}

	if current > MaxEvents {
		if err := os.Truncate(w.eventsPath, 0); err != nil {
			w.log.Error("failed to truncate events file", logging.Err(err))
			return err
		}
		w.last = 0
	}
	return nil
}

// Run drives Tick on PollInterval until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.Tick(); err != nil {
				w.log.Error("watcher tick failed", logging.Err(err))
			}
		}
	}
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
