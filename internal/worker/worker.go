// file: internal/worker/worker.go
// version: 1.0.0
// guid: 1e2f3a4b-5c6d-7e8f-9a0b-1c2d3e4f5a6b

package worker

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jdfalk/library-manager/internal/backup"
	"github.com/jdfalk/library-manager/internal/config"
	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/layers"
	"github.com/jdfalk/library-manager/internal/metrics"
	"github.com/jdfalk/library-manager/internal/providers"
	"github.com/jdfalk/library-manager/internal/ratelimit"
	"github.com/jdfalk/library-manager/internal/scanner"
	"github.com/jdfalk/library-manager/internal/status"
)

// stopPoll is how often the inter-cycle sleep re-checks for shutdown.
const stopPoll = 10 * time.Second

// maxIdleBackoff caps the wait between passes when every remaining queue
// item is blocked behind an open breaker.
const maxIdleBackoff = 10 * time.Minute

// maxIdlePasses is how many consecutive empty passes end the cycle; the
// blocked items stay queued for the next cycle.
const maxIdlePasses = 3

// Worker is the long-running scheduler: scan, process the queue layer by
// layer, sleep, repeat. The limiter (and with it all breaker state) lives
// for the worker's whole lifetime; configuration is re-read every cycle.
type Worker struct {
	store    *database.Store
	tracker  *status.Tracker
	limiter  *ratelimit.Limiter
	stop     chan struct{}
	stopOnce sync.Once
	kick     chan struct{}
}

// New creates a Worker.
func New(store *database.Store, tracker *status.Tracker) *Worker {
	return &Worker{
		store:   store,
		tracker: tracker,
		limiter: ratelimit.New(),
		stop:    make(chan struct{}),
		kick:    make(chan struct{}, 1),
	}
}

// Stop asks the worker to finish the current item and return. Safe to call
// more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Kick wakes the worker from its inter-cycle sleep, starting the next cycle
// early. Used by the watch-folder monitor.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run executes scan-and-process cycles until Stop or context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	cfg := config.Load()
	if cfg.WatchFolder != "" {
		mon, err := newMonitor(cfg.WatchFolder, time.Duration(cfg.WatchIntervalSeconds)*time.Second, w.Kick)
		if err != nil {
			log.Printf("[WARN] watch-folder monitor unavailable: %v", err)
		} else {
			go mon.run(ctx, w.stop)
			defer mon.close()
		}
	}

	for {
		cfg = config.Load()
		w.cycle(ctx, &cfg)
		if !w.sleep(ctx, time.Duration(cfg.ScanIntervalHours)*time.Hour) {
			return nil
		}
	}
}

// RunOnce performs a single scan-and-process cycle.
func (w *Worker) RunOnce(ctx context.Context) {
	cfg := config.Load()
	w.cycle(ctx, &cfg)
}

func (w *Worker) cycle(ctx context.Context, cfg *config.Config) {
	cycleID := ulid.Make().String()
	log.Printf("[INFO] cycle %s starting", cycleID)
	w.tracker.Update(func(s *status.Snapshot) {
		s.Active = true
		s.Stage = "scanning"
	})
	defer w.tracker.Update(func(s *status.Snapshot) {
		s.Active = false
		s.Stage = "idle"
		s.CurrentBook = ""
		s.CurrentAuthor = ""
	})

	reg := providers.NewRegistry(cfg, w.limiter)
	engine := layers.New(cfg, w.store, reg, w.tracker)
	w.tracker.Update(func(s *status.Snapshot) {
		s.ProviderChain = reg.SearchChainNames()
	})

	if _, err := scanner.New(cfg, w.store).ScanAll(ctx); err != nil {
		log.Printf("[ERROR] cycle %s scan failed: %v", cycleID, err)
	}
	if n, err := w.store.CountBooks(); err == nil {
		metrics.SetBooks(n)
	}

	if n, err := engine.ProcessRequeueChecks(ctx); err != nil {
		log.Printf("[ERROR] cycle %s requeue checks failed: %v", cycleID, err)
	} else if n > 0 {
		log.Printf("[INFO] cycle %s re-verified %d requeued books", cycleID, n)
	}

	if cfg.AutoFix {
		dir := filepath.Join(filepath.Dir(cfg.DatabasePath), "backups")
		if info, err := backup.Snapshot(cfg.DatabasePath, dir, backup.DefaultKeep); err != nil {
			log.Printf("[WARN] cycle %s database snapshot failed: %v", cycleID, err)
		} else {
			log.Printf("[INFO] cycle %s database snapshot %s", cycleID, info.Path)
		}
	}

	w.tracker.Update(func(s *status.Snapshot) { s.Stage = "processing" })
	w.processAllQueue(ctx, cfg, engine)
	log.Printf("[INFO] cycle %s complete", cycleID)
}

// batchSpacing converts the hourly request budget into a floor delay between
// batches. Never under 2 seconds.
func batchSpacing(maxRequestsPerHour int) time.Duration {
	secs := 3600 / maxRequestsPerHour
	if secs < 2 {
		secs = 2
	}
	return time.Duration(secs) * time.Second
}

// processAllQueue drains the queue in layer order. A pass that moves nothing
// means everything left is blocked (open breaker, disabled trailing layer);
// the wait doubles and after a few empty passes the cycle ends with the
// items still queued. Nothing is ever skipped permanently.
func (w *Worker) processAllQueue(ctx context.Context, cfg *config.Config, engine *layers.Engine) {
	spacing := batchSpacing(cfg.MaxRequestsPerHour)
	idleWait := spacing
	idlePasses := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		depth, err := w.store.QueueDepth()
		if err != nil {
			log.Printf("[ERROR] queue depth: %v", err)
			return
		}
		metrics.SetQueue(depth)
		w.tracker.Update(func(s *status.Snapshot) { s.QueueRemaining = depth })
		if depth == 0 {
			return
		}

		processed := w.runLayers(ctx, cfg, engine)

		if processed == 0 {
			idlePasses++
			if idlePasses >= maxIdlePasses {
				log.Printf("[WARN] %d queue items blocked, deferring to next cycle", depth)
				return
			}
			if !w.sleep(ctx, idleWait) {
				return
			}
			idleWait *= 2
			if idleWait > maxIdleBackoff {
				idleWait = maxIdleBackoff
			}
			continue
		}
		idlePasses = 0
		idleWait = spacing
		if !w.sleep(ctx, spacing) {
			return
		}
	}
}

// runLayers runs one batch through every enabled layer, advancing items out
// of disabled ones so nothing strands mid-ladder.
func (w *Worker) runLayers(ctx context.Context, cfg *config.Config, engine *layers.Engine) int {
	processed := 0

	if w.limiter.IsOpen("skaldleita") {
		// The primary service gates layer 1; wait out the cooldown rather
		// than burning the batch on guaranteed retries.
		w.limiter.WaitForClose(ctx, "skaldleita", ratelimit.MaxLayerWait)
	}
	n, err := engine.ProcessAudioID(ctx)
	logLayerErr(1, err)
	processed += n

	if cfg.EnableAPILookups {
		n, err = engine.ProcessAPILookup(ctx)
		logLayerErr(2, err)
	} else {
		n, err = engine.AdvanceDisabledLayer(layers.LayerAPILookup, layers.LayerAIVerify)
		logLayerErr(2, err)
	}
	processed += n

	if cfg.EnableAIVerification {
		n, err = engine.ProcessAIVerify(ctx)
		logLayerErr(3, err)
	} else {
		n, err = engine.AdvanceDisabledLayer(layers.LayerAIVerify, layers.LayerAudioCredits)
		logLayerErr(3, err)
	}
	processed += n

	if cfg.EnableAudioAnalysis {
		n, err = engine.ProcessAudioCredits(ctx)
		logLayerErr(4, err)
	} else {
		n, err = engine.AdvanceDisabledLayer(layers.LayerAudioCredits, layers.LayerContent)
		logLayerErr(4, err)
	}
	processed += n

	if cfg.EnableContentAnalysis {
		n, err = engine.ProcessContent(ctx)
		logLayerErr(5, err)
		processed += n
	}

	return processed
}

func logLayerErr(layer int, err error) {
	if err != nil {
		log.Printf("[ERROR] layer %d batch failed: %v", layer, err)
	}
}

// sleep waits for d, polling for shutdown every stopPoll and waking early on
// a Kick. Returns false when the worker should exit.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		tick := stopPoll
		if remaining < tick {
			tick = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-w.stop:
			return false
		case <-w.kick:
			return true
		case <-time.After(tick):
		}
	}
}
