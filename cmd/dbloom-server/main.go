// main.go is the entry point for the dbloom server: the shared store that
// holds distributed Bloom filter bit arrays and their config records. It
// wires together the sharded store, the journal and the RESP listener, and
// runs the background maintenance loop.
//
// Startup Sequence
// ================
//
// The store is created empty and the journal is replayed into it before any
// listener exists, so loading needs no locking. Only then is the journal
// opened for appending and the listener started.
//
// Durability Policy
// =================
//
// Writes are buffered and fsynced once per second by the maintenance loop.
// A power failure loses at most about one second of writes. Set bits are
// idempotent, so a client that re-adds an item after such a loss restores
// the filter exactly.
//
// Background Maintenance
// ======================
//
// Every second the loop fsyncs the journal and checks whether it has grown
// past -aof-min-size and by -aof-rewrite-percent over its size after the last
// compaction. If so, a compaction runs in its own goroutine. There is no key
// expiry to run: filters live until they are deleted.
//
// Graceful Shutdown
// =================
//
// On exit the journal is compacted one last time (best effort) so the next
// startup only loads a snapshot.

package main

import (
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dbloom.lopezb.com/internal/dbloom/kv"
)

type config struct {
	port              int
	maxConnections    int
	shutdownTimeout   time.Duration
	idleTimeout       time.Duration
	bfCapacity        uint64
	bfErrorRate       float64
	persistence       bool
	aofFilename       string
	aofMinSize        int64
	aofRewritePercent int
	aofLoadTruncated  bool
	metricsAddr       string
}

type application struct {
	config          config
	logger          *slog.Logger
	listener        net.Listener
	store           *kv.Store
	filters         *kv.Local
	router          *Router
	metrics         *Metrics
	readyCh         chan struct{}
	wg              sync.WaitGroup
	connLimiter     chan struct{}
	aof             *AOF
	journalMu       sync.RWMutex
	aofBaseSize     atomic.Int64
	isRewriting     atomic.Bool
	needsCompaction bool
}

func main() {
	var cfg config

	flag.IntVar(&cfg.port, "port", 6479, "TCP server port")
	flag.IntVar(&cfg.maxConnections, "max-conn", 100, "Maximum concurrent connections")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Idle client connection timeout (0 for no timeout)")
	flag.Uint64Var(&cfg.bfCapacity, "bf-capacity", 1000, "Expected insertions for filters created implicitly by BF.ADD/BF.MADD")
	flag.Float64Var(&cfg.bfErrorRate, "bf-error-rate", 0.01, "False positive rate for filters created implicitly by BF.ADD/BF.MADD")
	flag.BoolVar(&cfg.persistence, "persistence", true, "Enable AOF persistence (set false for in-memory only mode)")
	flag.StringVar(&cfg.aofFilename, "aof", "journal.aof", "Append Only File path")
	flag.Int64Var(&cfg.aofMinSize, "aof-min-size", 64*1024*1024, "Min size (bytes) to trigger AOF rewrite")
	flag.IntVar(&cfg.aofRewritePercent, "aof-rewrite-percent", 100, "Percentage growth to trigger AOF rewrite")
	flag.BoolVar(&cfg.aofLoadTruncated, "aof-load-truncated", true, "Auto-recover from truncated AOF (set false for strict mode)")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty to disable)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	app := newApplication(cfg, logger)

	if cfg.persistence {
		if err := app.loadAOF(); err != nil {
			logger.Error("failed to load AOF", "error", err)
			os.Exit(1) // Fatal: a corrupt journal means data loss
		}

		aof, err := NewAOF(cfg.aofFilename)
		if err != nil {
			logger.Error("failed to open AOF", "error", err)
			os.Exit(1)
		}
		app.aof = aof

		if size, err := aof.Size(); err == nil {
			app.aofBaseSize.Store(size)
		}

		// A truncated tail was skipped during load; rewrite the file now so
		// the damage does not survive the next restart.
		if app.needsCompaction {
			logger.Info("AOF was truncated on load, compacting to heal the file")
			if err := app.CompactAOF(); err != nil {
				logger.Error("failed to compact AOF after truncation recovery", "error", err)
			} else {
				logger.Info("AOF healed successfully")
			}
		}
	} else {
		logger.Info("persistence disabled, running in memory-only mode")
	}

	if cfg.metricsAddr != "" {
		go app.serveMetrics()
	}

	go app.maintenance()

	defer func() {
		if app.aof == nil {
			logger.Info("shutting down...")
			return
		}
		logger.Info("shutting down, compacting AOF...")
		if err := app.CompactAOF(); err != nil {
			logger.Error("failed to compact AOF on exit", "error", err)
		}
		_ = app.aof.Close()
	}()

	if err := app.serve(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// newApplication builds an application with an empty store and every
// command registered. Persistence is attached separately.
func newApplication(cfg config, logger *slog.Logger) *application {
	store := kv.NewStore()

	app := &application{
		config:      cfg,
		logger:      logger,
		store:       store,
		filters:     kv.NewLocal(store),
		metrics:     NewMetrics(),
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}
	app.router = app.commands()

	return app
}

// maintenance fsyncs the journal every second and triggers compaction when
// it has grown enough.
func (app *application) maintenance() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if app.aof == nil {
			continue
		}

		if err := app.aof.Fsync(); err != nil {
			app.logger.Error("background sync failed", "error", err)
		}

		currentSize, err := app.aof.Size()
		if err != nil {
			continue
		}

		baseSize := app.aofBaseSize.Load()

		// Small files are not worth compacting even if they doubled.
		if currentSize < app.config.aofMinSize {
			continue
		}

		growthTarget := baseSize + (baseSize * int64(app.config.aofRewritePercent) / 100)
		if currentSize <= growthTarget {
			continue
		}

		// Only one compaction at a time, shared with the COMPACT command.
		if !app.isRewriting.CompareAndSwap(false, true) {
			continue
		}

		app.logger.Info("auto-rewrite triggered",
			"current_bytes", currentSize,
			"base_bytes", baseSize,
			"threshold_percent", app.config.aofRewritePercent)

		go func() {
			defer app.isRewriting.Store(false)

			start := time.Now()
			if err := app.CompactAOF(); err != nil {
				app.logger.Error("auto-rewrite failed", "error", err)
			} else {
				app.metrics.Compactions.Inc()
				app.logger.Info("auto-rewrite completed", "duration", time.Since(start))
			}
		}()
	}
}

// serveMetrics exposes the Prometheus registry on config.metricsAddr.
func (app *application) serveMetrics() {
	srv := &http.Server{
		Addr:              app.config.metricsAddr,
		Handler:           app.metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	app.logger.Info("metrics endpoint starting", "address", app.config.metricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error("metrics endpoint stopped", "error", err)
	}
}
