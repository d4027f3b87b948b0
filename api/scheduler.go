/*
scheduler.go - Periodic low-stock monitor

PURPOSE:
  Periodically scans the inventory, publishes stock gauges and logs items
  that drop below (or recover above) their low-stock threshold. The
  dashboard's low-stock badge is computed on read; this is the push side
  for operators watching logs and Prometheus.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Logs a warning only when an item crosses below its threshold, not on
    every run while it stays low
  - Keeps the last run for GET /api/admin/monitor

CONFIGURATION:
  - CheckInterval: How often to check (STOCK_MONITOR_INTERVAL, default 15m)
  - Enabled: Whether the monitor is active (interval > 0)

USAGE:
  monitor := NewStockMonitor(store, metrics, logger)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - handlers.go: InventorySummary (same aggregation, on demand)
  - metrics/metrics.go: InventoryObserved
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/retail"
)

const defaultMonitorInterval = 15 * time.Minute

// ItemLister is the slice of retail.InventoryStore the monitor reads.
type ItemLister interface {
	ListItems(ctx context.Context) ([]retail.InventoryItem, error)
}

// InventoryReporter receives the outcome of each run, e.g. for metrics.
type InventoryReporter interface {
	InventoryObserved(summary retail.InventorySummary)
	MonitorRunFinished(failed bool)
}

// MonitorRun is the record of one scan.
type MonitorRun struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Status      string // "completed" | "failed"
	Error       string
	Summary     retail.InventorySummary
	LowStock    []retail.InventoryItem
}

// StockMonitor watches stock levels in the background.
type StockMonitor struct {
	Items         ItemLister
	Reporter      InventoryReporter
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu   sync.Mutex
	last    *MonitorRun
	alerted map[retail.ItemID]bool
}

// NewStockMonitor creates a monitor. reporter may be nil.
func NewStockMonitor(items ItemLister, reporter InventoryReporter, log *slog.Logger) *StockMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &StockMonitor{
		Items:         items,
		Reporter:      reporter,
		Logger:        log.With("component", "stock_monitor"),
		CheckInterval: defaultMonitorInterval,
		Enabled:       true,
		alerted:       make(map[retail.ItemID]bool),
	}
}

// Start begins the monitor.
func (sm *StockMonitor) Start() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.Enabled || sm.CheckInterval <= 0 {
		sm.Logger.Info("disabled, not starting")
		return
	}
	if sm.ticker != nil {
		return
	}

	sm.ticker = time.NewTicker(sm.CheckInterval)
	sm.stop = make(chan struct{})
	sm.wg.Add(1)

	go sm.run(sm.ticker, sm.stop)

	sm.Logger.Info("started", "interval", sm.CheckInterval.String())
}

// Stop stops the monitor and waits for an in-progress run to finish.
func (sm *StockMonitor) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.ticker != nil {
		sm.ticker.Stop()
		close(sm.stop)
		sm.wg.Wait()
		sm.ticker = nil
		sm.Logger.Info("stopped")
	}
}

func (sm *StockMonitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sm.wg.Done()

	// Run immediately on start
	sm.checkAndReport(context.Background())

	for {
		select {
		case <-ticker.C:
			sm.checkAndReport(context.Background())
		case <-stop:
			return
		}
	}
}

func (sm *StockMonitor) checkAndReport(ctx context.Context) MonitorRun {
	sm.runMu.Lock()
	defer sm.runMu.Unlock()

	run := MonitorRun{StartedAt: time.Now().UTC(), Status: "completed"}

	items, err := sm.Items.ListItems(ctx)
	if err != nil {
		run.Status = "failed"
		run.Error = err.Error()
		run.CompletedAt = time.Now().UTC()
		sm.Logger.Error("listing inventory failed", "error", err)
		sm.finish(run)
		return run
	}

	run.Summary = retail.SummarizeInventory(items)
	run.LowStock = retail.LowStockItems(items)

	low := make(map[retail.ItemID]bool, len(run.LowStock))
	for _, item := range run.LowStock {
		low[item.ID] = true
		if !sm.alerted[item.ID] {
			sm.Logger.Warn("item below low-stock threshold",
				"item_id", item.ID, "item", item.Name,
				"quantity", item.Quantity, "threshold", item.LowStockThreshold)
		}
	}
	for id := range sm.alerted {
		if !low[id] {
			sm.Logger.Info("item back above low-stock threshold", "item_id", id)
		}
	}
	sm.alerted = low

	if sm.Reporter != nil {
		sm.Reporter.InventoryObserved(run.Summary)
	}
	run.CompletedAt = time.Now().UTC()
	sm.Logger.Debug("check completed",
		"items", run.Summary.UniqueItems, "low_stock", run.Summary.LowStockCount)
	sm.finish(run)
	return run
}

func (sm *StockMonitor) finish(run MonitorRun) {
	if sm.Reporter != nil {
		sm.Reporter.MonitorRunFinished(run.Status == "failed")
	}
	sm.last = &run
}

// RunNow triggers an immediate check (for testing/admin).
func (sm *StockMonitor) RunNow(ctx context.Context) MonitorRun {
	return sm.checkAndReport(ctx)
}

// LastRun returns the most recent run, or nil before the first one.
func (sm *StockMonitor) LastRun() *MonitorRun {
	sm.runMu.Lock()
	defer sm.runMu.Unlock()
	if sm.last == nil {
		return nil
	}
	run := *sm.last
	return &run
}

// GetNextRunTime returns when the next scheduled check will occur, or the
// zero time when the monitor is not running.
func (sm *StockMonitor) GetNextRunTime() time.Time {
	sm.mu.Lock()
	running := sm.ticker != nil
	sm.mu.Unlock()
	if !running {
		return time.Time{}
	}
	last := sm.LastRun()
	if last == nil {
		return time.Now().UTC().Add(sm.CheckInterval)
	}
	return last.StartedAt.Add(sm.CheckInterval)
}

// =============================================================================
// MONITOR HANDLERS
// =============================================================================

// MonitorStatus reports the last run and schedule. Admin only.
func (h *Handler) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	if err := retail.RequireAdmin(identityFrom(r.Context()), retail.MsgAdminsOnly); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonitorStatusDTO(h.Monitor))
}

// RunMonitor triggers a check immediately and returns its result. Admin only.
func (h *Handler) RunMonitor(w http.ResponseWriter, r *http.Request) {
	if err := retail.RequireAdmin(identityFrom(r.Context()), retail.MsgAdminsOnly); err != nil {
		writeError(w, r, err)
		return
	}
	if h.Monitor == nil {
		writeError(w, r, &retail.NotFoundError{Kind: "Monitor"})
		return
	}
	run := h.Monitor.RunNow(r.Context())
	logger.WithCtx(r.Context()).Info("stock monitor run triggered", "status", run.Status)
	writeJSON(w, http.StatusOK, toMonitorRunDTO(run))
}
