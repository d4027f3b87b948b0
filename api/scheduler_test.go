package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/metrics"
	"github.com/warp/stockroom/retail"
	"github.com/warp/stockroom/retail/store"
)

func stockItem(id, name string, qty, threshold int) retail.InventoryItem {
	return retail.InventoryItem{
		ID: retail.ItemID(id), Name: name, Price: decimal.RequireFromString("2.00"),
		Quantity: qty, Category: "General", LowStockThreshold: threshold,
		CreatedAt: time.Now().UTC(),
	}
}

type failingLister struct{}

func (failingLister) ListItems(context.Context) ([]retail.InventoryItem, error) {
	return nil, errors.New("database is locked")
}

// syncBuffer lets the monitor goroutine and the test share a log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStockMonitor_RunNowReportsLowStock(t *testing.T) {
	// GIVEN: one healthy item and one below its threshold
	// WHEN: the monitor runs
	// THEN: the run lists the low item and the gauges match

	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateItem(ctx, stockItem("i-1", "Widget", 10, 5)))
	require.NoError(t, s.CreateItem(ctx, stockItem("i-2", "Gadget", 2, 5)))
	m := metrics.New()
	monitor := NewStockMonitor(s, m, logger.Discard())

	run := monitor.RunNow(ctx)

	assert.Equal(t, "completed", run.Status)
	require.Len(t, run.LowStock, 1)
	assert.Equal(t, "Gadget", run.LowStock[0].Name)
	assert.Equal(t, 12, run.Summary.TotalUnits)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowStockItems))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.StockUnits))
	assert.InDelta(t, 24.0, testutil.ToFloat64(m.InventoryValue), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorRuns.WithLabelValues("completed")))

	last := monitor.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, run.StartedAt, last.StartedAt)
}

func TestStockMonitor_WarnsOnlyOnCrossing(t *testing.T) {
	// GIVEN: an item below its threshold
	// WHEN: the monitor runs twice, then the item is restocked and it runs again
	// THEN: one warning, then one recovery line

	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateItem(ctx, stockItem("i-1", "Gadget", 1, 5)))
	var out syncBuffer
	monitor := NewStockMonitor(s, nil, logger.NewWithWriter(&out, true, "info"))

	monitor.RunNow(ctx)
	monitor.RunNow(ctx)
	assert.Equal(t, 1, strings.Count(out.String(), "item below low-stock threshold"))

	_, err := s.AdjustQuantity(ctx, "i-1", 10)
	require.NoError(t, err)
	run := monitor.RunNow(ctx)

	assert.Empty(t, run.LowStock)
	assert.Equal(t, 1, strings.Count(out.String(), "item back above low-stock threshold"))
}

func TestStockMonitor_FailedRun(t *testing.T) {
	m := metrics.New()
	monitor := NewStockMonitor(failingLister{}, m, logger.Discard())

	run := monitor.RunNow(context.Background())

	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, "database is locked", run.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MonitorRuns.WithLabelValues("failed")))
}

func TestStockMonitor_StartRunsImmediatelyAndStops(t *testing.T) {
	s := store.NewMemory()
	require.NoError(t, s.CreateItem(context.Background(), stockItem("i-1", "Widget", 1, 5)))
	monitor := NewStockMonitor(s, nil, logger.Discard())
	monitor.CheckInterval = time.Hour

	monitor.Start()
	require.Eventually(t, func() bool { return monitor.LastRun() != nil }, time.Second, 5*time.Millisecond)
	assert.False(t, monitor.GetNextRunTime().IsZero())

	monitor.Stop()
	monitor.Stop()
	assert.True(t, monitor.GetNextRunTime().IsZero())
}

func TestStockMonitor_DisabledDoesNotStart(t *testing.T) {
	monitor := NewStockMonitor(store.NewMemory(), nil, logger.Discard())
	monitor.Enabled = false

	monitor.Start()
	defer monitor.Stop()

	assert.Nil(t, monitor.LastRun())
	assert.True(t, monitor.GetNextRunTime().IsZero())
}

// =============================================================================
// HTTP
// =============================================================================

func TestAPI_Monitor(t *testing.T) {
	ts := newTestServer(t)
	ts.addItem("Widget", 2)

	var status MonitorStatusDTO
	assert.Equal(t, http.StatusOK, ts.do(retail.RoleAdmin, http.MethodGet, "/api/admin/monitor", nil, &status))
	assert.Nil(t, status.LastRun)
	assert.Empty(t, status.NextRun, "not started")

	var denied ErrorResponse
	assert.Equal(t, http.StatusForbidden, ts.do(retail.RoleFinance, http.MethodPost, "/api/admin/monitor/run", nil, &denied))
	assert.Equal(t, "Access Denied: Admins only", denied.Message)

	var run MonitorRunDTO
	assert.Equal(t, http.StatusOK, ts.do(retail.RoleAdmin, http.MethodPost, "/api/admin/monitor/run", nil, &run))
	assert.Equal(t, "completed", run.Status)
	require.Len(t, run.LowStock, 1)
	assert.Equal(t, "Widget", run.LowStock[0].Item)
	assert.Equal(t, 1, run.Summary.LowStockCount)

	assert.Equal(t, http.StatusOK, ts.do(retail.RoleAdmin, http.MethodGet, "/api/admin/monitor", nil, &status))
	require.NotNil(t, status.LastRun)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.LowStockItems))
}
