// Package newrelic provides New Relic APM integration for monitoring the
// judge RPC client.
package newrelic

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/tos-network/goldrush/internal/config"
	"github.com/tos-network/goldrush/internal/util"
)

// Agent wraps New Relic APM functionality.
type Agent struct {
	cfg *config.NewRelicConfig
	app *newrelic.Application
	mu  sync.RWMutex
}

// NewAgent creates a new New Relic agent.
func NewAgent(cfg *config.NewRelicConfig) *Agent {
	return &Agent{cfg: cfg}
}

// Start initializes the New Relic agent.
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("New Relic APM disabled")
		return nil
	}
	if a.cfg.LicenseKey == "" {
		util.Warn("New Relic license key not configured, APM disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}

	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("New Relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()

	util.Infof("New Relic APM enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop shuts down the New Relic agent.
func (a *Agent) Stop() {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		util.Info("shutting down New Relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// Application returns the underlying New Relic application (for middleware).
func (a *Agent) Application() *newrelic.Application {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app
}

// IsEnabled returns true once Start has created the New Relic application,
// even if the initial connection wait timed out.
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app != nil
}

// StartTransaction starts a new New Relic transaction.
func (a *Agent) StartTransaction(name string) *newrelic.Transaction {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app == nil {
		return nil
	}
	return app.StartTransaction(name)
}

// RecordCustomEvent records a custom event.
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric.
func (a *Agent) RecordCustomMetric(name string, value float64) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomMetric(name, value)
	}
}

// NoticeError records an error against a transaction.
func (a *Agent) NoticeError(txn *newrelic.Transaction, err error) {
	if txn != nil && err != nil {
		txn.NoticeError(err)
	}
}

// NewContext adds a transaction to ctx.
func (a *Agent) NewContext(ctx context.Context, txn *newrelic.Transaction) context.Context {
	if txn == nil {
		return ctx
	}
	return newrelic.NewContext(ctx, txn)
}

// FromContext retrieves a transaction from ctx.
func (a *Agent) FromContext(ctx context.Context) *newrelic.Transaction {
	return newrelic.FromContext(ctx)
}

// RecordExploreCall records an /explore call's outcome and latency.
func (a *Agent) RecordExploreCall(areaSize uint64, elapsed time.Duration, statusCode int) {
	a.RecordCustomEvent("ExploreCall", map[string]interface{}{
		"areaSize":   areaSize,
		"elapsedMs":  elapsed.Milliseconds(),
		"statusCode": statusCode,
	})
}

// RecordDigCall records a /dig call's outcome and latency.
func (a *Agent) RecordDigCall(depth uint8, found bool, elapsed time.Duration, statusCode int) {
	a.RecordCustomEvent("DigCall", map[string]interface{}{
		"depth":      depth,
		"found":      found,
		"elapsedMs":  elapsed.Milliseconds(),
		"statusCode": statusCode,
	})
}

// RecordCashCall records a /cash call's payout and latency.
func (a *Agent) RecordCashCall(amount uint64, elapsed time.Duration, statusCode int) {
	a.RecordCustomEvent("CashCall", map[string]interface{}{
		"amount":     amount,
		"elapsedMs":  elapsed.Milliseconds(),
		"statusCode": statusCode,
	})
}

// RecordLicensePurchase records a /licenses call's latency and outcome.
func (a *Agent) RecordLicensePurchase(elapsed time.Duration, statusCode int) {
	a.RecordCustomEvent("LicensePurchase", map[string]interface{}{
		"elapsedMs":  elapsed.Milliseconds(),
		"statusCode": statusCode,
	})
}

// UpdateRunMetrics reports run-wide gauges: total coins banked and the
// number of digs currently waiting on a license.
func (a *Agent) UpdateRunMetrics(totalCoins uint64, digsPendingLicense uint64) {
	a.RecordCustomMetric("Custom/Run/TotalCoins", float64(totalCoins))
	a.RecordCustomMetric("Custom/Run/DigsPendingLicense", float64(digsPendingLicense))
}
