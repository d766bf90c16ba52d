// Gold Rush client - treasure-hunting contest worker fleet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tos-network/goldrush/internal/accounting"
	"github.com/tos-network/goldrush/internal/api"
	"github.com/tos-network/goldrush/internal/config"
	"github.com/tos-network/goldrush/internal/domain"
	"github.com/tos-network/goldrush/internal/newrelic"
	"github.com/tos-network/goldrush/internal/notify"
	"github.com/tos-network/goldrush/internal/profiling"
	"github.com/tos-network/goldrush/internal/rpc"
	"github.com/tos-network/goldrush/internal/stats"
	"github.com/tos-network/goldrush/internal/util"
	"github.com/tos-network/goldrush/internal/worker"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("goldrush v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("goldrush v%s starting against %s with %d workers", version, cfg.Judge.URL(), cfg.Run.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := rpc.New(cfg.Judge.URL(), cfg.Judge.Timeout)
	collector := stats.NewCollector()
	acct := accounting.New(client, collector, cfg.Accounting.MaxConcurrentLicenses)

	var pprofServer *profiling.Server
	var apiServer *api.Server
	var nrAgent *newrelic.Agent
	var notifier *notify.Notifier

	if cfg.Profiling.Enabled {
		pprofServer = profiling.NewServer(&cfg.Profiling)
		if err := pprofServer.Start(); err != nil {
			util.Errorf("failed to start pprof server: %v", err)
		}
	}

	if cfg.NewRelic.Enabled {
		nrAgent = newrelic.NewAgent(&cfg.NewRelic)
		if err := nrAgent.Start(); err != nil {
			util.Errorf("failed to start New Relic agent: %v", err)
		}
		acct.SetTelemetry(nrAgent)
	}

	if cfg.Notify.Enabled {
		notifier = notify.NewNotifier(notify.Config{
			Enabled:      cfg.Notify.Enabled,
			DiscordURL:   cfg.Notify.DiscordURL,
			TelegramBot:  cfg.Notify.TelegramBot,
			TelegramChat: cfg.Notify.TelegramChat,
			RunName:      cfg.Notify.RunName,
		})
		notifier.NotifyRunStarted(cfg.Judge.URL(), cfg.Run.Workers)
		acct.OnPoolExhausted(notifier.NotifyLicensePoolExhausted)
	}

	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, collector)
		if err := apiServer.Start(); err != nil {
			util.Errorf("failed to start debug API server: %v", err)
		}
	}

	rules := worker.Rules{
		MaxDepth:    cfg.Run.MaxDepth,
		AvgDigMs:    cfg.Run.AvgDigMs,
		TimeLimitMs: uint64(cfg.Run.TimeLimit.Milliseconds()),
	}

	stripeWidth := cfg.StripeWidth()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Run.Workers; i++ {
		shard := domain.InitialStripe(stripeWidth, cfg.Run.GridHeight, i)
		w := worker.New(shard, client, acct, collector, rules)
		if nrAgent != nil {
			w.SetTelemetry(nrAgent)
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Run(ctx)
			util.Debugf("worker %d finished its shard", i)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("goldrush running. Press Ctrl+C to stop.")

	started := time.Now()
	select {
	case <-done:
		util.Info("all shards exhausted")
	case <-sigChan:
		util.Info("shutting down...")
		cancel()
		<-done
	}

	util.Info(collector.ShowStats())

	snap := collector.Snapshot()
	if notifier != nil {
		notifier.NotifyRunEnded(snap.TotalCoins, time.Since(started))
	}
	if nrAgent != nil {
		nrAgent.UpdateRunMetrics(snap.TotalCoins, 0)
	}

	acct.Stop()
	collector.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}
	if pprofServer != nil {
		pprofServer.Stop()
	}
	if nrAgent != nil {
		nrAgent.Stop()
	}

	util.Info("goldrush stopped")
}
