// Command rewardsd is the rewards automation daemon: it loads the JSONC
// configuration and the account list, wires the pipeline, orchestrator,
// scheduler and dashboard gateway, and runs until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/api"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/metrics"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/notify"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/orchestrator"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pipeline"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/search"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/stealth"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rewardsd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "config.jsonc", "path to the JSONC configuration file")
		accountsPath = flag.String("accounts", "accounts.json", "path to the accounts file")
		strict       = flag.Bool("strict-config", false, "reject unknown configuration keys")
	)
	flag.Parse()

	// .env is optional; explicit environment always wins.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath, *strict)
	if err != nil {
		return err
	}
	if _, err := config.LoadAccounts(*accountsPath); err != nil {
		return err
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	driver, err := newDriver(os.Getenv("REWARDS_DRIVER"), cfg.Browser)
	if err != nil {
		return err
	}

	factory := browser.NewFactory(driver, browser.NewVersionCache(nil), browser.FactoryConfig{
		ProfilesRoot: cfg.Browser.ProfilesDir,
		Headless:     cfg.Browser.Headless,
		Locale:       cfg.Browser.Locale,
		Timezone:     cfg.Browser.Timezone,
		HomeURL:      rewards.PortalURL,
	}, stealth.Hardener(stealth.Options{
		Timezone: cfg.Browser.Timezone,
		Locale:   cfg.Browser.Locale,
	}))

	jobs := state.NewJobStore(filepath.Join(cfg.State.Dir, "jobs"))
	history := state.NewHistoryStore(filepath.Join(cfg.State.Dir, "history"))
	standby := &rewards.Standby{}
	m := metrics.New()
	notifier := notify.New(cfg.Notifications, nil)

	pipe := &pipeline.Deps{
		Config:       cfg,
		Factory:      factory,
		Jobs:         jobs,
		History:      history,
		Standby:      standby,
		Notifier:     notifier,
		Queries:      search.NewSource(nil, cfg.Browser.Locale),
		API:          rewards.NewClient(nil),
		AccountsPath: *accountsPath,
	}

	runner := orchestrator.New(cfg, *accountsPath, pipe, standby, m, notifier)
	pipe.Incidents = runner.IncidentSink()

	scheduler := orchestrator.NewScheduler(cfg.Schedule, func() {
		runner.Trigger(context.Background())
	})
	scheduler.Start()
	defer scheduler.Stop()

	restart := make(chan struct{}, 1)
	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.Dashboard.Enabled {
		if err := checkPortAvailable(cfg.Dashboard.Host, cfg.Dashboard.Port); err != nil {
			return err
		}
		server = api.NewServer(api.Deps{
			Runner:       runner,
			Scheduler:    scheduler,
			Standby:      standby,
			History:      history,
			Jobs:         jobs,
			Metrics:      m,
			AccountsPath: *accountsPath,
			ReportsDir:   cfg.State.ReportsDir,
			Restart: func() {
				select {
				case restart <- struct{}{}:
				default:
				}
			},
		})
		go func() {
			logger.Info("[rewardsd] dashboard listening",
				"host", cfg.Dashboard.Host, "port", fmt.Sprintf("%d", cfg.Dashboard.Port))
			serverErr <- server.ListenAndServe(cfg.Dashboard.Host, cfg.Dashboard.Port)
		}()
	}

	logger.Info("[rewardsd] started", "config", *configPath, "accounts", *accountsPath)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigs:
			logger.Info("[rewardsd] shutting down", "signal", sig.String())
			runner.RequestStop()
			if server != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					logger.Warn("[rewardsd] dashboard shutdown", "error", err.Error())
				}
			}
			return nil
		case <-restart:
			logger.Info("[rewardsd] restart requested, stopping current run")
			runner.RequestStop()
			standby.Clear()
			m.Standby.Set(0)
		case err := <-serverErr:
			if err != nil {
				return fmt.Errorf("dashboard server: %w", err)
			}
			return nil
		}
	}
}

// checkPortAvailable catches a stale process still holding the dashboard
// port before the real listener reports a less helpful bind error.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	return ln.Close()
}
