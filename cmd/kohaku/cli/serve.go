package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kohaku-project/kohaku/internal/config"
	"github.com/kohaku-project/kohaku/internal/jobs"
	"github.com/kohaku-project/kohaku/internal/metrics"
	"github.com/kohaku-project/kohaku/internal/notify"
	"github.com/kohaku-project/kohaku/internal/scheduler"
	"github.com/kohaku-project/kohaku/internal/server"
	"github.com/kohaku-project/kohaku/internal/service"
	"github.com/kohaku-project/kohaku/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Kohaku API server",
		Long:  "Start the HTTP server, the task scheduler and the notification router.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev, cmd.Flags().Changed("host"), cmd.Flags().Changed("port"))
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev, hostSet, portSet bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if hostSet {
		cfg.Server.Host = host
	}
	if portSet {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg.Logging, dev)
	ctx := context.Background()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Init(registry); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// Store
	st, err := store.Open(store.Config{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
		DSN:     cfg.Store.DSN,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "driver", cfg.Store.Driver)

	// Credentials
	secret, err := resolveSessionSecret(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	sessions, err := service.NewSessionService([]byte(secret), logger)
	if err != nil {
		return fmt.Errorf("init session service: %w", err)
	}
	keys := service.NewAPIKeyService(st, sessions, logger)

	bootstrapKey := cfg.Auth.BootstrapKey
	if bootstrapKey == "" {
		bootstrapKey = viper.GetString("auth.bootstrap_key")
	}
	if bootstrapKey == "" {
		logger.Warn("no bootstrap key configured, key management endpoints are unreachable")
	}

	// Notifications
	var transport notify.Transport
	if cfg.Notifications.WebhookURL != "" {
		transport = notify.NewWebhookTransport(cfg.Notifications.WebhookURL, logger)
		logger.Info("webhook transport configured")
	} else {
		transport = notify.NewLogTransport(logger)
		logger.Warn("no webhook configured, notifications are logged only")
	}
	queue := notify.NewQueue(cfg.Notifications.QueueSize)
	router := notify.NewRouter(st, transport, logger)

	// Scheduled jobs
	sched, err := buildScheduler(cfg, queue, router, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeoutDuration(),
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		RateLimit:       cfg.Server.RateLimit,
		LoginRateLimit:  cfg.Server.LoginRateLimit,
	}
	srv := server.New(srvCfg, st, keys, sessions, sched, router, registry, bootstrapKey, logger)

	fmt.Printf("→ Kohaku\n")
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:  http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Jobs:     %d scheduled\n", len(sched.Snapshot()))
	fmt.Println()

	return srv.ListenAndServe()
}

// buildScheduler wires the configured job names to their registered bodies.
// A config entry naming an unknown body fails startup.
func buildScheduler(cfg *config.YAMLConfig, queue *notify.Queue, router *notify.Router, logger *slog.Logger) (*scheduler.Scheduler, error) {
	registry := jobs.NewRegistry()
	if err := registry.Register("notification-dispatch", jobs.NotificationDispatch(queue, router)); err != nil {
		return nil, err
	}
	if cfg.Notifications.RefreshURL != "" {
		refresher := jobs.NewHTTPRefresher(cfg.Notifications.RefreshURL)
		if err := registry.Register("data-refresh", jobs.DataRefresh(refresher, queue, logger)); err != nil {
			return nil, err
		}
	}

	sched := scheduler.New(logger)
	for _, jc := range cfg.Jobs {
		if jc.Disabled {
			logger.Info("job disabled by config", "job", jc.Name)
			continue
		}
		body, err := registry.Body(jc.Name)
		if err != nil {
			return nil, fmt.Errorf("configure job %s: %w", jc.Name, err)
		}
		timeout, err := jc.ParseTimeout()
		if err != nil {
			return nil, err
		}
		if err := sched.Add(scheduler.Job{
			Name:    jc.Name,
			Spec:    jc.Schedule,
			Timeout: timeout,
			Run:     body,
		}); err != nil {
			return nil, fmt.Errorf("schedule job %s: %w", jc.Name, err)
		}
	}
	return sched, nil
}

func newLogger(cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
