// Package main is the entry point for the sentinel-ir monitoring engine.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel-ir/internal/alerting"
	"sentinel-ir/internal/config"
	"sentinel-ir/internal/correlation"
	"sentinel-ir/internal/enrich"
	"sentinel-ir/internal/errs"
	"sentinel-ir/internal/intel"
	"sentinel-ir/internal/kafka"
	"sentinel-ir/internal/monitor"
	"sentinel-ir/internal/notify"
	"sentinel-ir/internal/playbook"
	"sentinel-ir/internal/queue"
	"sentinel-ir/internal/rules"
	"sentinel-ir/internal/schema"
	"sentinel-ir/internal/sla"
	"sentinel-ir/internal/stats"
	"sentinel-ir/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"queue_size", cfg.Pipeline.QueueSize,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"intel_enabled", cfg.Intel.Enabled,
	)

	recorder := errs.NewRecorder(256)
	eventQueue := queue.NewRingBuffer(cfg.Pipeline.QueueSize)
	validator := schema.NewValidatorWithConfig(cfg.Validation)

	// Threat intelligence is the only enrichment provider wired by
	// default; geo and device enrichment activate when a provider is
	// registered here.
	var threat enrich.ThreatProvider
	if cfg.Intel.Enabled {
		cache, err := intel.NewRedisCache(cfg.Intel.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		svc := intel.NewService(cfg.Intel.Service, cache)
		for _, ind := range intel.BuiltinIndicators() {
			svc.AddIndicator(ind)
		}
		threat = svc
		slog.Info("threat intel initialized", "indicators", svc.Count())
	}

	enricher := enrich.New(cfg.Enrich, threat, nil, nil, recorder)

	engine := rules.NewEngine(recorder)
	for _, rule := range rules.BuiltinRules() {
		if err := engine.AddRule(rule); err != nil {
			slog.Error("failed to register rule", "rule_id", rule.ID, "error", err)
			os.Exit(1)
		}
	}

	alerts := alerting.NewManager(cfg.Alerting)
	slaMonitor := sla.NewMonitor(cfg.SLA, alerts)

	executor := playbook.NewExecutor(cfg.Playbooks, playbook.BuiltinExecutors()...)
	for _, pb := range playbook.BuiltinPlaybooks() {
		if err := executor.AddPlaybook(pb); err != nil {
			slog.Error("failed to register playbook", "playbook_id", pb.ID, "error", err)
			os.Exit(1)
		}
	}

	dispatcher := buildDispatcher(cfg.Notify)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	exporter := stats.NewExporter(registry)

	deps := monitor.Deps{
		Validator:  validator,
		Queue:      eventQueue,
		Enricher:   enricher,
		Engine:     engine,
		Correlator: correlation.New(cfg.Correlation),
		Alerts:     alerts,
		Recorder:   recorder,
		SLA:        slaMonitor,
		Notifier:   dispatcher,
		Playbooks:  executor,
		Exporter:   exporter,
	}

	ctx := context.Background()

	var chClient *storage.ClickHouseClient
	var batchWriter *storage.BatchWriter
	if cfg.Storage.Enabled {
		chClient, batchWriter, err = setupStorage(ctx, cfg.Storage)
		if err != nil {
			slog.Error("failed to initialize storage", "error", err)
			os.Exit(1)
		}
		deps.EventSink = batchWriter
		deps.AlertSink = storage.NewAlertWriter(chClient)
	}

	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		kafkaLogger := slog.Default().With("component", "kafka")

		producer, err = kafka.NewProducer(&cfg.Kafka.Client, kafkaLogger)
		if err != nil {
			slog.Error("failed to initialize kafka producer", "error", err)
			os.Exit(1)
		}
		deps.Publisher = kafka.NewAlertPublisher(producer, kafkaLogger)
	}

	pipeline := monitor.New(cfg.Pipeline, cfg.Anomaly, deps)
	pipeline.Start()

	if cfg.Kafka.Enabled {
		handler := kafka.EventHandler(pipeline, slog.Default().With("component", "kafka"))
		consumer, err = kafka.NewConsumer(&cfg.Kafka.Client, handler, slog.Default().With("component", "kafka"))
		if err != nil {
			slog.Error("failed to initialize kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := consumer.Start(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	server := startHTTPServer(registry, pipeline, alerts)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			slog.Error("kafka consumer stop error", "error", err)
		}
	}

	pipeline.Stop()
	executor.Wait()
	slaMonitor.Stop()
	alerts.Stop()
	dispatcher.Wait()

	if producer != nil {
		if err := producer.Close(); err != nil {
			slog.Error("kafka producer close error", "error", err)
		}
	}
	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	qm := eventQueue.Metrics()
	slog.Info("shutdown complete",
		"events_pushed", qm.Pushed,
		"events_popped", qm.Popped,
		"events_dropped", qm.Dropped,
	)
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func buildDispatcher(cfg config.NotifyConfig) *notify.Dispatcher {
	dispatcher := notify.NewDispatcher(cfg.Dispatcher, notify.NewLogChannel())

	if cfg.Webhook.Enabled {
		dispatcher.AddChannel(notify.NewWebhookChannel(cfg.Webhook.Name, cfg.Webhook.URL, cfg.Webhook.Headers))
	}
	if cfg.Slack.Enabled {
		dispatcher.AddChannel(notify.NewSlackChannel(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username))
	}

	return dispatcher
}

func setupStorage(ctx context.Context, cfg config.StorageConfig) (*storage.ClickHouseClient, *storage.BatchWriter, error) {
	slog.Info("initializing ClickHouse storage",
		"hosts", cfg.ClickHouse.Hosts,
		"database", cfg.ClickHouse.Database,
	)

	client, err := storage.NewClickHouseClient(storage.ClickHouseConfig{
		Hosts:           cfg.ClickHouse.Hosts,
		Database:        cfg.ClickHouse.Database,
		Username:        cfg.ClickHouse.Username,
		Password:        cfg.ClickHouse.Password,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		TLSEnabled:      cfg.ClickHouse.TLSEnabled,
		DialTimeout:     cfg.ClickHouse.DialTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := storage.NewMigrator(client).Run(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}

	writer := storage.NewBatchWriter(client, storage.BatchWriterConfig{
		BatchSize:     cfg.BatchWriter.BatchSize,
		FlushInterval: cfg.BatchWriter.FlushInterval,
		MaxRetries:    cfg.BatchWriter.MaxRetries,
		RetryDelay:    cfg.BatchWriter.RetryDelay,
	})

	return client, writer, nil
}

// startHTTPServer exposes health, stats and Prometheus metrics.
func startHTTPServer(registry *prometheus.Registry, pipeline *monitor.Monitor, alerts *alerting.Manager) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pipeline": pipeline.Stats(),
			"alerts":   alerts.Stats(),
		})
	})

	addr := os.Getenv("SENTINEL_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("http server started", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	return server
}
