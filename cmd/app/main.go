package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/cache"
	"github.com/Harvey-AU/index-inspector/internal/inspector"
	"github.com/Harvey-AU/index-inspector/internal/jobs"
	"github.com/Harvey-AU/index-inspector/internal/notifications"
	"github.com/Harvey-AU/index-inspector/internal/observability"
	"github.com/Harvey-AU/index-inspector/internal/quota"
	"github.com/Harvey-AU/index-inspector/internal/workbook"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	DataDir              string // Directory searched for the input workbook
	CredentialsDir       string // Directory holding <identity>.json service-account keys
	OutputDir            string // Directory the processed workbook is written to
	CacheDir             string // Directory of cached inspection results
	ServiceAccount       string // Identity used for every property
	InspectionEndpoint   string // URL Inspection API method; empty uses the public endpoint
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
	SlackBotToken        string // Bot token for run reports; empty disables Slack
	SlackChannelID       string // Channel that receives run reports
	Quota                quota.Config
}

func loadConfig() *Config {
	return &Config{
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		DataDir:              getEnvWithDefault("INSPECTOR_DATA_DIR", "data"),
		CredentialsDir:       getEnvWithDefault("INSPECTOR_CREDENTIALS_DIR", "json"),
		OutputDir:            getEnvWithDefault("INSPECTOR_OUTPUT_DIR", "processed"),
		CacheDir:             getEnvWithDefault("INSPECTOR_CACHE_DIR", "cache"),
		ServiceAccount:       getEnvWithDefault("INSPECTOR_SERVICE_ACCOUNT", "main_service_account"),
		InspectionEndpoint:   os.Getenv("INSPECTOR_API_ENDPOINT"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "false") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		SlackBotToken:        os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannelID:       os.Getenv("SLACK_CHANNEL_ID"),
		Quota:                quota.DefaultConfig(),
	}
}

func main() {
	// Load .env files - .env.local takes priority for development
	_ = godotenv.Load(".env.local", ".env")

	config := loadConfig()
	setupLogging(config)

	os.Exit(run(config))
}

func run(config *Config) int {
	start := time.Now()

	// Initialise Sentry for error tracking
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Debug().Msg("Sentry DSN not configured, error tracking disabled")
	}

	if config.ObservabilityEnabled {
		shutdown := startObservability(config)
		defer shutdown()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	ctx = jobs.WithRunID(ctx, runID)
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("run_id", runID)
	})

	path, err := workbook.FindWorkbook(config.DataDir)
	if err != nil {
		if errors.Is(err, workbook.ErrNoWorkbook) {
			log.Error().Str("dir", config.DataDir).Msg("No Excel file found in the data folder")
			return exitFailure
		}
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Failed to look for an input workbook")
		return exitFailure
	}

	wb, err := workbook.Load(path)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Str("path", path).Msg("Failed to load workbook")
		log.Warn().Str("output_dir", config.OutputDir).Msg("No output workbook written")
		return exitFailure
	}

	runner, err := buildRunner(ctx, config)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Failed to prepare inspection pipeline")
		log.Warn().Str("output_dir", config.OutputDir).Msg("No output workbook written")
		return exitFailure
	}

	summary, runErr := runner.Run(ctx, wb.Ledger, wb.Status)

	outputPath, saveErr := workbook.Save(config.OutputDir, wb, time.Now())
	if saveErr != nil {
		sentry.CaptureException(saveErr)
		log.Error().Err(saveErr).Msg("Failed to save processed workbook")
	}

	notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	notifier := notifications.NewSlackNotifier(config.SlackBotToken, config.SlackChannelID)
	if err := notifier.Notify(notifyCtx, notifications.RunReport{
		Summary:    summary,
		OutputPath: outputPath,
		Err:        saveErr,
	}); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("Failed to send run report")
	}

	elapsed := time.Since(start)
	log.Info().
		Str("run_id", runID).
		Str("output", outputPath).
		Float64("execution_minutes", float64(elapsed.Round(time.Second))/float64(time.Minute)).
		Msg("Total execution time")

	switch {
	case saveErr != nil:
		return exitFailure
	case runErr != nil:
		log.Warn().Err(runErr).Msg("Run interrupted, partial results were saved")
		return exitInterrupted
	default:
		return exitOK
	}
}

// buildRunner wires credentials, the Search Console client, the cache and quotas into a Runner
func buildRunner(ctx context.Context, config *Config) (*jobs.Runner, error) {
	pool := inspector.NewCredentialPool(config.CredentialsDir)
	httpClient, err := pool.Client(ctx, config.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", config.ServiceAccount, err)
	}

	disk := cache.NewDiskCache(config.CacheDir)
	service := inspector.NewSearchConsoleClient(httpClient, config.InspectionEndpoint)
	remote := inspector.New(service, disk, config.Quota.Cooldown)
	quotas := quota.NewRegistry(config.Quota)

	log.Info().
		Str("cache_dir", disk.Dir()).
		Int("quota_ceiling", config.Quota.Ceiling).
		Dur("quota_window", config.Quota.Window).
		Dur("cooldown", config.Quota.Cooldown).
		Int("requests_per_minute", config.Quota.RequestsPerMinute).
		Msg("Inspection pipeline ready")

	return jobs.NewRunner(jobs.NewGroupWorker(disk, remote, quotas)), nil
}

// startObservability initialises telemetry and the metrics server and returns their shutdown
func startObservability(config *Config) func() {
	providers, err := observability.Init(context.Background(), observability.Config{
		Enabled:        true,
		ServiceName:    "index-inspector",
		Environment:    config.Env,
		OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
		OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
		OTLPInsecure:   config.OTLPInsecure,
		MetricsAddress: config.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return func() {}
	}

	var metricsSrv *http.Server
	if providers.MetricsHandler != nil && config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", providers.MetricsHandler)
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("OK"))
		})

		metricsSrv = &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           observability.WrapHandler(mux, providers),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
			}
		}
		if err := providers.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
		}
	}
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "index-inspector").
			Logger()
	}
}
