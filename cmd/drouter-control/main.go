package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"drouter-control/internal/journal"
	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
	"drouter-control/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Router struct {
		Address   string `yaml:"address"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		HoldoffMS int    `yaml:"holdoff_ms"`
		Filter    []int  `yaml:"filter"`
	} `yaml:"router"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Journal struct {
		Path       string `yaml:"path"`
		MaxEntries int    `yaml:"max_entries"`
	} `yaml:"journal"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Router.Address == "" {
		return fmt.Errorf("router.address is required")
	}
	if c.Router.HoldoffMS < 0 {
		return fmt.Errorf("router.holdoff_ms must not be negative")
	}
	for _, r := range c.Router.Filter {
		if r < 0 {
			return fmt.Errorf("router.filter entries must not be negative, got %d", r)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	cfgPath := pflag.StringP("config", "c", "config.yaml", "path to the YAML config file")
	listen := pflag.String("listen", "", "web listen address (overrides web.listen)")
	logLevel := pflag.String("log-level", "", "log level (overrides log.level)")
	showVersion := pflag.Bool("version", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Web.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("drouter-control starting", "version", version, "router", cfg.Router.Address)

	store := state.NewStore()
	bus := state.NewBus(logger)

	// Event journal is optional; without a path events are not persisted.
	var jnl *journal.Journal
	if cfg.Journal.Path != "" {
		jnl, err = journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries)
		if err != nil {
			logger.Error("open journal", "err", err)
			os.Exit(1)
		}
		defer jnl.Close()
		detach := jnl.Attach(bus, func(err error) {
			logger.Warn("journal record", "err", err)
		})
		defer detach()
	}

	session := protoj.NewSession(protoj.Config{
		Address:      cfg.Router.Address,
		Username:     cfg.Router.Username,
		Password:     cfg.Router.Password,
		RouterFilter: cfg.Router.Filter,
		Holdoff:      time.Duration(cfg.Router.HoldoffMS) * time.Millisecond,
	}, store, bus, logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := session.Connect(connectCtx); err != nil {
		// The session keeps retrying on its own holdoff schedule.
		logger.Warn("initial connect", "err", err)
	}
	connectCancel()

	// Start automation engine (no-op when built with no_automation tag).
	auto := initAutomation(session, store, bus, cfg, logger)

	webOpts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if jnl != nil {
		webOpts = append(webOpts, web.WithJournal(jnl))
	}

	webServer := web.NewServer(store, bus, session, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(session, store, bus, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	if err := session.Close(); err != nil {
		logger.Error("session close", "err", err)
	}

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Journal.MaxEntries == 0 {
		cfg.Journal.MaxEntries = journal.DefaultMaxEntries
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "drouter"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
