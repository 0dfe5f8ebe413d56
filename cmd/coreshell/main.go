// Command coreshell runs the runtime core as a standalone host process:
// it assembles the application shell from environment configuration, loads
// built-in and dynamic plugins, and serves until interrupted.
//
// Built-in plugins are compiled in by importing their packages for the
// side effect of pluginrt.Register; dynamic plugins come from the scanned
// plugin directory.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/streamspace-dev/streamspace-core/internal/logging"
	"github.com/streamspace-dev/streamspace-core/internal/shell"
)

func main() {
	// Configuration from environment
	appName := getEnv("CORE_APP_NAME", "streamspace-core")
	logLevel := getEnv("CORE_LOG_LEVEL", "info")
	logPretty := getEnv("CORE_LOG_PRETTY", "false") == "true"
	pluginDir := getEnv("CORE_PLUGIN_DIR", "./plugins")
	configFile := getEnv("CORE_CONFIG_FILE", "./config.json")
	workers := getEnvInt("CORE_WORKERS", 0) // 0 = hardware parallelism
	hotReloadMs := getEnvInt("CORE_HOT_RELOAD_MS", 0)
	configReloadMs := getEnvInt("CORE_CONFIG_RELOAD_MS", 2000)
	required := splitList(getEnv("CORE_REQUIRED_PLUGINS", ""))

	log := logging.Initialize(appName, logLevel, logPretty)

	s := shell.New(shell.Options{
		Name:              appName,
		Logger:            log,
		PluginDir:         pluginDir,
		Workers:           workers,
		ConfigFile:        configFile,
		HotReloadInterval: time.Duration(hotReloadMs) * time.Millisecond,
		RequiredPlugins:   required,
	})

	if err := s.Start(); err != nil {
		log.Error().Err(err).Msg("shell failed to start")
		s.Stop()
		os.Exit(1)
	}

	if configReloadMs > 0 {
		if err := s.Config().EnableHotReload(time.Duration(configReloadMs) * time.Millisecond); err != nil {
			log.Warn().Err(err).Msg("configuration hot reload unavailable")
		}
	}

	for _, p := range s.Plugins().Plugins() {
		if p.State.Failed() {
			log.Warn().
				Str("plugin", p.Metadata.Name).
				Str("state", p.State.String()).
				AnErr("reason", p.Err).
				Msg("plugin unavailable")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	s.Stop()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
