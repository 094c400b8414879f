package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/canopyhq/canopy/internal/logging"
	canopyhttp "github.com/canopyhq/canopy/pkg/adapters/http"
	"github.com/canopyhq/canopy/pkg/adapters/memory"
)

// serveConfig is the yaml file read by `canopy serve --config`.
type serveConfig struct {
	Listen  string `yaml:"listen"`
	Metrics bool   `yaml:"metrics"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference backend server",
	Long:  `Serve runs an in-memory authoritative event store over REST, with a websocket push feed of accepted events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := serveConfig{Listen: ":8080", Metrics: true}

		if path, _ := cmd.Flags().GetString("config"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse config: %w", err)
			}
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Listen = listen
		}

		logger := logging.New(parseLevel(cmd))
		backend := memory.NewBackend()

		mux := http.NewServeMux()
		mux.Handle("/", canopyhttp.NewHandler(backend, canopyhttp.WithLogger(logger)))
		if cfg.Metrics {
			mux.Handle("/metrics", promhttp.Handler())
		}

		logger.Info("backend listening", "addr", cfg.Listen, "metrics", cfg.Metrics)
		return http.ListenAndServe(cfg.Listen, mux)
	},
}

func parseLevel(cmd *cobra.Command) slog.Level {
	raw, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a yaml config file")
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
