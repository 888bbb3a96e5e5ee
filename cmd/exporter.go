package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/bmi-tracker/internal/exporter"
)

var exporterCmd = &cobra.Command{
	Use:   "exporter",
	Short: "Run the metrics exporter",
	Long: `Run the Prometheus exporter that:
- Polls PostgreSQL for measurement statistics on a fixed interval
- Serves them on /metrics in the text exposition format
- Reports health and status on /health and /status
- Optionally serves grpc.health.v1 reflecting the last collection`,
	RunE: runExporter,
}

func init() {
	rootCmd.AddCommand(exporterCmd)

	addDatabaseFlags(exporterCmd, "exporter")

	// Exporter-specific flags
	exporterCmd.Flags().Int("http-port", 9091, "HTTP server port")
	exporterCmd.Flags().Int("grpc-port", 0, "gRPC health port; 0 disables it")
	exporterCmd.Flags().Duration("interval", exporter.DefaultInterval, "interval between collection cycles")

	// Bind flags to viper
	_ = viper.BindPFlag("exporter.http.port", exporterCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("exporter.grpc.port", exporterCmd.Flags().Lookup("grpc-port"))
	_ = viper.BindPFlag("exporter.interval", exporterCmd.Flags().Lookup("interval"))
}

func runExporter(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting exporter service", "version", version)

	// Create exporter configuration from viper
	config := &exporter.ServerConfig{
		Logger:   logger,
		Store:    databaseConfig("exporter"),
		HTTPPort: viper.GetInt("exporter.http.port"),
		GRPCPort: viper.GetInt("exporter.grpc.port"),
		Interval: viper.GetDuration("exporter.interval"),
		Version:  version,
	}

	// Create and run server
	server, err := exporter.NewServer(config)
	if err != nil {
		logger.Error("failed to create exporter server", "error", err)
		return err
	}

	logger.Info("exporter server configuration",
		"database", config.Store.Target(),
		"http_port", config.HTTPPort,
		"grpc_port", config.GRPCPort,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("exporter server error", "error", err)
		return err
	}

	logger.Info("exporter server stopped")
	return nil
}
