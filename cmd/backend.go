package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/bmi-tracker/internal/backend"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the backend server",
	Long: `Run the backend server that:
- Serves the measurements HTTP API
- Persists measurements to PostgreSQL
- Optionally consumes generated measurements from RabbitMQ
- Serves the built frontend in production`,
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)

	addDatabaseFlags(backendCmd, "backend")

	// Backend-specific flags
	backendCmd.Flags().Int("http-port", 3000, "HTTP server port")
	backendCmd.Flags().String("environment", "development", "runtime environment (development, production)")
	backendCmd.Flags().String("frontend-url", "http://localhost", "allowed CORS origin in production")
	backendCmd.Flags().String("static-dir", "../frontend/dist", "directory of the built frontend served in production")
	backendCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL; empty disables the consumer")
	backendCmd.Flags().String("queue-name", "measurements", "RabbitMQ queue name for measurements")

	// Bind flags to viper
	_ = viper.BindPFlag("backend.http.port", backendCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("backend.environment", backendCmd.Flags().Lookup("environment"))
	_ = viper.BindPFlag("backend.frontend_url", backendCmd.Flags().Lookup("frontend-url"))
	_ = viper.BindPFlag("backend.static_dir", backendCmd.Flags().Lookup("static-dir"))
	_ = viper.BindPFlag("backend.rabbitmq.url", backendCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("backend.rabbitmq.queue_name", backendCmd.Flags().Lookup("queue-name"))
}

func runBackend(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting backend service", "version", version)

	// Create backend configuration from viper
	config := &backend.ServerConfig{
		Logger:      logger,
		Store:       databaseConfig("backend"),
		HTTPPort:    viper.GetInt("backend.http.port"),
		Environment: viper.GetString("backend.environment"),
		FrontendURL: viper.GetString("backend.frontend_url"),
		StaticDir:   viper.GetString("backend.static_dir"),
		RabbitMQURL: viper.GetString("backend.rabbitmq.url"),
		QueueName:   viper.GetString("backend.rabbitmq.queue_name"),
	}

	// Create and run server
	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"database", config.Store.Target(),
		"http_port", config.HTTPPort,
		"environment", config.Environment,
		"consumer_enabled", config.RabbitMQURL != "",
		"queue", config.QueueName,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
