package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/bmi-tracker/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/bmi-tracker/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("BMI_TRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Conventional names used by container platforms
	_ = viper.BindEnv("database.url", "BMI_TRACKER_DATABASE_URL", "DATABASE_URL")
	_ = viper.BindEnv("backend.environment", "BMI_TRACKER_BACKEND_ENVIRONMENT", "NODE_ENV")
	_ = viper.BindEnv("backend.frontend_url", "BMI_TRACKER_BACKEND_FRONTEND_URL", "FRONTEND_URL")

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.FromSettings(viper.GetString("log.level"), viper.GetString("log.format"))
}

// addDatabaseFlags registers the PostgreSQL flags of a service under
// "<service>.db.*". The --database-url flag lives on the root command.
func addDatabaseFlags(cmd *cobra.Command, service string) {
	flags := cmd.Flags()
	flags.String("db-host", "localhost", "PostgreSQL host")
	flags.Int("db-port", 5432, "PostgreSQL port")
	flags.String("db-user", "postgres", "PostgreSQL user")
	flags.String("db-password", "", "PostgreSQL password")
	flags.String("db-name", "bmidb", "PostgreSQL database name")
	flags.String("db-sslmode", "disable", "PostgreSQL SSL mode")
	flags.Int("db-max-conns", store.DefaultMaxConns, "maximum concurrent database connections")
	flags.Duration("db-acquire-timeout", store.DefaultAcquireTimeout, "maximum wait for a free connection")
	flags.Duration("db-idle-timeout", store.DefaultIdleTimeout, "close connections idle for longer than this")

	for _, name := range []string{"host", "port", "user", "password", "name", "sslmode", "max-conns", "acquire-timeout", "idle-timeout"} {
		key := service + ".db." + strings.ReplaceAll(name, "-", "_")
		_ = viper.BindPFlag(key, flags.Lookup("db-"+name))
	}
}

// databaseConfig reads the flags registered by addDatabaseFlags.
func databaseConfig(service string) *store.Config {
	key := func(name string) string { return service + ".db." + name }

	return &store.Config{
		URL:            viper.GetString("database.url"),
		Host:           viper.GetString(key("host")),
		Port:           viper.GetInt(key("port")),
		User:           viper.GetString(key("user")),
		Password:       viper.GetString(key("password")),
		DBName:         viper.GetString(key("name")),
		SSLMode:        viper.GetString(key("sslmode")),
		MaxConns:       viper.GetInt(key("max_conns")),
		AcquireTimeout: viper.GetDuration(key("acquire_timeout")),
		IdleTimeout:    viper.GetDuration(key("idle_timeout")),
	}
}
