package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/bmi-tracker/internal/producer"
)

var generatorCmd = &cobra.Command{
	Use:   "generator",
	Short: "Run the measurement generator",
	Long: `Run the measurement generator that:
- Simulates people with stable height, age and sex
- Publishes drifting weight measurements to RabbitMQ
- Supports multiple concurrent producers`,
	RunE: runGenerator,
}

func init() {
	rootCmd.AddCommand(generatorCmd)

	// Generator-specific flags
	generatorCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	generatorCmd.Flags().String("queue-name", "measurements", "RabbitMQ queue name for measurements")
	generatorCmd.Flags().Int("producer-count", 5, "Number of concurrent producers")
	generatorCmd.Flags().Int("profiles", 0, "Simulated people per producer; 0 picks 1 to 5")
	generatorCmd.Flags().Uint64("seed", 0, "Random seed; 0 picks a random one")
	generatorCmd.Flags().Duration("interval", 5*time.Second, "Interval between measurements of one producer")

	// Bind flags to viper
	_ = viper.BindPFlag("generator.rabbitmq.url", generatorCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("generator.rabbitmq.queue_name", generatorCmd.Flags().Lookup("queue-name"))
	_ = viper.BindPFlag("generator.producer_count", generatorCmd.Flags().Lookup("producer-count"))
	_ = viper.BindPFlag("generator.profiles", generatorCmd.Flags().Lookup("profiles"))
	_ = viper.BindPFlag("generator.seed", generatorCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("generator.interval", generatorCmd.Flags().Lookup("interval"))
}

func runGenerator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting generator service", "version", version)

	// Create producer configuration from viper
	config := &producer.ServerConfig{
		Logger:              logger,
		RabbitMQURL:         viper.GetString("generator.rabbitmq.url"),
		QueueName:           viper.GetString("generator.rabbitmq.queue_name"),
		ProducerCount:       viper.GetInt("generator.producer_count"),
		ProfilesPerProducer: viper.GetInt("generator.profiles"),
		Seed:                viper.GetUint64("generator.seed"),
		Interval:            viper.GetDuration("generator.interval"),
	}

	// Create and run server
	server, err := producer.NewServer(config)
	if err != nil {
		logger.Error("failed to create generator server", "error", err)
		return err
	}

	logger.Info("generator server configuration",
		"queue", config.QueueName,
		"producer_count", config.ProducerCount,
		"profiles_per_producer", config.ProfilesPerProducer,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("generator server error", "error", err)
		return err
	}

	logger.Info("generator server stopped")
	return nil
}
