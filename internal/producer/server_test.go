package producer_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/bmi-tracker/internal/producer"
	"procodus.dev/bmi-tracker/pkg/mq"
	"procodus.dev/bmi-tracker/pkg/mq/mock"
)

var _ = Describe("Producer Server", func() {
	var logger *slog.Logger

	validConfig := func() *producer.ServerConfig {
		return &producer.ServerConfig{
			Logger:        logger,
			RabbitMQURL:   "amqp://localhost:5672",
			QueueName:     "measurements",
			ProducerCount: 2,
			Interval:      time.Second,
		}
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	Describe("NewServer", func() {
		It("should create a server", func() {
			server, err := producer.NewServer(validConfig())
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("should reject a nil config", func() {
			_, err := producer.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})

		DescribeTable("invalid configuration",
			func(mutate func(*producer.ServerConfig), substr string) {
				cfg := validConfig()
				mutate(cfg)
				server, err := producer.NewServer(cfg)
				Expect(err).To(MatchError(ContainSubstring(substr)))
				Expect(server).To(BeNil())
			},
			Entry("zero producers", func(c *producer.ServerConfig) { c.ProducerCount = 0 }, "producer count"),
			Entry("negative producers", func(c *producer.ServerConfig) { c.ProducerCount = -1 }, "producer count"),
			Entry("zero interval", func(c *producer.ServerConfig) { c.Interval = 0 }, "interval"),
			Entry("nil logger", func(c *producer.ServerConfig) { c.Logger = nil }, "logger"),
			Entry("empty queue", func(c *producer.ServerConfig) { c.QueueName = "" }, "queue name"),
			Entry("empty URL", func(c *producer.ServerConfig) { c.RabbitMQURL = "" }, "rabbitmq URL"),
		)
	})

	Describe("Run", func() {
		It("should publish on every tick and close publishers on shutdown", func() {
			var (
				mu      sync.Mutex
				clients []*mock.Client
			)

			cfg := validConfig()
			cfg.RabbitMQURL = ""
			cfg.Interval = 10 * time.Millisecond
			cfg.Seed = 3
			cfg.NewPublisher = func(int) (mq.Publisher, error) {
				mu.Lock()
				defer mu.Unlock()
				c := mock.NewClient()
				clients = append(clients, c)
				return c, nil
			}

			server, err := producer.NewServer(cfg)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- server.Run(ctx) }()

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				total := 0
				for _, c := range clients {
					total += c.PushedCount()
				}
				return total
			}).Should(BeNumerically(">=", 4))

			cancel()
			Eventually(done).Should(Receive(BeNil()))

			mu.Lock()
			defer mu.Unlock()
			Expect(clients).To(HaveLen(2))
			for _, c := range clients {
				Expect(c.CloseCalls).To(Equal(1))
			}
		})
	})
})
