package exporter_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/bmi-tracker/internal/exporter"
	"procodus.dev/bmi-tracker/internal/store"
)

var _ = Describe("Exporter Server", func() {
	var (
		logger   *slog.Logger
		storeCfg *store.Config
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		storeCfg = &store.Config{
			Host:   "localhost",
			Port:   9999,
			User:   "postgres",
			DBName: "bmidb",
		}
	})

	Describe("NewServer", func() {
		It("should create a server", func() {
			server, err := exporter.NewServer(&exporter.ServerConfig{
				Logger:   logger,
				Store:    storeCfg,
				HTTPPort: 9100,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("should reject a nil config", func() {
			_, err := exporter.NewServer(nil)
			Expect(err).To(MatchError("server config cannot be nil"))
		})

		DescribeTable("invalid configuration",
			func(mutate func(*exporter.ServerConfig), msg string) {
				cfg := &exporter.ServerConfig{Logger: logger, Store: storeCfg, HTTPPort: 9100}
				mutate(cfg)
				_, err := exporter.NewServer(cfg)
				Expect(err).To(MatchError(msg))
			},
			Entry("nil logger", func(c *exporter.ServerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("nil store", func(c *exporter.ServerConfig) { c.Store = nil }, "database config cannot be nil"),
			Entry("zero HTTP port", func(c *exporter.ServerConfig) { c.HTTPPort = 0 }, "HTTP port must be between 1 and 65535"),
			Entry("HTTP port too large", func(c *exporter.ServerConfig) { c.HTTPPort = 70000 }, "HTTP port must be between 1 and 65535"),
			Entry("negative gRPC port", func(c *exporter.ServerConfig) { c.GRPCPort = -1 }, "gRPC port must be between 0 and 65535"),
			Entry("negative interval", func(c *exporter.ServerConfig) { c.Interval = -time.Second }, "collection interval cannot be negative"),
		)
	})

	Describe("Run", func() {
		It("should abort startup when the database is unreachable", func() {
			server, err := exporter.NewServer(&exporter.ServerConfig{
				Logger:   logger,
				Store:    storeCfg,
				HTTPPort: 9100,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			err = server.Run(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to initialize database"))
		})
	})
})
