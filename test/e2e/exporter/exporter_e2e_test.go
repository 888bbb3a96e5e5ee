package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"procodus.dev/bmi-tracker/internal/exporter"
	"procodus.dev/bmi-tracker/internal/store"
	"procodus.dev/bmi-tracker/pkg/bmi"
)

func get(path string) (int, string) {
	resp, err := http.Get(baseURL + path)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return resp.StatusCode, string(body)
}

func metricsBody() string {
	_, body := get("/metrics")
	return body
}

func insert(in bmi.Input) {
	res, err := bmi.Compute(in)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, seed.CreateMeasurement(context.Background(), store.NewMeasurement(in, res))).To(Succeed())
}

var _ = Describe("Exporter E2E", Ordered, func() {
	BeforeAll(func() {
		insert(bmi.Input{WeightKg: 70, HeightCm: 175, Age: 30, Sex: bmi.Male, ActivityLevel: bmi.Moderate})
		insert(bmi.Input{WeightKg: 85, HeightCm: 170, Age: 45, Sex: bmi.Female, ActivityLevel: bmi.Light})
		insert(bmi.Input{WeightKg: 50, HeightCm: 172, Age: 22, Sex: bmi.Female, ActivityLevel: bmi.Active})
	})

	It("should publish measurement statistics", func() {
		Eventually(metricsBody, 10*time.Second, 250*time.Millisecond).Should(ContainSubstring("bmi_measurements_total 3"))

		body := metricsBody()
		Expect(body).To(ContainSubstring("# TYPE bmi_measurements_total gauge"))
		Expect(body).To(ContainSubstring("bmi_measurements_created_24h 3"))
		Expect(body).To(ContainSubstring("bmi_measurements_created_1h 3"))
		Expect(body).To(ContainSubstring(`bmi_category_count{category="Normal"} 1`))
		Expect(body).To(ContainSubstring(`bmi_category_count{category="Overweight"} 1`))
		Expect(body).To(ContainSubstring(`bmi_category_count{category="Underweight"} 1`))
		Expect(body).To(ContainSubstring(`bmi_gender_count{sex="female"} 2`))
		Expect(body).To(ContainSubstring(`bmi_activity_level_count{activity_level="moderate"} 1`))
		Expect(body).To(ContainSubstring("bmi_average_value "))
		Expect(body).To(ContainSubstring("bmi_database_size_bytes "))
		Expect(body).To(ContainSubstring("bmi_table_size_bytes "))
		Expect(body).To(ContainSubstring("bmi_db_pool_total "))
		Expect(body).To(ContainSubstring("bmi_app_healthy 1"))
		Expect(body).To(ContainSubstring("bmi_last_successful_collection_timestamp "))
		Expect(body).To(ContainSubstring("bmi_app_go_goroutines "))
		Expect(body).To(ContainSubstring("go_sql_open_connections{db_name=\"bmidb\"}"))
	})

	It("should pick up new rows on the next cycle", func() {
		insert(bmi.Input{WeightKg: 110, HeightCm: 180, Age: 50, Sex: bmi.Male, ActivityLevel: bmi.Sedentary})

		Eventually(metricsBody, 10*time.Second, 250*time.Millisecond).Should(And(
			ContainSubstring("bmi_measurements_total 4"),
			ContainSubstring(`bmi_category_count{category="Obese"} 1`),
		))
	})

	It("should report health", func() {
		status, body := get("/health")
		Expect(status).To(Equal(http.StatusOK))

		var health map[string]any
		Expect(json.Unmarshal([]byte(body), &health)).To(Succeed())
		Expect(health).To(HaveKeyWithValue("status", "ok"))
		Expect(health).To(HaveKeyWithValue("database", "connected"))
	})

	It("should report status", func() {
		Eventually(func() any {
			_, body := get("/status")
			var status map[string]any
			Expect(json.Unmarshal([]byte(body), &status)).To(Succeed())
			return status["lastCollection"]
		}, 10*time.Second).ShouldNot(BeNil())

		status, body := get("/status")
		Expect(status).To(Equal(http.StatusOK))

		var got struct {
			Exporter struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"exporter"`
			Database struct {
				Connected         bool   `json:"connected"`
				Version           string `json:"version"`
				TotalMeasurements int64  `json:"totalMeasurements"`
			} `json:"database"`
		}
		Expect(json.Unmarshal([]byte(body), &got)).To(Succeed())
		Expect(got.Exporter.Name).To(Equal("BMI App Exporter"))
		Expect(got.Exporter.Version).To(Equal("e2e"))
		Expect(got.Database.Connected).To(BeTrue())
		Expect(got.Database.Version).To(ContainSubstring("PostgreSQL"))
		Expect(got.Database.TotalMeasurements).To(BeNumerically(">=", 3))
	})

	It("should serve the index page", func() {
		status, body := get("/")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`href="/metrics"`))
		Expect(body).To(ContainSubstring("every 1 seconds"))
	})

	It("should expose collector health over gRPC", func() {
		conn, err := grpc.NewClient(fmt.Sprintf("localhost:%d", grpcPort),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		client := healthpb.NewHealthClient(conn)
		Eventually(func() healthpb.HealthCheckResponse_ServingStatus {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: exporter.HealthService})
			if err != nil {
				return healthpb.HealthCheckResponse_UNKNOWN
			}
			return resp.GetStatus()
		}, 10*time.Second).Should(Equal(healthpb.HealthCheckResponse_SERVING))
	})
})
