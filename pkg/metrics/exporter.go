package metrics

import "fmt"

// Instrument names published by the exporter.
const (
	MeasurementsTotal          = "bmi_measurements_total"
	MeasurementsCreated24h     = "bmi_measurements_created_24h"
	MeasurementsCreated1h      = "bmi_measurements_created_1h"
	AverageBMI                 = "bmi_average_value"
	CategoryCount              = "bmi_category_count"
	ActivityLevelCount         = "bmi_activity_level_count"
	GenderCount                = "bmi_gender_count"
	DatabaseSizeBytes          = "bmi_database_size_bytes"
	TableSizeBytes             = "bmi_table_size_bytes"
	AverageAge                 = "bmi_average_age"
	AverageDailyCalories       = "bmi_average_daily_calories"
	DBPoolTotal                = "bmi_db_pool_total"
	DBPoolIdle                 = "bmi_db_pool_idle"
	DBPoolWaiting              = "bmi_db_pool_waiting"
	AppHealthy                 = "bmi_app_healthy"
	CollectionErrorsTotal      = "bmi_metrics_collection_errors_total"
	LastSuccessfulCollectionTS = "bmi_last_successful_collection_timestamp"
)

// Label names used by the exporter instruments.
const (
	LabelCategory      = "category"
	LabelActivityLevel = "activity_level"
	LabelSex           = "sex"
	LabelErrorType     = "error_type"
)

// RuntimePrefix is prepended to the Go runtime and process metrics.
const RuntimePrefix = "bmi_app_"

type instrument struct {
	name   string
	help   string
	kind   Kind
	labels []string
}

var exporterInstruments = []instrument{
	{MeasurementsTotal, "Total number of measurements stored in database", KindGauge, nil},
	{MeasurementsCreated24h, "Number of measurements created in last 24 hours", KindGauge, nil},
	{MeasurementsCreated1h, "Number of measurements created in last 1 hour", KindGauge, nil},
	{AverageBMI, "Average BMI value of all measurements", KindGauge, nil},
	{CategoryCount, "Count of measurements by BMI category", KindGauge, []string{LabelCategory}},
	{ActivityLevelCount, "Count of measurements by activity level", KindGauge, []string{LabelActivityLevel}},
	{GenderCount, "Count of measurements by gender", KindGauge, []string{LabelSex}},
	{DatabaseSizeBytes, "Size of the database in bytes", KindGauge, nil},
	{TableSizeBytes, "Size of the measurements table in bytes", KindGauge, nil},
	{AverageAge, "Average age from all measurements", KindGauge, nil},
	{AverageDailyCalories, "Average daily calorie needs from all measurements", KindGauge, nil},
	{DBPoolTotal, "Total number of clients in the pool", KindGauge, nil},
	{DBPoolIdle, "Number of idle clients in the pool", KindGauge, nil},
	{DBPoolWaiting, "Number of clients waiting for a connection", KindGauge, nil},
	{AppHealthy, "Application health status (1 = healthy, 0 = unhealthy)", KindGauge, nil},
	{CollectionErrorsTotal, "Total number of errors during metrics collection", KindCounter, []string{LabelErrorType}},
	{LastSuccessfulCollectionTS, "Timestamp of last successful metrics collection", KindGauge, nil},
}

// RegisterExporterInstruments registers the exporter instrument catalogue.
// Calling it twice on the same registry fails with ErrDuplicateInstrument.
func RegisterExporterInstruments(r *Registry) error {
	for _, in := range exporterInstruments {
		var err error
		if in.kind == KindCounter {
			err = r.RegisterCounter(in.name, in.help, in.labels...)
		} else {
			err = r.RegisterGauge(in.name, in.help, in.labels...)
		}
		if err != nil {
			return fmt.Errorf("failed to register exporter instruments: %w", err)
		}
	}
	return nil
}

// ExporterInstrumentNames lists the catalogue in registration order.
func ExporterInstrumentNames() []string {
	names := make([]string, 0, len(exporterInstruments))
	for _, in := range exporterInstruments {
		names = append(names, in.name)
	}
	return names
}
