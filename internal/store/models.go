package store

import (
	"time"

	"procodus.dev/bmi-tracker/pkg/bmi"
)

// Measurement is a single stored BMI measurement.
type Measurement struct {
	CreatedAt     time.Time `gorm:"index:idx_measurements_created_at;autoCreateTime" json:"createdAt"`
	BMICategory   string    `gorm:"column:bmi_category;size:32;index:idx_measurements_bmi_category" json:"bmiCategory"`
	ActivityLevel string    `gorm:"column:activity_level;size:32" json:"activityLevel"`
	Sex           string    `gorm:"column:sex;size:16" json:"sex"`
	WeightKg      float64   `gorm:"column:weight_kg;not null" json:"weightKg"`
	HeightCm      float64   `gorm:"column:height_cm;not null" json:"heightCm"`
	BMI           float64   `gorm:"column:bmi;not null" json:"bmi"`
	BMR           float64   `gorm:"column:bmr" json:"bmr"`
	DailyCalories int       `gorm:"column:daily_calories" json:"dailyCalories"`
	Age           int       `gorm:"column:age;not null" json:"age"`
	ID            uint      `gorm:"primaryKey" json:"id"`
}

// TableName specifies the table name for Measurement.
func (Measurement) TableName() string {
	return "measurements"
}

// NewMeasurement builds a row from validated input and its derived values.
func NewMeasurement(in bmi.Input, res bmi.Result) *Measurement {
	return &Measurement{
		WeightKg:      in.WeightKg,
		HeightCm:      in.HeightCm,
		Age:           in.Age,
		Sex:           string(in.Sex),
		ActivityLevel: string(in.ActivityLevel),
		BMI:           res.BMI,
		BMICategory:   string(res.Category),
		BMR:           res.BMR,
		DailyCalories: res.DailyCalories,
	}
}

// TrendPoint is the average BMI of one calendar day.
type TrendPoint struct {
	Day        time.Time `gorm:"column:day" json:"day"`
	AverageBMI float64   `gorm:"column:average_bmi" json:"averageBmi"`
	Count      int64     `gorm:"column:count" json:"count"`
}
