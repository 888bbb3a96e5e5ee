// Package bmi computes body-mass index, weight category and daily calorie
// needs for a single measurement.
package bmi

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Category is the weight classification derived from a BMI value.
type Category string

// BMI categories.
const (
	Underweight Category = "Underweight"
	Normal      Category = "Normal"
	Overweight  Category = "Overweight"
	Obese       Category = "Obese"
)

// Sex is used by the basal metabolic rate formula.
type Sex string

// Supported sexes.
const (
	Male   Sex = "male"
	Female Sex = "female"
)

// ActivityLevel scales basal metabolic rate into daily calorie needs.
type ActivityLevel string

// Supported activity levels.
const (
	Sedentary  ActivityLevel = "sedentary"
	Light      ActivityLevel = "light"
	Moderate   ActivityLevel = "moderate"
	Active     ActivityLevel = "active"
	VeryActive ActivityLevel = "very_active"
)

var activityFactors = map[ActivityLevel]float64{
	Sedentary:  1.2,
	Light:      1.375,
	Moderate:   1.55,
	Active:     1.725,
	VeryActive: 1.9,
}

// ActivityLevels returns every supported activity level, least active first.
func ActivityLevels() []ActivityLevel {
	return []ActivityLevel{Sedentary, Light, Moderate, Active, VeryActive}
}

// Validation errors.
var (
	ErrInvalidWeight   = errors.New("weight must be between 1 and 500 kg")
	ErrInvalidHeight   = errors.New("height must be between 30 and 300 cm")
	ErrInvalidAge      = errors.New("age must be between 1 and 120")
	ErrInvalidSex      = errors.New("sex must be male or female")
	ErrInvalidActivity = errors.New("unknown activity level")
)

// Input is a raw measurement as entered by a user.
type Input struct {
	Sex           Sex           `json:"sex"`
	ActivityLevel ActivityLevel `json:"activityLevel"`
	WeightKg      float64       `json:"weightKg"`
	HeightCm      float64       `json:"heightCm"`
	Age           int           `json:"age"`
}

// Result holds the values derived from an Input.
type Result struct {
	Category      Category `json:"bmiCategory"`
	BMI           float64  `json:"bmi"`
	BMR           float64  `json:"bmr"`
	DailyCalories int      `json:"dailyCalories"`
}

// Normalize lower-cases and trims the enumerated fields in place.
func (in *Input) Normalize() {
	in.Sex = Sex(strings.ToLower(strings.TrimSpace(string(in.Sex))))
	in.ActivityLevel = ActivityLevel(strings.ToLower(strings.TrimSpace(string(in.ActivityLevel))))
}

// Validate checks the input ranges and enumerations.
func (in Input) Validate() error {
	if in.WeightKg < 1 || in.WeightKg > 500 {
		return ErrInvalidWeight
	}
	if in.HeightCm < 30 || in.HeightCm > 300 {
		return ErrInvalidHeight
	}
	if in.Age < 1 || in.Age > 120 {
		return ErrInvalidAge
	}
	if in.Sex != Male && in.Sex != Female {
		return ErrInvalidSex
	}
	if _, ok := activityFactors[in.ActivityLevel]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidActivity, in.ActivityLevel)
	}
	return nil
}

// Compute validates the input and derives BMI, category, BMR and calories.
func Compute(in Input) (Result, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	value := Index(in.WeightKg, in.HeightCm)
	bmr := BasalMetabolicRate(in.WeightKg, in.HeightCm, in.Age, in.Sex)

	return Result{
		BMI:           value,
		Category:      Classify(value),
		BMR:           round(bmr, 1),
		DailyCalories: int(math.Round(bmr * activityFactors[in.ActivityLevel])),
	}, nil
}

// Index returns weight / height² rounded to one decimal place.
func Index(weightKg, heightCm float64) float64 {
	m := heightCm / 100
	return round(weightKg/(m*m), 1)
}

// Classify maps a BMI value to its category.
func Classify(value float64) Category {
	switch {
	case value < 18.5:
		return Underweight
	case value < 25:
		return Normal
	case value < 30:
		return Overweight
	default:
		return Obese
	}
}

// BasalMetabolicRate uses the Mifflin-St Jeor equation.
func BasalMetabolicRate(weightKg, heightCm float64, age int, sex Sex) float64 {
	base := 10*weightKg + 6.25*heightCm - 5*float64(age)
	if sex == Female {
		return base - 161
	}
	return base + 5
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
