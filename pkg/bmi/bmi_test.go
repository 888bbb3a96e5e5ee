package bmi_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/bmi-tracker/pkg/bmi"
)

var _ = Describe("BMI", func() {
	Describe("Index", func() {
		It("should divide weight by height squared", func() {
			Expect(bmi.Index(70, 175)).To(Equal(22.9))
			Expect(bmi.Index(90, 180)).To(Equal(27.8))
		})
	})

	Describe("Classify", func() {
		DescribeTable("should apply the category thresholds",
			func(value float64, expected bmi.Category) {
				Expect(bmi.Classify(value)).To(Equal(expected))
			},
			Entry("underweight", 18.4, bmi.Underweight),
			Entry("lower normal bound", 18.5, bmi.Normal),
			Entry("upper normal", 24.9, bmi.Normal),
			Entry("overweight bound", 25.0, bmi.Overweight),
			Entry("obese bound", 30.0, bmi.Obese),
		)
	})

	Describe("BasalMetabolicRate", func() {
		It("should add 5 for males and subtract 161 for females", func() {
			Expect(bmi.BasalMetabolicRate(70, 175, 30, bmi.Male)).To(BeNumerically("~", 1648.75, 0.001))
			Expect(bmi.BasalMetabolicRate(70, 175, 30, bmi.Female)).To(BeNumerically("~", 1482.75, 0.001))
		})
	})

	Describe("Compute", func() {
		It("should derive every field", func() {
			res, err := bmi.Compute(bmi.Input{
				WeightKg:      70,
				HeightCm:      175,
				Age:           30,
				Sex:           bmi.Male,
				ActivityLevel: bmi.Moderate,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.BMI).To(Equal(22.9))
			Expect(res.Category).To(Equal(bmi.Normal))
			Expect(res.BMR).To(Equal(1648.8))
			Expect(res.DailyCalories).To(Equal(2556))
		})

		It("should normalize enumerations", func() {
			_, err := bmi.Compute(bmi.Input{
				WeightKg:      60,
				HeightCm:      165,
				Age:           40,
				Sex:           " Female ",
				ActivityLevel: "VERY_ACTIVE",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("should reject invalid input",
			func(in bmi.Input, expected error) {
				_, err := bmi.Compute(in)
				Expect(err).To(MatchError(expected))
			},
			Entry("zero weight", bmi.Input{HeightCm: 170, Age: 30, Sex: bmi.Male, ActivityLevel: bmi.Light}, bmi.ErrInvalidWeight),
			Entry("tiny height", bmi.Input{WeightKg: 70, HeightCm: 10, Age: 30, Sex: bmi.Male, ActivityLevel: bmi.Light}, bmi.ErrInvalidHeight),
			Entry("age out of range", bmi.Input{WeightKg: 70, HeightCm: 170, Age: 130, Sex: bmi.Male, ActivityLevel: bmi.Light}, bmi.ErrInvalidAge),
			Entry("unknown sex", bmi.Input{WeightKg: 70, HeightCm: 170, Age: 30, Sex: "other", ActivityLevel: bmi.Light}, bmi.ErrInvalidSex),
			Entry("unknown activity", bmi.Input{WeightKg: 70, HeightCm: 170, Age: 30, Sex: bmi.Male, ActivityLevel: "extreme"}, bmi.ErrInvalidActivity),
		)
	})
})
