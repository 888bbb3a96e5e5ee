// Package generator produces plausible synthetic measurement inputs.
package generator

import (
	"math"
	"sync"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/bmi-tracker/pkg/bmi"
)

// Profile is a simulated person whose weight drifts between measurements.
type Profile struct {
	ID            string            `fake:"{uuid}"`
	Name          string            `fake:"{name}"`
	Sex           bmi.Sex           `fake:"skip"`
	ActivityLevel bmi.ActivityLevel `fake:"skip"`
	Age           int               `fake:"skip"`
	HeightCm      float64           `fake:"skip"`
	WeightKg      float64           `fake:"skip"`
}

// Generator creates profiles and measurements. It is safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

// New returns a Generator. A zero seed picks a random one.
func New(seed uint64) *Generator {
	return &Generator{faker: gofakeit.New(seed)}
}

// NewProfile creates a profile with a realistic body shape.
func (g *Generator) NewProfile() (*Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var p Profile
	if err := g.faker.Struct(&p); err != nil {
		return nil, err
	}

	if g.faker.Bool() {
		p.Sex = bmi.Male
		p.HeightCm = round1(g.faker.Float64Range(160, 195))
	} else {
		p.Sex = bmi.Female
		p.HeightCm = round1(g.faker.Float64Range(150, 182))
	}

	levels := bmi.ActivityLevels()
	p.ActivityLevel = levels[g.faker.IntRange(0, len(levels)-1)]
	p.Age = g.faker.IntRange(18, 80)

	// Target a BMI between 17 and 36 so every category shows up.
	target := g.faker.Float64Range(17, 36)
	meters := p.HeightCm / 100
	p.WeightKg = round1(target * meters * meters)

	return &p, nil
}

// Measurement returns the next input for p, moving its weight by at most
// 0.8 kg. The profile is updated in place.
func (g *Generator) Measurement(p *Profile) bmi.Input {
	g.mu.Lock()
	drift := g.faker.Float64Range(-0.8, 0.8)
	g.mu.Unlock()

	p.WeightKg = round1(math.Max(35, math.Min(250, p.WeightKg+drift)))

	return bmi.Input{
		Sex:           p.Sex,
		ActivityLevel: p.ActivityLevel,
		WeightKg:      p.WeightKg,
		HeightCm:      p.HeightCm,
		Age:           p.Age,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
