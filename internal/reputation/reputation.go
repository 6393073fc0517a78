// Package reputation implements agent reputation scoring for SkillVault.
//
// Reputation is calculated from settled rentals:
// - Rental volume and count
// - Settlement rate (released vs refunded/disputed)
// - Time on network (age)
// - Unique counterparties (network breadth)
//
// Providers build reputation as their skills get rented and released;
// renters build it by completing rentals without disputes.
package reputation

import (
	"math"
	"time"
)

// Score represents an agent's reputation
type Score struct {
	Address    string     `json:"address"`
	Score      float64    `json:"score"` // 0-100
	Tier       Tier       `json:"tier"`
	Components Components `json:"components"`

	Metrics Metrics `json:"metrics"`

	CalculatedAt time.Time `json:"calculatedAt"`
}

// Tier represents reputation levels
type Tier string

const (
	TierNew         Tier = "new"         // 0-19: Just joined, no history
	TierEmerging    Tier = "emerging"    // 20-39: Some activity
	TierEstablished Tier = "established" // 40-59: Regular participant
	TierTrusted     Tier = "trusted"     // 60-79: Proven track record
	TierElite       Tier = "elite"       // 80-100: Top tier, high volume
)

// Components breaks down the score
type Components struct {
	VolumeScore    float64 `json:"volumeScore"`    // Based on settled volume
	ActivityScore  float64 `json:"activityScore"`  // Based on rental count
	SuccessScore   float64 `json:"successScore"`   // Based on release rate
	AgeScore       float64 `json:"ageScore"`       // Based on time on network
	DiversityScore float64 `json:"diversityScore"` // Based on unique counterparties
}

// Metrics are the raw inputs to the score
type Metrics struct {
	TotalRentals         int       `json:"totalRentals"`
	TotalVolumeUSD       float64   `json:"totalVolumeUsd"`
	ReleasedRentals      int       `json:"releasedRentals"`
	RefundedRentals      int       `json:"refundedRentals"`
	UniqueCounterparties int       `json:"uniqueCounterparties"`
	FirstSeen            time.Time `json:"firstSeen"`
	LastActive           time.Time `json:"lastActive"`
	DaysOnNetwork        int       `json:"daysOnNetwork"`
}

// Weights for score components (must sum to 1.0)
type Weights struct {
	Volume    float64
	Activity  float64
	Success   float64
	Age       float64
	Diversity float64
}

// DefaultWeights balances all factors
var DefaultWeights = Weights{
	Volume:    0.25,
	Activity:  0.20,
	Success:   0.25,
	Age:       0.15,
	Diversity: 0.15,
}

// Calculator computes reputation scores
type Calculator struct {
	weights Weights
}

// NewCalculator creates a reputation calculator
func NewCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights}
}

// NewCalculatorWithWeights creates a calculator with custom weights
func NewCalculatorWithWeights(w Weights) *Calculator {
	return &Calculator{weights: w}
}

// Calculate computes reputation from metrics
func (c *Calculator) Calculate(address string, m Metrics) *Score {
	comp := Components{}

	// Volume score: logarithmic scale, caps at $100k
	if m.TotalVolumeUSD > 0 {
		comp.VolumeScore = math.Min(100, 25*math.Log10(m.TotalVolumeUSD+1))
	}

	// Activity score: logarithmic scale, caps at 1000 rentals
	if m.TotalRentals > 0 {
		comp.ActivityScore = math.Min(100, 33.3*math.Log10(float64(m.TotalRentals)+1))
	}

	// Success score: release rate, neutral below 5 settled rentals
	if m.TotalRentals < 5 {
		comp.SuccessScore = 50
	} else {
		releaseRate := float64(m.ReleasedRentals) / float64(m.TotalRentals)
		comp.SuccessScore = releaseRate * 100
	}

	// Age score: logarithmic on days, caps around 1 year
	if m.DaysOnNetwork > 0 {
		comp.AgeScore = math.Min(100, 33.3*math.Log10(float64(m.DaysOnNetwork)+1))
	}

	// Diversity score: unique counterparties, logarithmic
	if m.UniqueCounterparties > 1 {
		comp.DiversityScore = math.Min(100, 50*math.Log10(float64(m.UniqueCounterparties)))
	}

	score := c.weights.Volume*comp.VolumeScore +
		c.weights.Activity*comp.ActivityScore +
		c.weights.Success*comp.SuccessScore +
		c.weights.Age*comp.AgeScore +
		c.weights.Diversity*comp.DiversityScore

	score = math.Max(0, math.Min(100, score))

	return &Score{
		Address:      address,
		Score:        math.Round(score*10) / 10,
		Tier:         getTier(score),
		Components:   comp,
		Metrics:      m,
		CalculatedAt: time.Now(),
	}
}

func getTier(score float64) Tier {
	switch {
	case score >= 80:
		return TierElite
	case score >= 60:
		return TierTrusted
	case score >= 40:
		return TierEstablished
	case score >= 20:
		return TierEmerging
	default:
		return TierNew
	}
}
