package control

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Config holds every tunable of one vehicle profile: the kinematic model
// constants, the horizon geometry, the cost weights that define the feel of
// the controller, and the actuator limits. It is built once at session start
// and never mutated, so sessions for different vehicles can coexist.
type Config struct {
	// Kinematic model.
	WheelbaseLf  float64 `json:"wheelbase_lf"`   // distance front axle to CoG, m
	MaxSteerRad  float64 `json:"max_steer_rad"`  // physical steering limit, rad
	LatencySec   float64 `json:"latency_sec"`    // delay before a command takes effect
	RefSpeed     float64 `json:"ref_speed"`      // cruising speed the cost pulls toward
	InvertSteer  bool    `json:"invert_steer"`   // flip sign of the outbound steering command
	FitDegree    int     `json:"fit_degree"`     // reference polynomial degree
	DisplayCount int     `json:"display_count"`  // reference samples sent for display
	DisplayStep  float64 `json:"display_step"`   // spacing of those samples, m

	// Horizon geometry.
	HorizonSteps int     `json:"horizon_steps"` // N
	StepSec      float64 `json:"step_sec"`      // dt

	// Cost weights.
	WeightCTE       float64 `json:"weight_cte"`
	WeightEPsi      float64 `json:"weight_epsi"`
	WeightSpeed     float64 `json:"weight_speed"`
	WeightSteer     float64 `json:"weight_steer"`
	WeightAccel     float64 `json:"weight_accel"`
	WeightSteerRate float64 `json:"weight_steer_rate"`
	WeightAccelRate float64 `json:"weight_accel_rate"`

	// Actuator bounds.
	AccelMin float64 `json:"accel_min"`
	AccelMax float64 `json:"accel_max"`

	// Solver budget.
	SolverMaxEval  int     `json:"solver_max_eval"`
	SolverMaxTime  float64 `json:"solver_max_time_sec"`
	SolverTol      float64 `json:"solver_tol"`
	ConstraintTol  float64 `json:"constraint_tol"` // accepted dynamics residual
	FallbackDecel  float64 `json:"fallback_decel"` // braking accel on repeated divergence
}

// DefaultConfig returns a profile tuned for the reference simulator vehicle.
// The weights are empirical; they are a starting point, not a contract.
func DefaultConfig() Config {
	return Config{
		WheelbaseLf:  2.67,
		MaxSteerRad:  25.0 * math.Pi / 180.0,
		LatencySec:   0.1,
		RefSpeed:     40.0,
		InvertSteer:  true,
		FitDegree:    3,
		DisplayCount: 20,
		DisplayStep:  2.5,

		HorizonSteps: 10,
		StepSec:      0.1,

		WeightCTE:       2000,
		WeightEPsi:      2000,
		WeightSpeed:     1,
		WeightSteer:     10,
		WeightAccel:     10,
		WeightSteerRate: 150,
		WeightAccelRate: 15,

		AccelMin: -1,
		AccelMax: 1,

		SolverMaxEval: 4000,
		SolverMaxTime: 0.05,
		SolverTol:     1e-6,
		ConstraintTol: 1e-2,
		FallbackDecel: 0.5,
	}
}

// LoadConfig reads a vehicle profile from JSON. Fields absent from the file
// keep their defaults, so a profile only needs to state what it changes.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read profile: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal profile: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects profiles the optimizer cannot run with.
func (c Config) Validate() error {
	if c.HorizonSteps < 3 {
		return fmt.Errorf("invalid horizon_steps: %d (need at least 3)", c.HorizonSteps)
	}
	if c.StepSec <= 0 {
		return fmt.Errorf("invalid step_sec: %f", c.StepSec)
	}
	if c.WheelbaseLf <= 0 {
		return fmt.Errorf("invalid wheelbase_lf: %f", c.WheelbaseLf)
	}
	if c.MaxSteerRad <= 0 {
		return fmt.Errorf("invalid max_steer_rad: %f", c.MaxSteerRad)
	}
	if c.LatencySec < 0 {
		return fmt.Errorf("invalid latency_sec: %f", c.LatencySec)
	}
	if c.AccelMin >= c.AccelMax {
		return fmt.Errorf("invalid accel bounds: [%f, %f]", c.AccelMin, c.AccelMax)
	}
	if c.FitDegree < 1 {
		return fmt.Errorf("invalid fit_degree: %d", c.FitDegree)
	}
	if c.SolverMaxEval <= 0 {
		return fmt.Errorf("invalid solver_max_eval: %d", c.SolverMaxEval)
	}
	if c.FallbackDecel <= 0 || c.FallbackDecel > -c.AccelMin {
		return fmt.Errorf("invalid fallback_decel: %f", c.FallbackDecel)
	}
	return nil
}
