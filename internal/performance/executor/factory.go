package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/katunilya/surge/internal/performance/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "ramping-arrival-rate" - Iteration rate ramps along stages
//   - "constant-arrival-rate" - Fixed iteration rate (open model)
//   - "ramping-vus" - VU count ramps along stages
//   - "constant-vus" - Fixed number of VUs for a duration
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeRampingArrivalRate:
		return NewRampingArrivalRate(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// ConfigFromScenario converts a parsed scenario into an executor Config.
func ConfigFromScenario(name string, sc *config.ScenarioConfig, logger *zap.Logger) (*Config, error) {
	p, err := sc.BuildPlan()
	if err != nil {
		return nil, fmt.Errorf("failed to convert scenario config: %w", err)
	}

	return &Config{
		Name:         name,
		Type:         Type(sc.Executor),
		Plan:         p,
		TickInterval: time.Duration(sc.TickInterval),
		ThinkTime:    time.Duration(sc.ThinkTime),
		GracefulStop: time.Duration(sc.GracefulStop),
		Logger:       logger,
	}, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(executorType) {
	case TypeRampingArrivalRate, TypeConstantArrivalRate, TypeRampingVUs, TypeConstantVUs:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{
		TypeRampingArrivalRate,
		TypeConstantArrivalRate,
		TypeRampingVUs,
		TypeConstantVUs,
	}
}

// ExecutorDescription provides documentation for an executor type.
type ExecutorDescription struct {
	Type        Type
	Name        string
	Description string
}

// GetExecutorDescription returns documentation for an executor type.
func GetExecutorDescription(executorType Type) *ExecutorDescription {
	switch executorType {
	case TypeRampingArrivalRate:
		return &ExecutorDescription{
			Type:        TypeRampingArrivalRate,
			Name:        "Ramping Arrival Rate",
			Description: "Starts iterations at a rate that ramps along stages, independent of response time. Demand beyond maxVUs is dropped.",
		}
	case TypeConstantArrivalRate:
		return &ExecutorDescription{
			Type:        TypeConstantArrivalRate,
			Name:        "Constant Arrival Rate",
			Description: "Starts iterations at a fixed rate for a duration. Demand beyond maxVUs is dropped.",
		}
	case TypeRampingVUs:
		return &ExecutorDescription{
			Type:        TypeRampingVUs,
			Name:        "Ramping VUs",
			Description: "Ramps the number of looping VUs along stages. Each VU runs iterations back to back with optional think time.",
		}
	case TypeConstantVUs:
		return &ExecutorDescription{
			Type:        TypeConstantVUs,
			Name:        "Constant VUs",
			Description: "Runs a fixed number of looping VUs for a duration (closed model).",
		}
	default:
		return nil
	}
}
