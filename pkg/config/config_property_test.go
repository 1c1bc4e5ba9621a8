// Package config provides property-based tests for configuration fallback functionality.
// These tests verify universal properties that should hold across all valid inputs.
package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ZeroValuesFallBackToDefaults tests that unset numeric knobs receive defaults
//
// Property: For any config where a numeric knob is left at its zero value,
// applyDefaults SHALL replace it with a positive default, ensuring the system
// remains operational with a partial config file.
func TestProperty_ZeroValuesFallBackToDefaults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("zero queue knobs fall back to positive defaults", prop.ForAll(
		func(_ int) bool {
			cfg := &Config{}
			cfg.applyDefaults()

			return cfg.Queue.MaxRetry > 0 &&
				cfg.Queue.TaskTimeout > 0 &&
				cfg.Queue.SweepInterval > 0 &&
				cfg.Queue.RetryBackoffBase > 0 &&
				cfg.Queue.RetryBackoffCap >= cfg.Queue.RetryBackoffBase
		},
		gen.Const(0),
	))

	properties.Property("zero budget knobs fall back to positive defaults", prop.ForAll(
		func(_ int) bool {
			cfg := &Config{}
			cfg.applyDefaults()

			return cfg.Ledger.DailyBudget > 0 &&
				cfg.Ledger.WorkerBudget > 0 &&
				len(cfg.Ledger.EssentialTypes) > 0
		},
		gen.Const(0),
	))

	properties.Property("zero monitor thresholds fall back to sane ordering", prop.ForAll(
		func(_ int) bool {
			cfg := &Config{}
			cfg.applyDefaults()

			return cfg.Monitor.ErrorRateWarn > 0 &&
				cfg.Monitor.ErrorRateCrit > cfg.Monitor.ErrorRateWarn &&
				cfg.Monitor.SignalDir != ""
		},
		gen.Const(0),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidValuesArePreserved tests that set values are not overwritten
//
// Property: For any positive configuration value, applyDefaults SHALL preserve
// the value and NOT overwrite it with the default.
func TestProperty_ValidValuesArePreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("positive queue knobs are preserved", prop.ForAll(
		func(maxRetry, taskTimeout, sweepInterval int) bool {
			cfg := &Config{}
			cfg.Queue.MaxRetry = maxRetry
			cfg.Queue.TaskTimeout = taskTimeout
			cfg.Queue.SweepInterval = sweepInterval

			cfg.applyDefaults()

			return cfg.Queue.MaxRetry == maxRetry &&
				cfg.Queue.TaskTimeout == taskTimeout &&
				cfg.Queue.SweepInterval == sweepInterval
		},
		gen.IntRange(1, 100),
		gen.IntRange(1, 3600),
		gen.IntRange(1, 600),
	))

	properties.Property("positive budgets are preserved", prop.ForAll(
		func(daily, worker int) bool {
			cfg := &Config{}
			cfg.Ledger.DailyBudget = float64(daily)
			cfg.Ledger.WorkerBudget = float64(worker)

			cfg.applyDefaults()

			return cfg.Ledger.DailyBudget == float64(daily) &&
				cfg.Ledger.WorkerBudget == float64(worker)
		},
		gen.IntRange(1, 10000),
		gen.IntRange(1, 1000),
	))

	properties.Property("explicit store backend is preserved", prop.ForAll(
		func(pick bool) bool {
			backend := "sqlite"
			if pick {
				backend = "redis"
			}
			cfg := &Config{}
			cfg.Store.Backend = backend

			cfg.applyDefaults()

			return cfg.Store.Backend == backend
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestProperty_ApplyDefaultsIsIdempotent tests that applying defaults twice
// produces the same result as applying them once.
func TestProperty_ApplyDefaultsIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("applyDefaults is idempotent", prop.ForAll(
		func(maxRetry, timeout, daily int) bool {
			cfg := &Config{}
			cfg.Queue.MaxRetry = maxRetry
			cfg.Queue.TaskTimeout = timeout
			cfg.Ledger.DailyBudget = float64(daily)

			cfg.applyDefaults()

			maxRetry1 := cfg.Queue.MaxRetry
			timeout1 := cfg.Queue.TaskTimeout
			daily1 := cfg.Ledger.DailyBudget
			backend1 := cfg.Store.Backend

			cfg.applyDefaults()

			return cfg.Queue.MaxRetry == maxRetry1 &&
				cfg.Queue.TaskTimeout == timeout1 &&
				cfg.Ledger.DailyBudget == daily1 &&
				cfg.Store.Backend == backend1
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 3600),
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}
