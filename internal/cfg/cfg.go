package cfg

import (
	"errors"
	"flag"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds            int
	ShutdownBudgetSeconds   int
	APIPort                 int
	APIToken                string
	ClaudeAPIKey            string
	ClaudeModel             string
	ReasoningTimeoutSeconds int
	DatabaseURL             string
	SlackWebhookURL         string
	RunSchedule             string
	CriticalLowPressurePSI  float64
	MinSafePressurePSI      float64
	MaxSafePressurePSI      float64
	EnergyPriceWindow       int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "comma-separated bearer tokens accepted by the API (empty = no auth)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude reasoning provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.ReasoningTimeoutSeconds, "reasoning-timeout-seconds", 60, "timeout for a single reasoning call (1..300)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for plan notifications")
	fs.StringVar(&c.RunSchedule, "run-schedule", "", "cron spec for periodic full runs (empty = disabled)")
	fs.Float64Var(&c.CriticalLowPressurePSI, "critical-low-pressure-psi", 30, "pressure below which the safety guardrail reports CRITICAL")
	fs.Float64Var(&c.MinSafePressurePSI, "min-safe-pressure-psi", 40, "minimum safe operating pressure")
	fs.Float64Var(&c.MaxSafePressurePSI, "max-safe-pressure-psi", 120, "maximum safe operating pressure")
	fs.IntVar(&c.EnergyPriceWindow, "energy-price-window", 24, "hours of energy prices the pump schedule covers (1..168)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.ReasoningTimeoutSeconds <= 0 || c.ReasoningTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid REASONING_TIMEOUT_SECONDS %d (must be 1..300)", c.ReasoningTimeoutSeconds))
	}

	if c.RunSchedule != "" {
		if _, err := cron.ParseStandard(c.RunSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid RUN_SCHEDULE %q: %w", c.RunSchedule, err))
		}
	}

	// Pressure thresholds must be positive and strictly increasing (NaN fails)
	if !(c.CriticalLowPressurePSI > 0) {
		errs = append(errs, fmt.Errorf("invalid CRITICAL_LOW_PRESSURE_PSI %g (must be > 0)", c.CriticalLowPressurePSI))
	}
	if !(c.MinSafePressurePSI > c.CriticalLowPressurePSI) {
		errs = append(errs, fmt.Errorf("MIN_SAFE_PRESSURE_PSI %g must be greater than CRITICAL_LOW_PRESSURE_PSI %g", c.MinSafePressurePSI, c.CriticalLowPressurePSI))
	}
	if !(c.MaxSafePressurePSI > c.MinSafePressurePSI) {
		errs = append(errs, fmt.Errorf("MAX_SAFE_PRESSURE_PSI %g must be greater than MIN_SAFE_PRESSURE_PSI %g", c.MaxSafePressurePSI, c.MinSafePressurePSI))
	}

	if c.EnergyPriceWindow <= 0 || c.EnergyPriceWindow > 168 {
		errs = append(errs, fmt.Errorf("invalid ENERGY_PRICE_WINDOW %d (must be 1..168)", c.EnergyPriceWindow))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
