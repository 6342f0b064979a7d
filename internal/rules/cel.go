package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/harrierhq/harrier/internal/domain"
)

// NewCELEnv creates the CEL environment custom rules compile against.
// The variable set mirrors what the built-in rules read from the context.
func NewCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("velocity_count", cel.IntType),
		// Seconds since the device was first seen, -1 when the transaction
		// has no device.
		cel.Variable("device_age_secs", cel.IntType),
		cel.Variable("rolling_avg", cel.DoubleType),
		cel.Variable("merchant_risk", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CELRule is a deployment-defined rule compiled from a CEL expression.
// Like the built-ins it is a pure function of the evaluation context.
type CELRule struct {
	code     string
	severity string
	expr     string
	program  cel.Program
}

// CompileCELRule compiles a custom rule config into an executable rule.
// The expression must evaluate to bool.
func CompileCELRule(env *cel.Env, cfg domain.CustomRuleConfig) (*CELRule, error) {
	if cfg.Code == "" || cfg.Expression == "" {
		return nil, fmt.Errorf("code and expression are required")
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	severity := cfg.Severity
	switch severity {
	case domain.SeverityLow, domain.SeverityMed, domain.SeverityHigh:
	default:
		severity = domain.SeverityMed
	}

	return &CELRule{
		code:     cfg.Code,
		severity: severity,
		expr:     cfg.Expression,
		program:  program,
	}, nil
}

func (r *CELRule) Code() string { return r.code }

func (r *CELRule) Evaluate(ec *domain.EvalContext) *domain.AlertDraft {
	deviceAge := int64(-1)
	if ec.Device != nil {
		deviceAge = int64(ec.Device.Age(ec.EvalTime).Seconds())
	}

	activation := map[string]any{
		"amount":          ec.Transaction.Amount,
		"currency":        ec.Transaction.Currency,
		"direction":       ec.Transaction.Direction,
		"status":          ec.Transaction.Status,
		"velocity_count":  int64(len(ec.WindowTransactions)),
		"device_age_secs": deviceAge,
		"rolling_avg":     ec.RollingAvgAmount,
		"merchant_risk":   ec.MerchantRiskTier,
	}

	out, _, err := r.program.Eval(activation)
	if err != nil {
		// A custom expression that errors is a non-firing, not a crash.
		return nil
	}
	fired, ok := out.(types.Bool)
	if !ok || !bool(fired) {
		return nil
	}

	return &domain.AlertDraft{
		RuleCode: r.code,
		Severity: r.severity,
		Details: map[string]any{
			"expression": r.expr,
		},
	}
}
