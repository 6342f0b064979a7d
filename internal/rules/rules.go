// Package rules contains the fraud rule set. A rule is a pure function of a
// loaded evaluation context: it never writes, and given the same context it
// always produces the same draft. All writes belong to the orchestrator.
package rules

import (
	"fmt"
	"sort"

	"github.com/harrierhq/harrier/internal/domain"
)

// Rule codes for the built-in rule set.
const (
	CodeAmountSpike = "AMOUNT_SPIKE"
	CodeNewDevice   = "NEW_DEVICE"
	CodeVelocity    = "VELOCITY_3_IN_2MIN"
	CodeSpikeVsAvg  = "SPIKE_VS_ROLLING_AVG"
)

// Rule is a single fraud signal. Evaluate returns nil when the rule does not
// fire.
type Rule interface {
	Code() string
	Evaluate(ec *domain.EvalContext) *domain.AlertDraft
}

// Builtin constructs the built-in rule set from configured thresholds.
func Builtin(cfg domain.RulesConfig) []Rule {
	return []Rule{
		&AmountSpikeRule{Threshold: cfg.AmountSpikeThreshold},
		&NewDeviceRule{Window: cfg.NewDeviceWindow},
		&VelocityRule{Count: cfg.VelocityCount, Window: cfg.VelocityWindow},
		&SpikeVsAvgRule{Multiplier: cfg.SpikeMultiplier},
	}
}

// FromConfig builds the full registered rule set: built-ins plus any enabled
// custom CEL rules, sorted by code so evaluation order is deterministic.
func FromConfig(cfg domain.RulesConfig) ([]Rule, error) {
	set := Builtin(cfg)

	if len(cfg.Custom) > 0 {
		env, err := NewCELEnv()
		if err != nil {
			return nil, err
		}
		for _, c := range cfg.Custom {
			if !c.Enabled {
				continue
			}
			rule, err := CompileCELRule(env, c)
			if err != nil {
				return nil, fmt.Errorf("custom rule %s: %w", c.Code, err)
			}
			set = append(set, rule)
		}
	}

	Sort(set)
	return set, nil
}

// Sort orders rules by code.
func Sort(set []Rule) {
	sort.Slice(set, func(i, j int) bool { return set[i].Code() < set[j].Code() })
}
