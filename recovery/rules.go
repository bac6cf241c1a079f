package recovery

import "github.com/taskmesh/taskmesh/core"

// Strategy names a recovery behavior. The chain executes the strategies a
// rule lists in order until one reports success.
type Strategy string

const (
	StrategyRetry      Strategy = "retry"
	StrategyAdapt      Strategy = "adapt"
	StrategyRethink    Strategy = "rethink"
	StrategyDecompose  Strategy = "decompose"
	StrategyToolSwitch Strategy = "tool_switch"
	// StrategyDelegate is reserved for multi-agent handoff and is not yet
	// implemented; selecting it yields ErrStrategyNotImplemented.
	StrategyDelegate Strategy = "delegate"
)

// KindAny matches every error kind. Rules scoped to KindAny act as
// catch-alls and are consulted only when no kind-specific rule matches.
const KindAny core.ErrorKind = "any"

// Rule binds an error kind, and optionally a tool, to an ordered list of
// strategies. A rule naming a tool applies only to failures of steps that
// used that tool.
type Rule struct {
	Kind        core.ErrorKind
	Tool        string
	Strategies  []Strategy
	MaxAttempts int
}

// RuleSet resolves the applicable rule for a failed step. Lookup follows
// specificity: tool+kind beats kind-only beats KindAny beats the built-in
// default of a single retry.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet returns a rule set seeded with the built-in defaults. Rules
// added later take precedence over earlier ones at equal specificity.
func NewRuleSet() *RuleSet {
	return &RuleSet{rules: defaultRules()}
}

func defaultRules() []Rule {
	return []Rule{
		{Kind: core.KindToolError, Strategies: []Strategy{StrategyRetry, StrategyToolSwitch, StrategyAdapt}, MaxAttempts: 3},
		{Kind: core.KindKnowledgeGap, Strategies: []Strategy{StrategyAdapt, StrategyDecompose}, MaxAttempts: 2},
		{Kind: core.KindReasoningError, Strategies: []Strategy{StrategyRethink, StrategyDecompose}, MaxAttempts: 2},
		{Kind: core.KindAPIError, Strategies: []Strategy{StrategyRetry}, MaxAttempts: 3},
		{Kind: core.KindDataError, Strategies: []Strategy{StrategyAdapt, StrategyRetry}, MaxAttempts: 2},
		{Kind: core.KindSystemError, Strategies: []Strategy{StrategyRetry}, MaxAttempts: 2},
		// Catch-all for kinds with no dedicated rule (permission_error,
		// data gaps from unknown causes): try a different tool, then adapt.
		{Kind: KindAny, Strategies: []Strategy{StrategyToolSwitch, StrategyAdapt}, MaxAttempts: 2},
	}
}

// Add appends a rule. Later additions shadow earlier rules of the same
// specificity, letting callers override the defaults.
func (rs *RuleSet) Add(rules ...Rule) {
	rs.rules = append(rs.rules, rules...)
}

// Match returns the most specific rule for the given failure. When nothing
// matches, it returns the built-in fallback: a single retry.
func (rs *RuleSet) Match(kind core.ErrorKind, tool string) Rule {
	var kindRule, anyRule *Rule
	// Walk in reverse so later additions shadow earlier ones.
	for i := len(rs.rules) - 1; i >= 0; i-- {
		r := rs.rules[i]
		if r.Tool != "" {
			if r.Tool == tool && (r.Kind == kind || r.Kind == KindAny) {
				return r
			}
			continue
		}
		if r.Kind == kind && kindRule == nil {
			rule := r
			kindRule = &rule
		}
		if r.Kind == KindAny && anyRule == nil {
			rule := r
			anyRule = &rule
		}
	}
	if kindRule != nil {
		return *kindRule
	}
	if anyRule != nil {
		return *anyRule
	}
	return Rule{Kind: kind, Strategies: []Strategy{StrategyRetry}, MaxAttempts: 1}
}
