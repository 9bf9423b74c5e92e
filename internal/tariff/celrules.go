package tariff

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-audit/harrier/internal/domain"
	"github.com/opensource-audit/harrier/internal/similarity"
)

// CustomRuleSet holds compiled operator-defined classification rules.
// Rules are CEL expressions over the transaction; an expression returning
// true classifies the transaction as a fee with the rule's code.
// Compilation happens at load time so an invalid expression can never
// reach an analysis run.
type CustomRuleSet struct {
	env   *cel.Env
	rules []compiledRule
}

type compiledRule struct {
	cfg     *domain.ClassificationRule
	program cel.Program
}

// NewCustomRuleSet compiles the enabled rules, ordered by priority then id
// for deterministic evaluation.
func NewCustomRuleSet(configs []*domain.ClassificationRule) (*CustomRuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("description", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("category", cel.StringType),
		cel.Variable("reference", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	set := &CustomRuleSet{env: env}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		program, err := set.compile(cfg)
		if err != nil {
			return nil, err
		}
		set.rules = append(set.rules, compiledRule{cfg: cfg, program: program})
	}

	sort.Slice(set.rules, func(i, j int) bool {
		if set.rules[i].cfg.Priority != set.rules[j].cfg.Priority {
			return set.rules[i].cfg.Priority < set.rules[j].cfg.Priority
		}
		return set.rules[i].cfg.ID < set.rules[j].cfg.ID
	})

	return set, nil
}

// Validate compiles a rule without adding it to any set.
func Validate(cfg *domain.ClassificationRule) error {
	if cfg == nil {
		return fmt.Errorf("classification rule is required")
	}
	set, err := NewCustomRuleSet(nil)
	if err != nil {
		return err
	}
	_, err = set.compile(cfg)
	return err
}

func (s *CustomRuleSet) compile(cfg *domain.ClassificationRule) (cel.Program, error) {
	ast, issues := s.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile classification rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("classification rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for classification rule %s: %w", cfg.ID, err)
	}
	return program, nil
}

// Len returns the number of loaded rules.
func (s *CustomRuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Match evaluates the rules in priority order against the transaction.
// The first expression returning true wins. Evaluation errors skip the
// rule: a broken custom rule degrades classification, it never aborts it.
func (s *CustomRuleSet) Match(tx *domain.Transaction) (code, name string, ok bool) {
	if s == nil || len(s.rules) == 0 {
		return "", "", false
	}

	activation := map[string]any{
		"description": similarity.Normalize(tx.Description),
		"amount":      tx.Amount,
		"category":    tx.Category,
		"reference":   tx.Reference,
	}

	for _, rule := range s.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			continue
		}
		if b, isBool := out.(types.Bool); isBool && bool(b) {
			return rule.cfg.FeeCode, rule.cfg.Name, true
		}
	}

	return "", "", false
}
