// Package rules loads the YAML pack of self-healing policies and reflex response rules.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-autoops/internal/models"
)

// Pack is the YAML root structure.
type Pack struct {
	Policies      []models.SelfHealingPolicy `yaml:"policies" validate:"dive"`
	ResponseRules []models.ResponseRule      `yaml:"responseRules" validate:"dive"`
}

// PolicySink receives policies from a pack.
type PolicySink interface {
	Put(ctx context.Context, policy models.SelfHealingPolicy) error
}

// RuleSink receives response rules from a pack.
type RuleSink interface {
	Put(ctx context.Context, rule models.ResponseRule) error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a pack from path. An empty path or a missing file yields an empty pack.
func Load(path string) (*Pack, error) {
	if path == "" {
		return &Pack{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Pack{}, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a pack.
func Parse(data []byte) (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	if err := validate.Struct(&pack); err != nil {
		return nil, fmt.Errorf("validate rule pack: %w", err)
	}
	if err := uniqueIDs("policy", policyIDs(pack.Policies)); err != nil {
		return nil, err
	}
	if err := uniqueIDs("response rule", ruleIDs(pack.ResponseRules)); err != nil {
		return nil, err
	}
	return &pack, nil
}

// Apply adds or replaces every entry of pack by id. It stops at the first failure.
func Apply(ctx context.Context, pack *Pack, policies PolicySink, rules RuleSink, logger *slog.Logger) error {
	if pack == nil {
		return nil
	}
	for _, p := range pack.Policies {
		if err := policies.Put(ctx, p); err != nil {
			return fmt.Errorf("apply policy %s: %w", p.ID, err)
		}
	}
	for _, r := range pack.ResponseRules {
		if err := rules.Put(ctx, r); err != nil {
			return fmt.Errorf("apply response rule %s: %w", r.ID, err)
		}
	}
	if logger != nil {
		logger.Info("rule pack applied",
			slog.Int("policies", len(pack.Policies)),
			slog.Int("response_rules", len(pack.ResponseRules)),
		)
	}
	return nil
}

func policyIDs(policies []models.SelfHealingPolicy) []string {
	ids := make([]string, len(policies))
	for i, p := range policies {
		ids[i] = p.ID
	}
	return ids
}

func ruleIDs(rules []models.ResponseRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}

func uniqueIDs(kind string, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("duplicate %s id %q", kind, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
