package authz

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// AnyRole в списке ролей правила означает любого аутентифицированного вызывающего.
const AnyRole = "*"

type Rule struct {
	Resource string   `yaml:"resource"`
	Action   string   `yaml:"action"`
	Roles    []string `yaml:"roles"`
	// Owner ключ контекста области, значение которого должно совпадать с UID вызывающего.
	// Роли администратора это условие снимают.
	Owner string `yaml:"owner,omitempty"`
}

type Rules struct {
	AdminRoles []string `yaml:"adminRoles"`
	Rules      []Rule   `yaml:"rules"`
}

func DefaultRules() Rules {
	return Rules{
		AdminRoles: []string{"admin"},
		Rules: []Rule{
			{Resource: "escrow", Action: "lock", Roles: []string{AnyRole}},
			{Resource: "escrow", Action: "release", Roles: []string{AnyRole}},
			{Resource: "escrow", Action: "refund", Roles: []string{AnyRole}},
			{Resource: "escrow", Action: "read", Roles: []string{AnyRole}},
			{Resource: "escrow", Action: "admin", Roles: []string{"admin"}},
			{Resource: "wallet", Action: "read", Roles: []string{AnyRole}, Owner: "ownerId"},
			{Resource: "wallet", Action: "adjust", Roles: []string{"admin"}},
		},
	}
}

// LoadRules читает правила из yaml файла. Пустой путь дает правила по умолчанию.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse policy rules: %w", err)
	}
	for i, r := range rules.Rules {
		if r.Resource == "" || r.Action == "" || len(r.Roles) == 0 {
			return Rules{}, fmt.Errorf("parse policy rules: rule #%d must have resource, action and roles", i)
		}
	}
	return rules, nil
}

// RoleEvaluator оценщик политик по ролям из Rules.
type RoleEvaluator struct {
	rules Rules
}

func NewRoleEvaluator(rules Rules) *RoleEvaluator {
	return &RoleEvaluator{rules: rules}
}

func (e *RoleEvaluator) AssertAllowed(ctx context.Context, req PolicyRequest) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	admin := req.Identity.HasRole(e.rules.AdminRoles...)
	for _, r := range e.rules.Rules {
		if r.Resource != req.Resource || (r.Action != req.Action && r.Action != AnyRole) {
			continue
		}
		if !slices.Contains(r.Roles, AnyRole) && !req.Identity.HasRole(r.Roles...) {
			continue
		}
		if r.Owner != "" && !admin {
			if owner, _ := req.Scope[r.Owner].(string); owner != req.Identity.UID {
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s/%s", ErrDenied, req.Resource, req.Action)
}
