// Package authz контракт оценщика политик и способы проверки прав вызывающего.
package authz

//go:generate mockgen -source=policy.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"slices"
)

// ErrDenied оценщик отказал в доступе. Любая другая ошибка оценщика считается его внутренней ошибкой.
var ErrDenied = errors.New("[authz] access denied")

// Identity проверенная личность вызывающего.
type Identity struct {
	UID   string
	Roles []string
}

func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(i.Roles, r) {
			return true
		}
	}
	return false
}

type PolicyRequest struct {
	Identity Identity
	Resource string
	Action   string
	Scope    map[string]any
}

type PolicyEvaluator interface {
	AssertAllowed(ctx context.Context, req PolicyRequest) error
}
