package gateway

import (
	"github.com/fsdevblog/escrow-gateway/internal/authz"
)

// CallerContext сведения о вызывающем, собранные транспортом.
type CallerContext struct {
	// Identity nil для анонимного вызова.
	Identity *authz.Identity
	// ClientVerified клиентское приложение предъявило действительную аттестацию.
	ClientVerified bool
	// BypassToken токен обхода проверки клиента из входящего вызова.
	BypassToken string
	RequestID   string
}

// UID идентификатор вызывающего или пустая строка.
func (cc CallerContext) UID() string {
	if cc.Identity == nil {
		return ""
	}
	return cc.Identity.UID
}

// Payload входные данные, разобранные без схемы. Используется построителями контекста области.
type Payload map[string]any

// String строковое поле с обрезанными пробелами.
func (p Payload) String(key string) string {
	v, _ := p[key].(string)
	return trimSpace(v)
}
