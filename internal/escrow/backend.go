// Package escrow машина состояний эскроу и кошельков: блокировка средств под заказ, выпуск продавцу,
// возврат покупателю и ручная корректировка баланса. Исполняется через хранимые процедуры
// реляционного бекенда или через транзакции хранилища документов.
package escrow

import (
	"context"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Backend один из путей исполнения. Оба пути обязаны давать одинаковые результаты и ошибки.
type Backend interface {
	Name() string
	Lock(ctx context.Context, sess *gateway.Session, cmd LockCommand) (LockResult, error)
	Release(ctx context.Context, sess *gateway.Session, cmd SettleCommand) (SettleResult, error)
	Refund(ctx context.Context, sess *gateway.Session, cmd SettleCommand) (SettleResult, error)
	Adjust(ctx context.Context, sess *gateway.Session, cmd AdjustCommand) (AdjustResult, error)
}

// Settings общие параметры обоих путей.
type Settings struct {
	Rate             decimal.Decimal
	PlatformWalletID string
	Now              func() time.Time
	NewID            func() string
}

func (s Settings) withDefaults() Settings {
	if s.Now == nil {
		s.Now = func() time.Time { return time.Now().UTC() }
	}
	if s.NewID == nil {
		s.NewID = func() string { return uuid.NewString() }
	}
	if s.PlatformWalletID == "" {
		s.PlatformWalletID = "platform"
	}
	return s
}
