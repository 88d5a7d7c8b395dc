package escrow

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/repository/repoargs"
)

type WalletRepository interface {
	EnsureExists(ctx context.Context, ownerID string) error
	GetForUpdate(ctx context.Context, ownerID string) (*domain.Wallet, error)
	Save(ctx context.Context, args repoargs.WalletSave) (*domain.Wallet, error)
}

type LedgerRepository interface {
	Append(ctx context.Context, entry domain.LedgerEntry) error
}
