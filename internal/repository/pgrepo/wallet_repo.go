package pgrepo

import (
	"context"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/repository/repoargs"
	"github.com/fsdevblog/escrow-gateway/pkg/uow"
)

const (
	walletEnsureSQL = `INSERT INTO wallets (owner_id, balance, pending_gold, updated_at)
VALUES ($1, 0, 0, now())
ON CONFLICT (owner_id) DO NOTHING`

	walletForUpdateSQL = `SELECT owner_id, balance, pending_gold, updated_at
FROM wallets
WHERE owner_id = $1
FOR UPDATE`

	walletSaveSQL = `UPDATE wallets
SET balance = $2, updated_at = now()
WHERE owner_id = $1
RETURNING owner_id, balance, pending_gold, updated_at`
)

type WalletRepository struct {
	conn uow.DBTX
}

func NewWalletRepository(conn uow.DBTX) *WalletRepository {
	return &WalletRepository{conn: conn}
}

// EnsureExists создает пустой кошелек, если его нет.
func (w *WalletRepository) EnsureExists(ctx context.Context, ownerID string) error {
	if _, err := w.conn.Exec(ctx, walletEnsureSQL, ownerID); err != nil {
		return convertErr(err, "ensuring wallet %s", ownerID)
	}
	return nil
}

// GetForUpdate читает кошелек и блокирует строку до конца транзакции.
// Если кошелька нет, возвращает ErrRecordNotFound.
func (w *WalletRepository) GetForUpdate(ctx context.Context, ownerID string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := w.conn.QueryRow(ctx, walletForUpdateSQL, ownerID).
		Scan(&wallet.OwnerID, &wallet.Balance, &wallet.PendingGold, &wallet.UpdatedAt)
	if err != nil {
		return nil, convertErr(err, "getting wallet %s for update", ownerID)
	}
	wallet.UpdatedAt = wallet.UpdatedAt.UTC()
	return &wallet, nil
}

func (w *WalletRepository) Save(ctx context.Context, args repoargs.WalletSave) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := w.conn.QueryRow(ctx, walletSaveSQL, args.OwnerID, args.Balance).
		Scan(&wallet.OwnerID, &wallet.Balance, &wallet.PendingGold, &wallet.UpdatedAt)
	if err != nil {
		return nil, convertErr(err, "saving wallet %s", args.OwnerID)
	}
	wallet.UpdatedAt = wallet.UpdatedAt.In(time.UTC)
	return &wallet, nil
}
