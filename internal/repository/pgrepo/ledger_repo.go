package pgrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/pkg/uow"
)

const ledgerAppendSQL = `INSERT INTO ledger_entries
    (id, target_id, actor_id, amount_delta, reason, metadata, balance_after, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

type LedgerRepository struct {
	conn uow.DBTX
}

func NewLedgerRepository(conn uow.DBTX) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Append добавляет запись журнала. Записи журнала не изменяются.
func (l *LedgerRepository) Append(ctx context.Context, entry domain.LedgerEntry) error {
	var meta []byte
	if len(entry.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("[repository/appending ledger entry] marshal metadata: %w", err)
		}
	}
	_, err := l.conn.Exec(ctx, ledgerAppendSQL,
		entry.ID,
		entry.TargetID,
		entry.ActorID,
		entry.AmountDelta,
		entry.Reason,
		meta,
		entry.BalanceAfter,
		entry.CreatedAt,
	)
	if err != nil {
		return convertErr(err, "appending ledger entry for %s", entry.TargetID)
	}
	return nil
}
