package escrow

import (
	"context"
	"errors"

	"github.com/fsdevblog/escrow-gateway/internal/domain"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/repository/repoargs"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/fsdevblog/escrow-gateway/pkg/uow"
)

// Хранимые процедуры реляционного пути.
const (
	RoutineLock    = "escrow_lock"
	RoutineRelease = "escrow_release"
	RoutineRefund  = "escrow_refund"
)

// RelationalBackend путь исполнения через хранимые процедуры. Блокировка, выпуск и возврат атомарны
// внутри процедур, корректировка баланса идет набором запросов в транзакции единицы работы.
type RelationalBackend struct {
	repos    *uow.Registry
	settings Settings
}

func NewRelationalBackend(repos *uow.Registry, settings Settings) *RelationalBackend {
	return &RelationalBackend{repos: repos, settings: settings.withDefaults()}
}

func (b *RelationalBackend) Name() string {
	return "relational"
}

func (b *RelationalBackend) Lock(ctx context.Context, sess *gateway.Session, cmd LockCommand) (LockResult, error) {
	req := b.LockRequest(cmd)
	res, err := sess.Execute(ctx, req)
	if err != nil {
		return LockResult{}, err
	}
	row, err := singleRow(res, req.Routine())
	if err != nil {
		return LockResult{}, err
	}

	out := LockResult{}
	if out.OrderID, err = row.String("order_id"); err != nil {
		return LockResult{}, err
	}
	if out.ProductID, err = row.String("product_id"); err != nil {
		return LockResult{}, err
	}
	if out.PriceGold, err = row.Int64("price_gold"); err != nil {
		return LockResult{}, err
	}
	if out.CommissionGold, err = row.Int64("commission_gold"); err != nil {
		return LockResult{}, err
	}
	if out.TotalGold, err = row.Int64("total_gold"); err != nil {
		return LockResult{}, err
	}
	if out.BalanceAfter, err = row.Int64("balance_after"); err != nil {
		return LockResult{}, err
	}
	status, err := row.String("status")
	if err != nil {
		return LockResult{}, err
	}
	out.Status = domain.OrderStatusType(status)
	return out, nil
}

// LockRequest параметры escrow_lock. Ставка передается строкой numeric, без потери точности.
func (b *RelationalBackend) LockRequest(cmd LockCommand) *gateway.Request {
	return gateway.NewRequest(RoutineLock).
		Input("p_product_id", gateway.Text, cmd.ProductID).
		Input("p_buyer_id", gateway.Text, cmd.BuyerID()).
		Input("p_actor_id", gateway.Text, cmd.ActorID()).
		Input("p_commission_rate", gateway.Numeric, b.settings.Rate.String())
}

func (b *RelationalBackend) Release(ctx context.Context, sess *gateway.Session, cmd SettleCommand) (SettleResult, error) {
	return b.settle(ctx, sess, b.settleRequest(RoutineRelease, cmd))
}

func (b *RelationalBackend) Refund(ctx context.Context, sess *gateway.Session, cmd SettleCommand) (SettleResult, error) {
	req := b.settleRequest(RoutineRefund, cmd).Input("p_reason", gateway.Text, cmd.Reason)
	return b.settle(ctx, sess, req)
}

func (b *RelationalBackend) settleRequest(routine string, cmd SettleCommand) *gateway.Request {
	return gateway.NewRequest(routine).
		Input("p_order_id", gateway.Text, cmd.OrderID).
		Input("p_actor_id", gateway.Text, cmd.ActorID).
		Input("p_actor_is_admin", gateway.Bool, cmd.Admin != nil).
		Input("p_platform_wallet_id", gateway.Text, b.settings.PlatformWalletID)
}

func (b *RelationalBackend) settle(ctx context.Context, sess *gateway.Session, req *gateway.Request) (SettleResult, error) {
	res, err := sess.Execute(ctx, req)
	if err != nil {
		return SettleResult{}, err
	}
	row, err := singleRow(res, req.Routine())
	if err != nil {
		return SettleResult{}, err
	}

	var out SettleResult
	if out.OrderID, err = row.String("order_id"); err != nil {
		return SettleResult{}, err
	}
	var status, escrowStatus, productStatus string
	if status, err = row.String("status"); err != nil {
		return SettleResult{}, err
	}
	if escrowStatus, err = row.String("escrow_status"); err != nil {
		return SettleResult{}, err
	}
	if productStatus, err = row.String("product_status"); err != nil {
		return SettleResult{}, err
	}
	out.Status = domain.OrderStatusType(status)
	out.EscrowStatus = domain.EscrowStatusType(escrowStatus)
	out.ProductStatus = domain.ProductStatusType(productStatus)
	return out, nil
}

// Adjust корректировка баланса в одной транзакции: строка кошелька блокируется до записи журнала.
func (b *RelationalBackend) Adjust(ctx context.Context, sess *gateway.Session, cmd AdjustCommand) (AdjustResult, error) {
	conn, err := sess.Conn(ctx)
	if err != nil {
		return AdjustResult{}, err
	}
	entryID, now := b.settings.NewID(), b.settings.Now()

	var out AdjustResult
	err = b.repos.Bind(conn).Do(ctx, func(ctx context.Context, tx uow.TX) error {
		wallets, repoErr := uow.GetAs[WalletRepository](tx, uow.RepositoryName(repoargs.WalletRepoName))
		if repoErr != nil {
			return repoErr
		}
		ledger, repoErr := uow.GetAs[LedgerRepository](tx, uow.RepositoryName(repoargs.LedgerRepoName))
		if repoErr != nil {
			return repoErr
		}

		if cmd.Delta > 0 {
			if ensureErr := wallets.EnsureExists(ctx, cmd.TargetID); ensureErr != nil {
				return ensureErr
			}
		}
		wallet, getErr := wallets.GetForUpdate(ctx, cmd.TargetID)
		if getErr != nil && !errors.Is(getErr, domain.ErrRecordNotFound) {
			return getErr
		}

		plan, planErr := PlanAdjust(AdjustInput{
			TargetID: cmd.TargetID,
			Wallet:   wallet,
			Delta:    cmd.Delta,
			ActorID:  cmd.Admin.ActorID(),
			Reason:   cmd.Reason,
			Meta:     cmd.Metadata,
			EntryID:  entryID,
			Now:      now,
		})
		if planErr != nil {
			return planErr
		}

		saved, saveErr := wallets.Save(ctx, repoargs.WalletSave{OwnerID: cmd.TargetID, Balance: plan.Wallet.Balance})
		if saveErr != nil {
			return saveErr
		}
		plan.Entry.BalanceAfter = saved.Balance
		if appendErr := ledger.Append(ctx, plan.Entry); appendErr != nil {
			return appendErr
		}

		out = AdjustResult{
			TargetID:      saved.OwnerID,
			Balance:       saved.Balance,
			Delta:         plan.Entry.AmountDelta,
			LedgerEntryID: plan.Entry.ID,
		}
		return nil
	})
	if err != nil {
		return AdjustResult{}, err //nolint:wrapcheck
	}
	return out, nil
}

// singleRow процедуры пути эскроу возвращают ровно одну строку.
func singleRow(res *gateway.Result, routine string) (gateway.Row, error) {
	row, ok := res.First()
	if !ok {
		return nil, rpcerr.Internal(rpcerr.ReasonEmptyResult, "backend returned no result").
			WithDiagnostics(rpcerr.Diagnostics{Routine: routine})
	}
	return row, nil
}
