package operations

import (
	"context"
	"encoding/json"

	"github.com/fsdevblog/escrow-gateway/internal/docstore"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/sirupsen/logrus"
)

const (
	RoutineWalletGet = "wallet_get"

	defaultLedgerLimit = 20
	maxLedgerLimit     = 100
)

type walletInput struct {
	// OwnerID пустой означает кошелек вызывающего.
	OwnerID     string `json:"ownerId"     validate:"omitempty,max_bytes=128"`
	LedgerLimit int    `json:"ledgerLimit" validate:"gte=0"`
}

type WalletView struct {
	OwnerID      string       `json:"ownerId"`
	Balance      int64        `json:"balance"`
	PendingGold  int64        `json:"pendingGold"`
	UpdatedAt    *string      `json:"updatedAt"`
	RecentLedger []LedgerView `json:"recentLedger"`
}

type LedgerView struct {
	ID           string  `json:"id"`
	ActorID      string  `json:"actorId"`
	AmountDelta  int64   `json:"amountDelta"`
	Reason       string  `json:"reason,omitempty"`
	BalanceAfter int64   `json:"balanceAfter"`
	CreatedAt    *string `json:"createdAt"`
}

func walletDefinition(docs *docstore.Store) *gateway.Definition {
	args := gateway.DefinitionArgs[walletInput]{
		Name:     OpWalletGet,
		Resource: "wallet",
		Action:   "read",
		Region:   region(docs),
		Routine:  RoutineWalletGet,
		ParseInput: func(raw json.RawMessage, cc gateway.CallerContext) (walletInput, error) {
			p, err := gateway.DecodeInput[walletInput](raw)
			if err != nil {
				return p, err //nolint:wrapcheck
			}
			if p.OwnerID == "" {
				p.OwnerID = cc.UID()
			}
			if p.LedgerLimit == 0 {
				p.LedgerLimit = defaultLedgerLimit
			}
			p.LedgerLimit = gateway.Clamp(p.LedgerLimit, 1, maxLedgerLimit)
			return p, nil
		},
		Bind: func(req *gateway.Request, p walletInput, _ gateway.CallerContext) error {
			req.Input("p_owner_id", gateway.Text, p.OwnerID).
				Input("p_ledger_limit", gateway.BigInt, int64(p.LedgerLimit))
			return nil
		},
		Transform: func(raw any, p walletInput, _ gateway.CallerContext) (any, error) {
			return walletView(raw, p.OwnerID)
		},
		// владелец берется так же, как при разборе: пустой ownerId означает вызывающего.
		ScopeContext: func(payload gateway.Payload, cc gateway.CallerContext) map[string]any {
			owner := payload.String("ownerId")
			if owner == "" {
				owner = cc.UID()
			}
			return map[string]any{"ownerId": owner}
		},
		LogContext: func(p walletInput, _ gateway.CallerContext) logrus.Fields {
			return logrus.Fields{"ownerId": p.OwnerID}
		},
	}
	if docs != nil {
		args.Execute = func(
			ctx context.Context,
			_ *gateway.Session,
			_ *gateway.Request,
			p walletInput,
			_ gateway.CallerContext,
		) (any, error) {
			return walletDocument(ctx, docs, p.OwnerID, p.LedgerLimit)
		}
	}
	return gateway.MustDefinition(args)
}

func walletView(raw any, ownerID string) (WalletView, error) {
	res, ok := raw.(*gateway.Result)
	if !ok || res.Empty() {
		return WalletView{}, rpcerr.NotFound(rpcerr.ReasonWalletNotFound, "wallet not found")
	}
	row, _ := res.First()
	r := gateway.Row(row)

	view := WalletView{OwnerID: ownerID, RecentLedger: []LedgerView{}}
	var err error
	if view.Balance, err = r.Int64("balance"); err != nil {
		return WalletView{}, err
	}
	if view.PendingGold, err = r.Int64("pending_gold"); err != nil {
		return WalletView{}, err
	}
	updated, err := r.Time("updated_at")
	if err != nil {
		return WalletView{}, err
	}
	view.UpdatedAt = gateway.FormatTime(updated)

	ledger, err := r.JSON("recent_ledger")
	if err != nil {
		return WalletView{}, err
	}
	entries, _ := ledger.([]any)
	for _, e := range entries {
		obj, isObj := e.(map[string]any)
		if !isObj {
			return WalletView{}, rpcerr.Internal(rpcerr.ReasonMalformedResult, "backend returned a malformed result")
		}
		entry, entryErr := ledgerView(gateway.Row(obj))
		if entryErr != nil {
			return WalletView{}, entryErr
		}
		view.RecentLedger = append(view.RecentLedger, entry)
	}
	return view, nil
}

func ledgerView(r gateway.Row) (LedgerView, error) {
	var (
		v   LedgerView
		err error
	)
	if v.ID, err = r.String("id"); err != nil {
		return LedgerView{}, err
	}
	if v.ActorID, err = r.String("actorId"); err != nil {
		return LedgerView{}, err
	}
	if v.AmountDelta, err = r.Int64("amountDelta"); err != nil {
		return LedgerView{}, err
	}
	if v.BalanceAfter, err = r.Int64("balanceAfter"); err != nil {
		return LedgerView{}, err
	}
	if reason, ok := r["reason"].(string); ok {
		v.Reason = reason
	}
	created, err := r.Time("createdAt")
	if err != nil {
		return LedgerView{}, err
	}
	v.CreatedAt = gateway.FormatTime(created)
	return v, nil
}
