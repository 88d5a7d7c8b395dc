package escrow

import (
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
)

// reasonKinds виды ошибок для кодов причин бизнес-логики. Оба пути исполнения используют одну таблицу:
// путь документов строит ошибки напрямую, реляционный получает коды из процедур.
var reasonKinds = map[string]rpcerr.Kind{
	rpcerr.ReasonProductNotFound:     rpcerr.KindNotFound,
	rpcerr.ReasonOrderNotFound:       rpcerr.KindNotFound,
	rpcerr.ReasonEscrowNotFound:      rpcerr.KindNotFound,
	rpcerr.ReasonWalletNotFound:      rpcerr.KindNotFound,
	rpcerr.ReasonProductNotActive:    rpcerr.KindFailedPrecondition,
	rpcerr.ReasonSelfPurchase:        rpcerr.KindFailedPrecondition,
	rpcerr.ReasonInsufficientBalance: rpcerr.KindFailedPrecondition,
	rpcerr.ReasonOrderNotPending:     rpcerr.KindFailedPrecondition,
	rpcerr.ReasonEscrowNotLocked:     rpcerr.KindFailedPrecondition,
	rpcerr.ReasonNegativeBalance:     rpcerr.KindFailedPrecondition,
	rpcerr.ReasonAmountOutOfRange:    rpcerr.KindFailedPrecondition,
	rpcerr.ReasonNotOrderParty:       rpcerr.KindPermissionDenied,
	rpcerr.ReasonAdminRequired:       rpcerr.KindPermissionDenied,
	rpcerr.ReasonInvalidDelta:        rpcerr.KindInvalidArgument,
}

// MapError переводит коды причин из процедур в виды по таблице. Незнакомые коды остаются нормализатору.
func MapError(err error, _ rpcerr.ErrorContext) *rpcerr.Error {
	tok, ok := rpcerr.TokenOf(err)
	if !ok {
		return nil
	}
	kind, known := reasonKinds[tok.Reason]
	if !known {
		return nil
	}
	return rpcerr.New(kind, tok.Reason, tok.Message)
}

// isNotOrderParty отказ стороне заказа: типизированный с пути документов или код причины из процедуры.
func isNotOrderParty(err error) bool {
	if err == nil {
		return false
	}
	if typed, ok := rpcerr.As(err); ok {
		return typed.Reason == rpcerr.ReasonNotOrderParty
	}
	tok, ok := rpcerr.TokenOf(err)
	return ok && tok.Reason == rpcerr.ReasonNotOrderParty
}

func fail(reason, message string) *rpcerr.Error {
	return rpcerr.New(reasonKinds[reason], reason, message)
}

func failf(reason, format string, args ...any) *rpcerr.Error {
	return rpcerr.Newf(reasonKinds[reason], reason, format, args...)
}

func notFound(reason, message string) *rpcerr.Error {
	return rpcerr.NotFound(reason, message)
}
