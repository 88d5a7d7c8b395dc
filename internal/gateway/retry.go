package gateway

import (
	"context"
	"time"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
)

// RetryPolicy повторы при ошибках уровня соединения. Бизнес-ошибки не повторяются никогда.
type RetryPolicy struct {
	// Attempts общее число попыток, включая первую.
	Attempts uint
	// Backoff пауза перед n-м повтором равна Backoff * n.
	Backoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 200 * time.Millisecond} //nolint:mnd
}

// retryable решает, можно ли повторить попытку attempt (с единицы) после err.
// Таймаут повторяется один раз и только если он случился при получении соединения.
func (p RetryPolicy) retryable(err error, attempt uint) bool {
	if err == nil || attempt >= p.Attempts {
		return false
	}
	if _, typed := rpcerr.As(err); typed {
		return false
	}
	switch {
	case rpcerr.IsTimeout(err):
		return attempt == 1 && isAcquireError(err)
	case rpcerr.IsLoginFailure(err), rpcerr.IsConnectionError(err):
		return true
	}
	return false
}

// poolLevel ошибка, после которой пул нельзя использовать дальше.
func poolLevel(err error) bool {
	if _, typed := rpcerr.As(err); typed {
		return false
	}
	return rpcerr.IsConnectionError(err) || rpcerr.IsLoginFailure(err)
}

func (p RetryPolicy) wait(ctx context.Context, attempt uint) error {
	if p.Backoff <= 0 {
		return ctx.Err() //nolint:wrapcheck
	}
	t := time.NewTimer(p.Backoff * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	case <-t.C:
		return nil
	}
}
