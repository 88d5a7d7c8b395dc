// Package envelope тело ответа вызываемой операции: {ok, data} при успехе и {ok, error} при ошибке.
package envelope

import (
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/gin-gonic/gin"
)

type Body struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind    rpcerr.Kind `json:"kind"`
	Message string      `json:"message"`
	Details *Details    `json:"details,omitempty"`
}

type Details struct {
	Reason         string `json:"reason"`
	Classification string `json:"classification,omitempty"`
	// SQL код SQLSTATE. Вне продакшена.
	SQL string `json:"sql,omitempty"`
}

func Success(data any) Body {
	return Body{OK: true, Data: data}
}

// Failure тело ошибки. Диагностика, кроме классификации и SQLSTATE, наружу не попадает.
func Failure(err *rpcerr.Error, production bool) Body {
	details := &Details{Reason: err.Reason}
	if diag, ok := rpcerr.DiagnosticsOf(err); ok {
		details.Classification = string(diag.Classification)
		if !production {
			details.SQL = diag.DriverCode
		}
	}
	return Body{
		OK: false,
		Error: &ErrorBody{
			Kind:    err.Kind,
			Message: err.Message,
			Details: details,
		},
	}
}

// Abort прерывает обработку запроса, отвечая ошибкой со статусом по ее виду.
func Abort(c *gin.Context, err *rpcerr.Error, production bool) {
	c.AbortWithStatusJSON(err.Kind.HTTPStatus(), Failure(err, production))
}
