package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/envelope"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/middlewares"
	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	dispatcher Caller
	production bool
}

func NewCallHandler(dispatcher Caller, production bool) *CallHandler {
	return &CallHandler{
		dispatcher: dispatcher,
		production: production,
	}
}

type CallRequest struct {
	Data json.RawMessage `json:"data"`
}

var emptyObject = json.RawMessage("{}")

func (h *CallHandler) Call(c *gin.Context) {
	var params CallRequest
	if bindErr := c.ShouldBindJSON(&params); bindErr != nil {
		_ = c.Error(bindErr).SetType(gin.ErrorTypeBind)
		envelope.Abort(c, rpcerr.InvalidArgument(rpcerr.ReasonInvalidPayload,
			"request body must be a json object with a data field"), h.production)
		return
	}
	data := params.Data
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = emptyObject
	}

	out, err := h.dispatcher.Call(c.Request.Context(), c.Param("operation"), data, middlewares.CallerContext(c))
	if err != nil {
		rpcErr, ok := rpcerr.As(err)
		if !ok {
			rpcErr = rpcerr.Normalize(err, rpcerr.ErrorContext{Operation: c.Param("operation")})
		}
		_ = c.Error(err).SetType(gin.ErrorTypePrivate)
		envelope.Abort(c, rpcErr, h.production)
		return
	}

	c.JSON(http.StatusOK, envelope.Success(out))
}
