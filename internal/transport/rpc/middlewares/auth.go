package middlewares

import (
	"errors"
	"strings"

	"github.com/fsdevblog/escrow-gateway/internal/authz"
	"github.com/fsdevblog/escrow-gateway/internal/gateway"
	"github.com/fsdevblog/escrow-gateway/internal/rpcerr"
	"github.com/fsdevblog/escrow-gateway/internal/service/tokens"
	"github.com/fsdevblog/escrow-gateway/internal/transport/rpc/envelope"
	"github.com/gin-gonic/gin"
)

const (
	ClientTokenHeader  = "X-Client-Token"
	ClientBypassHeader = "X-Client-Bypass"

	IdentityKey       = "identity"
	ClientVerifiedKey = "clientVerified"
	BypassTokenKey    = "bypassToken"
)

var ErrTokenNotExist = errors.New("token not exist")

func bearerToken(c *gin.Context) (string, error) {
	tokenHeader := c.GetHeader("Authorization")
	bearer := "Bearer "

	if len(tokenHeader) < len(bearer) || tokenHeader[:len(bearer)] != bearer {
		return "", ErrTokenNotExist
	}
	return strings.TrimSpace(tokenHeader[len(bearer):]), nil
}

// Identity проверяет токен пользователя из заголовка Authorization и записывает личность в контекст
// (поле IdentityKey). Запрос без токена проходит анонимным, с недействительным токеном отклоняется.
func Identity(jwtUserSecret []byte, production bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := bearerToken(c)
		if errors.Is(err, ErrTokenNotExist) {
			c.Next()
			return
		}
		claims, err := tokens.ValidateUserJWT(tokenStr, jwtUserSecret)
		if err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			envelope.Abort(c, rpcerr.Unauthenticated("invalid or expired token"), production)
			return
		}
		c.Set(IdentityKey, &authz.Identity{UID: claims.UID, Roles: claims.Roles})
		c.Next()
	}
}

// ClientAttestation отмечает запрос с действительным клиентским токеном. Недействительный токен
// запрос не прерывает: решение принимает диспетчер по определению операции.
func ClientAttestation(jwtClientSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		verified := false
		if tokenStr := strings.TrimSpace(c.GetHeader(ClientTokenHeader)); tokenStr != "" {
			if _, err := tokens.ValidateClientJWT(tokenStr, jwtClientSecret); err != nil {
				_ = c.Error(err).SetType(gin.ErrorTypePrivate)
			} else {
				verified = true
			}
		}
		c.Set(ClientVerifiedKey, verified)
		if bypass := strings.TrimSpace(c.GetHeader(ClientBypassHeader)); bypass != "" {
			c.Set(BypassTokenKey, bypass)
		}
		c.Next()
	}
}

// CallerContext собирает сведения о вызывающем, записанные мидлварями.
func CallerContext(c *gin.Context) gateway.CallerContext {
	cc := gateway.CallerContext{
		ClientVerified: c.GetBool(ClientVerifiedKey),
		BypassToken:    c.GetString(BypassTokenKey),
		RequestID:      c.GetString(RequestIDKey),
	}
	if v, ok := c.Get(IdentityKey); ok {
		cc.Identity, _ = v.(*authz.Identity)
	}
	return cc
}
