// Package tokens выпуск и проверка JWT: пользовательский токен несет личность вызывающего,
// клиентский подтверждает, что вызов пришел из доверенного приложения.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidClaims = errors.New("invalid claims")
)

type UserClaims struct {
	jwt.RegisteredClaims
	UID   string   `json:"uid"`
	Roles []string `json:"roles,omitempty"`
}

// ClientClaims аттестация клиентского приложения.
type ClientClaims struct {
	jwt.RegisteredClaims
	AppID string `json:"appId"`
}

func GenerateUserJWT(uid string, roles []string, expire time.Duration, key []byte) (string, error) {
	userClaims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expire)),
			Subject:   uid,
		},
		UID:   uid,
		Roles: roles,
	}
	token, err := generateJWT(userClaims, key)
	if err != nil {
		return "", fmt.Errorf("generating user jwt token: %s", err.Error())
	}
	return token, nil
}

func ValidateUserJWT(tokenString string, key []byte) (*UserClaims, error) {
	token, err := validateJWT(tokenString, new(UserClaims), key)
	if err != nil {
		return nil, fmt.Errorf("validating user jwt token: %w", err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || claims.UID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

func GenerateClientJWT(appID string, expire time.Duration, key []byte) (string, error) {
	clientClaims := ClientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expire)),
		},
		AppID: appID,
	}
	token, err := generateJWT(clientClaims, key)
	if err != nil {
		return "", fmt.Errorf("generating client jwt token: %s", err.Error())
	}
	return token, nil
}

func ValidateClientJWT(tokenString string, key []byte) (*ClientClaims, error) {
	token, err := validateJWT(tokenString, new(ClientClaims), key)
	if err != nil {
		return nil, fmt.Errorf("validating client jwt token: %w", err)
	}

	claims, ok := token.Claims.(*ClientClaims)
	if !ok || claims.AppID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

func generateJWT(claims jwt.Claims, key []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("generating jwt token: %s", err.Error())
	}

	return tokenString, nil
}

// validateJWT текст токена в ошибку не попадает: он уходит в логи.
func validateJWT(tokenString string, claims jwt.Claims, key []byte) (*jwt.Token, error) {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("parsing jwt token: %w", err)
	}

	return token, nil
}
