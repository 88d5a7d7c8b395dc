package domain

import (
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrConstraint     = errors.New("constraint violation")
	ErrUnknown        = errors.New("unknown error")
)
