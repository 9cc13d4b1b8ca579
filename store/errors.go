package store

import "errors"

// Common storage errors
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateTransaction = errors.New("transaction hash already recorded")
	ErrDuplicateUser        = errors.New("user already exists")
	ErrNotPending           = errors.New("payment is no longer pending")
	ErrProductInUse         = errors.New("product has recorded payments")
)
