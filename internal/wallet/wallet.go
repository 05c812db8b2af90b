// Package wallet generates custodial account keys and validates the
// user-supplied addresses and amounts that transactions are built from.
package wallet

import "errors"

// Wallet errors.
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted secret")
)
