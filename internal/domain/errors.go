package domain

import "errors"

var (
	// ErrInvalidAmount is returned when a dollar amount cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAddress is returned when a coin record carries a contract
	// address that is missing or not a well-formed Solana public key.
	ErrInvalidAddress = errors.New("invalid contract address")
)
