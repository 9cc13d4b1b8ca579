package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/basedlink/basedlink-pay/types"
)

var (
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// IsValidTransactionHash reports whether hash is a 0x-prefixed 32 byte hex string.
func IsValidTransactionHash(hash string) bool {
	return txHashPattern.MatchString(hash)
}

// IsValidAddress reports whether address is a 0x-prefixed 20 byte hex string.
// Checksum casing is not enforced.
func IsValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

// AddressesEqual compares two EVM addresses ignoring EIP-55 casing.
func AddressesEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ValidateAmount checks if an amount string is a valid USDC amount
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if err := CheckAmount(dec); err != nil {
		return nil, err
	}

	return &dec, nil
}

// CheckAmount rejects negative amounts and amounts finer than one token unit.
func CheckAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("amount cannot be negative")
	}

	if !amount.Equal(amount.Truncate(types.USDCDecimals)) {
		return fmt.Errorf("amount has more than %d decimal places", types.USDCDecimals)
	}

	return nil
}

// ToTokenUnits converts a display amount to integer token units.
func ToTokenUnits(amount decimal.Decimal) (*big.Int, error) {
	if err := CheckAmount(amount); err != nil {
		return nil, err
	}
	return amount.Shift(types.USDCDecimals).BigInt(), nil
}

// FromTokenUnits converts integer token units to a display amount.
func FromTokenUnits(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, -types.USDCDecimals)
}

// NormalizeAddress lowercases an address for storage and comparison.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
