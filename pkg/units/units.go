package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of minor units per ether, as a power of ten.
const EtherDecimals = 18

var (
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrTooManyDecimals = errors.New("amount has more than 18 decimal places")
	ErrAmountOverflow  = errors.New("amount does not fit in 256 bits")
)

// FormatEther renders a minor-unit amount as a decimal ether string,
// without trailing zeros ("0.001", "3", "0").
func FormatEther(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -EtherDecimals).String()
}

// ParseEther converts a decimal ether string into minor units.
func ParseEther(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parsing ether amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	minor := d.Shift(EtherDecimals)
	if !minor.IsInteger() {
		return nil, ErrTooManyDecimals
	}
	amount, overflow := uint256.FromBig(minor.BigInt())
	if overflow {
		return nil, ErrAmountOverflow
	}
	return amount, nil
}

// ParseMinor parses a base-10 minor-unit amount.
func ParseMinor(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parsing minor-unit amount %q: %w", s, err)
	}
	return amount, nil
}

// ShortAddress renders an address as 0x1234...abcd.
func ShortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}
