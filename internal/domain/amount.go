package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits carried by Amount. It
// matches USDC so the off-chain ledger and the escrow share one unit.
const AmountDecimals = 6

// PriceDecimals is the number of fractional digits carried by Price.
const PriceDecimals = 8

// Amount is a stake, balance or payout in fixed-point micro-units.
type Amount int64

// Units returns n whole units as an Amount.
func Units(n int64) Amount { return Amount(n * 1_000_000) }

// ParseAmount parses a decimal string such as "19.5". More than six
// fractional digits is rejected rather than rounded.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts d into micro-units.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	scaled := d.Shift(AmountDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals", d, AmountDecimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", d)
	}
	return Amount(scaled.IntPart()), nil
}

// Decimal returns a as a decimal in whole units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -AmountDecimals)
}

func (a Amount) String() string { return a.Decimal().String() }

// MarshalJSON encodes the amount as a JSON number in whole units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal().String()), nil
}

// UnmarshalJSON accepts a JSON number or string in whole units.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := AmountFromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Price is an underlying index price scaled by 1e8.
type Price int64

// ParsePrice parses a decimal string, truncating beyond eight decimals.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return PriceFromDecimal(d)
}

// PriceFromDecimal scales d by 1e8, truncating extra precision. Values that
// do not fit the scaled int64 are rejected.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	scaled := d.Shift(PriceDecimals).Truncate(0)
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("price %s out of range", d)
	}
	return Price(scaled.IntPart()), nil
}

// Decimal returns p in whole units.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceDecimals)
}

func (p Price) String() string { return p.Decimal().StringFixed(2) }

// MarshalJSON encodes the price as a JSON number.
func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.Decimal().String()), nil
}

// UnmarshalJSON accepts a JSON number or string.
func (p *Price) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := PriceFromDecimal(d)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
