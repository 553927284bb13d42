package ledger

import (
	"GameLedger/internal/apperr"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32  // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

// TokenConfig is the precision of the game token: 1 unit = 10^8 base units.
var TokenConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}

var maxBaseUnits = decimal.NewFromUint64(math.MaxUint64)

// ParseAmount converts a decimal string such as "650" or "0.5" into base
// units. More fractional digits than the token precision, negative values
// and values beyond uint64 are rejected.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidAmount, "amount is not a decimal number", err)
	}
	if d.IsNegative() {
		return 0, apperr.New(apperr.CodeInvalidAmount, "amount must not be negative")
	}

	base := d.Shift(TokenConfig.DecimalPrecision)
	if !base.Equal(base.Truncate(0)) {
		return 0, apperr.WithMetadata(apperr.CodeInvalidAmount, "amount has too many decimal places",
			map[string]string{"max_decimals": strconv.Itoa(int(TokenConfig.DecimalPrecision))})
	}
	if base.GreaterThan(maxBaseUnits) {
		return 0, apperr.New(apperr.CodeOverflow, "amount exceeds the representable range")
	}

	v, err := strconv.ParseUint(base.String(), 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeInvalidAmount, "amount out of range", err)
	}
	return v, nil
}

// FormatAmount renders base units with the full token precision,
// e.g. 65000000000 → "650.00000000".
func FormatAmount(units uint64) string {
	return decimal.NewFromUint64(units).Shift(-TokenConfig.DecimalPrecision).
		StringFixed(TokenConfig.DecimalPrecision)
}
