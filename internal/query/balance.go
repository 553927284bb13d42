package query

import (
	"GameLedger/internal/ledger"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// BalanceResponse is the projected token balance of an address.
type BalanceResponse struct {
	Address string `json:"address"`

	// Base units
	Balance uint64 `json:"balance,string"`

	// Balance in whole tokens, e.g. "650.00000000"
	Display string `json:"display"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// GetBalance returns the projected balance of address. Unknown addresses
// report zero.
func (qs *QueryService) GetBalance(ctx context.Context, address ledger.Address) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var raw decimal.Decimal
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE address = $1
	`, address.String()).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	units, err := baseUnits(raw)
	if err != nil {
		return nil, fmt.Errorf("projected balance of %s: %w", address.Short(), err)
	}

	return &BalanceResponse{
		Address:      address.String(),
		Balance:      units,
		Display:      ledger.FormatAmount(units),
		AsOfSequence: asOfSeq,
	}, nil
}

// baseUnits converts a scanned NUMERIC(20) to uint64.
func baseUnits(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", d)
	}
	return strconv.ParseUint(d.Truncate(0).String(), 10, 64)
}
