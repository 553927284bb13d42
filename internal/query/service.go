package query

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/core"
	"GameLedger/internal/ledger"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	// integrityBatch is how many events VerifyIntegrity reads per query.
	integrityBatch = 5000

	// maxReportedBreaks caps the sequences listed per problem kind.
	maxReportedBreaks = 10
)

// QueryService provides read-only access to the projection tables and the
// event log. Projection-backed responses carry as_of_sequence.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// ListAssetsByOwner pages through the assets held by owner, ordered by
// collection then id. collection may be empty to list every collection.
func (qs *QueryService) ListAssetsByOwner(
	ctx context.Context,
	owner ledger.Address,
	collection string,
	limit int,
	cursor string,
) (*AssetPage, error) {
	limit = clampLimit(limit)
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT collection, asset_id, owner, creator, name, description, uri,
		       rarity, skill, minted_at, last_sequence
		FROM projections.assets
		WHERE owner = $1
	`
	args := []any{owner.String()}
	argIdx := 2

	if collection != "" {
		query += fmt.Sprintf(" AND collection = $%d", argIdx)
		args = append(args, collection)
		argIdx++
	}

	if cursor != "" {
		coll, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += fmt.Sprintf(" AND (collection, asset_id) > ($%d, $%d::numeric)", argIdx, argIdx+1)
		args = append(args, coll, strconv.FormatUint(id, 10))
		argIdx += 2
	}

	query += " ORDER BY collection, asset_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &AssetPage{AsOfSequence: asOfSeq}
	for rows.Next() {
		var (
			a             AssetResponse
			id            decimal.Decimal
			rarity, skill int16
		)
		if err := rows.Scan(
			&a.Collection, &id, &a.Owner, &a.Creator, &a.Name, &a.Description, &a.URI,
			&rarity, &skill, &a.MintedAt, &a.LastSequence,
		); err != nil {
			return nil, err
		}
		if a.AssetID, err = baseUnits(id); err != nil {
			return nil, fmt.Errorf("asset id: %w", err)
		}
		a.Rarity, a.Skill = uint8(rarity), uint8(skill)
		a.MintedAt = a.MintedAt.UTC()
		page.Assets = append(page.Assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Assets) > limit {
		page.Assets = page.Assets[:limit]
		last := page.Assets[limit-1]
		page.NextCursor = encodeCursor(last.Collection, last.AssetID)
	}
	return page, nil
}

func encodeCursor(collection string, id uint64) string {
	return collection + "/" + strconv.FormatUint(id, 10)
}

func decodeCursor(cursor string) (string, uint64, error) {
	coll, idText, ok := strings.Cut(cursor, "/")
	if !ok || coll == "" {
		return "", 0, apperr.New(apperr.CodeInvalidArgument, "malformed page cursor")
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.CodeInvalidArgument, "malformed page cursor", err)
	}
	return coll, id, nil
}

// GetPool returns the projected pool counters of a collection.
func (qs *QueryService) GetPool(ctx context.Context, collection string) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := &PoolResponse{Collection: collection, AsOfSequence: asOfSeq}
	var capacity, available, minted, burned int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT capacity, available, minted, burned FROM projections.pools WHERE collection = $1
	`, collection).Scan(&capacity, &available, &minted, &burned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.WithMetadata(apperr.CodeNotFound, "collection not found",
			map[string]string{"collection": collection})
	}
	if err != nil {
		return nil, err
	}
	p.Capacity, p.Available = uint64(capacity), uint64(available)
	p.Minted, p.Burned = uint64(minted), uint64(burned)
	return p, nil
}

// ListAccountHistory returns journal entries touching address, newest
// first. beforeSequence of 0 starts from the head of the log.
func (qs *QueryService) ListAccountHistory(
	ctx context.Context,
	address ledger.Address,
	limit int,
	beforeSequence int64,
) ([]JournalHistoryEntry, error) {
	limit = clampLimit(limit)
	account := ledger.NewUserAccountKey(address).AccountPath()

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{account}
	argIdx := 2

	if beforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount decimal.Decimal
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = baseUnits(amount); err != nil {
			return nil, fmt.Errorf("journal %s: %w", e.JournalID, err)
		}
		e.Incoming = e.DebitAccount == account
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity walks the whole hash chain and compares the supply the
// journal implies with the projected balances. engineSupply, when
// non-nil, is compared as well; it only agrees once the persistence worker
// has caught up with the engine.
func (qs *QueryService) VerifyIntegrity(ctx context.Context, engineSupply *uint64) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	prev := core.GenesisHash()
	expected := int64(1)
	for {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT sequence, prev_hash, state_hash
			FROM event_log.events
			WHERE sequence >= $1
			ORDER BY sequence ASC
			LIMIT $2
		`, expected, integrityBatch)
		if err != nil {
			return nil, err
		}

		n := 0
		for rows.Next() {
			var (
				seq             int64
				prevHash, state []byte
			)
			if err := rows.Scan(&seq, &prevHash, &state); err != nil {
				rows.Close()
				return nil, err
			}
			n++
			if seq != expected && len(report.SequenceGaps) < maxReportedBreaks {
				report.SequenceGaps = append(report.SequenceGaps, expected)
			}
			if !bytes.Equal(prevHash, prev[:]) && len(report.HashChainBreaks) < maxReportedBreaks {
				report.HashChainBreaks = append(report.HashChainBreaks, seq)
			}
			copy(prev[:], state)
			expected = seq + 1
			report.EventsChecked++
			report.LastSequence = seq
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		if n < integrityBatch {
			break
		}
	}

	var minted, burned, projected decimal.Decimal
	if err := qs.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE credit_account = 'system:mint'), 0),
			COALESCE(SUM(amount) FILTER (WHERE debit_account = 'system:burn'), 0)
		FROM event_log.journal
	`).Scan(&minted, &burned); err != nil {
		return nil, fmt.Errorf("journal supply: %w", err)
	}
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM projections.balances
	`).Scan(&projected); err != nil {
		return nil, fmt.Errorf("projected supply: %w", err)
	}

	journalSupply := minted.Sub(burned)
	report.JournalSupply = journalSupply.String()
	report.ProjectedSupply = projected.String()
	report.SupplyMismatch = !journalSupply.Equal(projected)

	if engineSupply != nil {
		live := decimal.NewFromUint64(*engineSupply)
		report.EngineSupply = live.String()
		report.EngineSupplyMismatch = !journalSupply.Equal(live)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		!report.SupplyMismatch &&
		!report.EngineSupplyMismatch
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
