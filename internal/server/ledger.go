package server

import (
	"GameLedger/internal/apperr"
	"GameLedger/internal/core"
	"GameLedger/internal/guard"
	"GameLedger/internal/ledger"
	"GameLedger/internal/query"
	"GameLedger/internal/registry"
	"context"
	"encoding/hex"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LedgerService implements LedgerServer on top of the engine. Reads that
// need history or paging are served by the projection-backed query
// service.
type LedgerService struct {
	engine  *core.Engine
	queries *query.QueryService

	// persisted reports the last sequence committed to Postgres; the
	// integrity check compares live supply only when it matches the engine.
	persisted func() int64
}

// NewLedgerService wires the service. queries and persisted may be nil,
// in which case projection reads fail with UNAVAILABLE.
func NewLedgerService(engine *core.Engine, queries *query.QueryService, persisted func() int64) *LedgerService {
	return &LedgerService{engine: engine, queries: queries, persisted: persisted}
}

var _ LedgerServer = (*LedgerService)(nil)

// ============================================================================
// Helpers
// ============================================================================

func requireCaller(ctx context.Context) (ledger.Address, error) {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return "", apperr.New(apperr.CodeUnauthenticated, "caller is not authenticated")
	}
	return caller, nil
}

func callOpts(key string) []core.CallOption {
	if key == "" {
		return nil
	}
	return []core.CallOption{core.WithIdempotencyKey(key)}
}

func (s *LedgerService) requireQueries() error {
	if s.queries == nil {
		return status.Error(codes.Unavailable, "read model is not configured")
	}
	return nil
}

func toReceipt(r *core.Receipt) *Receipt {
	out := &Receipt{
		IdempotencyKey: r.IdempotencyKey,
		Sequences:      r.Sequences,
		AssetID:        r.AssetID,
		Duplicate:      r.Duplicate,
	}
	if out.Sequences == nil {
		out.Sequences = []int64{}
	}
	for _, evt := range r.Events {
		out.EventTypes = append(out.EventTypes, evt.EventType().String())
	}
	if len(r.Events) > 0 {
		out.StateHash = hex.EncodeToString(r.StateHash[:])
	}
	return out
}

func receiptOrErr(r *core.Receipt, err error) (*Receipt, error) {
	if err != nil {
		return nil, err
	}
	return toReceipt(r), nil
}

// ============================================================================
// Lifecycle and token
// ============================================================================

func (s *LedgerService) Initialize(ctx context.Context, req *InitializeRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	token := ledger.TokenInfo{Name: req.TokenName, Symbol: req.TokenSymbol}
	return receiptOrErr(s.engine.Initialize(caller, token, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) Mint(ctx context.Context, req *MintRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(req.To)
	if err != nil {
		return nil, err
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return receiptOrErr(s.engine.Mint(caller, to, amount, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) Burn(ctx context.Context, req *BurnRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return receiptOrErr(s.engine.Burn(caller, amount, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) Transfer(ctx context.Context, req *TransferRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(req.To)
	if err != nil {
		return nil, err
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return receiptOrErr(s.engine.Transfer(caller, to, amount, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) RewardNewPlayer(ctx context.Context, req *RewardNewPlayerRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	player, err := ledger.ParseAddress(req.Player)
	if err != nil {
		return nil, err
	}
	return receiptOrErr(s.engine.RewardNewPlayer(caller, player, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) Balance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	addr, err := ledger.ParseAddress(req.Address)
	if err != nil {
		return nil, err
	}

	if req.Projected {
		if err := s.requireQueries(); err != nil {
			return nil, err
		}
		bal, err := s.queries.GetBalance(ctx, addr)
		if err != nil {
			return nil, err
		}
		return &BalanceResponse{
			Address:      bal.Address,
			Balance:      bal.Display,
			BaseUnits:    bal.Balance,
			AsOfSequence: bal.AsOfSequence,
		}, nil
	}

	units := s.engine.Balance(addr)
	return &BalanceResponse{
		Address:      addr.String(),
		Balance:      ledger.FormatAmount(units),
		BaseUnits:    units,
		AsOfSequence: s.engine.LastSequence(),
	}, nil
}

func (s *LedgerService) Metadata(ctx context.Context, _ *MetadataRequest) (*MetadataResponse, error) {
	md := s.engine.Metadata()
	return &MetadataResponse{
		Name:        md.Name,
		Symbol:      md.Symbol,
		Decimals:    md.Decimals,
		TotalSupply: ledger.FormatAmount(md.TotalSupply),
		Admin:       s.engine.Admin().String(),
		Initialized: s.engine.Initialized(),
	}, nil
}

func (s *LedgerService) AccountHistory(ctx context.Context, req *AccountHistoryRequest) (*AccountHistoryResponse, error) {
	if err := s.requireQueries(); err != nil {
		return nil, err
	}
	addr, err := ledger.ParseAddress(req.Address)
	if err != nil {
		return nil, err
	}
	entries, err := s.queries.ListAccountHistory(ctx, addr, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	return &AccountHistoryResponse{Entries: entries}, nil
}

// ============================================================================
// Collections and assets
// ============================================================================

func (s *LedgerService) CreateCollection(ctx context.Context, req *CreateCollectionRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	return receiptOrErr(s.engine.CreateCollection(caller, core.CollectionSpec{
		Name:        req.Name,
		Description: req.Description,
		URI:         req.URI,
		Capacity:    req.Capacity,
	}, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) GetCollection(ctx context.Context, req *GetCollectionRequest) (*registry.Info, error) {
	info, err := s.engine.Collection(req.Name)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *LedgerService) ListCollections(ctx context.Context, _ *ListCollectionsRequest) (*ListCollectionsResponse, error) {
	infos := s.engine.Collections()
	if infos == nil {
		infos = []registry.Info{}
	}
	return &ListCollectionsResponse{Collections: infos}, nil
}

func (s *LedgerService) GetPool(ctx context.Context, req *GetPoolRequest) (*query.PoolResponse, error) {
	if err := s.requireQueries(); err != nil {
		return nil, err
	}
	return s.queries.GetPool(ctx, req.Collection)
}

func (s *LedgerService) AllocateSecure(ctx context.Context, req *AllocateRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(req.To)
	if err != nil {
		return nil, err
	}
	attrs, err := req.Attributes.Attributes()
	if err != nil {
		return nil, err
	}
	_, r, err := s.engine.AllocateSecure(caller, to, req.Collection, attrs, callOpts(req.IdempotencyKey)...)
	return receiptOrErr(r, err)
}

func (s *LedgerService) AllocateFallback(ctx context.Context, req *AllocateRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(req.To)
	if err != nil {
		return nil, err
	}
	attrs, err := req.Attributes.Attributes()
	if err != nil {
		return nil, err
	}
	_, r, err := s.engine.AllocateFallback(caller, to, req.Collection, attrs, callOpts(req.IdempotencyKey)...)
	return receiptOrErr(r, err)
}

func (s *LedgerService) MintWithAttributes(ctx context.Context, req *MintWithAttributesRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(req.To)
	if err != nil {
		return nil, err
	}
	attrs, err := req.Attributes.Attributes()
	if err != nil {
		return nil, err
	}
	_, r, err := s.engine.MintWithAttributes(caller, to, req.Collection, attrs, callOpts(req.IdempotencyKey)...)
	return receiptOrErr(r, err)
}

func (s *LedgerService) TransferAsset(ctx context.Context, req *TransferAssetRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	to, err := ledger.ParseAddress(req.To)
	if err != nil {
		return nil, err
	}
	return receiptOrErr(s.engine.TransferAsset(caller, to, req.Collection, req.AssetID, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) BurnAsset(ctx context.Context, req *BurnAssetRequest) (*Receipt, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	return receiptOrErr(s.engine.BurnAsset(caller, req.Collection, req.AssetID, callOpts(req.IdempotencyKey)...))
}

func (s *LedgerService) AvailableCount(ctx context.Context, req *AvailableCountRequest) (*AvailableCountResponse, error) {
	n, err := s.engine.AvailableCount(req.Collection)
	if err != nil {
		return nil, err
	}
	return &AvailableCountResponse{Collection: req.Collection, Available: n}, nil
}

func (s *LedgerService) IsUsed(ctx context.Context, req *AssetRef) (*IsUsedResponse, error) {
	used, err := s.engine.IsUsed(req.Collection, req.AssetID)
	if err != nil {
		return nil, err
	}
	return &IsUsedResponse{Collection: req.Collection, AssetID: req.AssetID, Used: used}, nil
}

func (s *LedgerService) AttributesOf(ctx context.Context, req *AssetRef) (*AttributesResponse, error) {
	attrs, err := s.engine.AttributesOf(req.Collection, req.AssetID)
	if err != nil {
		return nil, err
	}
	return &AttributesResponse{Collection: req.Collection, AssetID: req.AssetID, Attributes: attrs}, nil
}

func (s *LedgerService) OwnerOf(ctx context.Context, req *AssetRef) (*OwnerResponse, error) {
	owner, err := s.engine.OwnerOf(req.Collection, req.AssetID)
	if err != nil {
		return nil, err
	}
	return &OwnerResponse{Collection: req.Collection, AssetID: req.AssetID, Owner: owner.String()}, nil
}

func (s *LedgerService) ListAssets(ctx context.Context, req *ListAssetsRequest) (*query.AssetPage, error) {
	if err := s.requireQueries(); err != nil {
		return nil, err
	}
	owner, err := ledger.ParseAddress(req.Owner)
	if err != nil {
		return nil, err
	}
	page, err := s.queries.ListAssetsByOwner(ctx, owner, req.Collection, req.Limit, req.Cursor)
	if err != nil {
		return nil, err
	}
	if page.Assets == nil {
		page.Assets = []query.AssetResponse{}
	}
	return page, nil
}

// ============================================================================
// Admin
// ============================================================================

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	caller, err := requireCaller(ctx)
	if err != nil {
		return nil, err
	}
	if err := guard.RequireAdmin(caller, s.engine.Admin()); err != nil {
		return nil, err
	}
	if err := s.requireQueries(); err != nil {
		return nil, err
	}

	var live *uint64
	if s.persisted != nil && s.persisted() == s.engine.LastSequence() {
		supply := s.engine.Metadata().TotalSupply
		live = &supply
	}
	return s.queries.VerifyIntegrity(ctx, live)
}
