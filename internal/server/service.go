package server

import (
	"GameLedger/internal/query"
	"GameLedger/internal/registry"
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "gameledger.v1.Ledger"

// LedgerServer is the gRPC surface of the ledger.
type LedgerServer interface {
	Initialize(context.Context, *InitializeRequest) (*Receipt, error)

	// Token
	Mint(context.Context, *MintRequest) (*Receipt, error)
	Burn(context.Context, *BurnRequest) (*Receipt, error)
	Transfer(context.Context, *TransferRequest) (*Receipt, error)
	RewardNewPlayer(context.Context, *RewardNewPlayerRequest) (*Receipt, error)
	Balance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	Metadata(context.Context, *MetadataRequest) (*MetadataResponse, error)
	AccountHistory(context.Context, *AccountHistoryRequest) (*AccountHistoryResponse, error)

	// Collections and assets
	CreateCollection(context.Context, *CreateCollectionRequest) (*Receipt, error)
	GetCollection(context.Context, *GetCollectionRequest) (*registry.Info, error)
	ListCollections(context.Context, *ListCollectionsRequest) (*ListCollectionsResponse, error)
	GetPool(context.Context, *GetPoolRequest) (*query.PoolResponse, error)
	AllocateSecure(context.Context, *AllocateRequest) (*Receipt, error)
	AllocateFallback(context.Context, *AllocateRequest) (*Receipt, error)
	MintWithAttributes(context.Context, *MintWithAttributesRequest) (*Receipt, error)
	TransferAsset(context.Context, *TransferAssetRequest) (*Receipt, error)
	BurnAsset(context.Context, *BurnAssetRequest) (*Receipt, error)
	AvailableCount(context.Context, *AvailableCountRequest) (*AvailableCountResponse, error)
	IsUsed(context.Context, *AssetRef) (*IsUsedResponse, error)
	AttributesOf(context.Context, *AssetRef) (*AttributesResponse, error)
	OwnerOf(context.Context, *AssetRef) (*OwnerResponse, error)
	ListAssets(context.Context, *ListAssetsRequest) (*query.AssetPage, error)

	// Admin
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
}

// publicMethods may be called without a bearer token.
var publicMethods = map[string]bool{
	"Balance":         true,
	"Metadata":        true,
	"AccountHistory":  true,
	"GetCollection":   true,
	"ListCollections": true,
	"GetPool":         true,
	"AvailableCount":  true,
	"IsUsed":          true,
	"AttributesOf":    true,
	"OwnerOf":         true,
	"ListAssets":      true,
}

// FullMethod returns "/gameledger.v1.Ledger/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unary adapts a typed LedgerServer method to a grpc.MethodDesc.
func unary[Req, Resp any](method string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			})
		},
	}
}

// LedgerServiceDesc is registered in place of protoc output; messages are
// carried by the JSON codec.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Initialize", LedgerServer.Initialize),
		unary("Mint", LedgerServer.Mint),
		unary("Burn", LedgerServer.Burn),
		unary("Transfer", LedgerServer.Transfer),
		unary("RewardNewPlayer", LedgerServer.RewardNewPlayer),
		unary("Balance", LedgerServer.Balance),
		unary("Metadata", LedgerServer.Metadata),
		unary("AccountHistory", LedgerServer.AccountHistory),
		unary("CreateCollection", LedgerServer.CreateCollection),
		unary("GetCollection", LedgerServer.GetCollection),
		unary("ListCollections", LedgerServer.ListCollections),
		unary("GetPool", LedgerServer.GetPool),
		unary("AllocateSecure", LedgerServer.AllocateSecure),
		unary("AllocateFallback", LedgerServer.AllocateFallback),
		unary("MintWithAttributes", LedgerServer.MintWithAttributes),
		unary("TransferAsset", LedgerServer.TransferAsset),
		unary("BurnAsset", LedgerServer.BurnAsset),
		unary("AvailableCount", LedgerServer.AvailableCount),
		unary("IsUsed", LedgerServer.IsUsed),
		unary("AttributesOf", LedgerServer.AttributesOf),
		unary("OwnerOf", LedgerServer.OwnerOf),
		unary("ListAssets", LedgerServer.ListAssets),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gameledger/v1/ledger.proto",
}

// RegisterLedgerServer registers srv on s.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// ============================================================================
// Client
// ============================================================================

// LedgerClient calls the Ledger service over a gRPC connection.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) Initialize(ctx context.Context, in *InitializeRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "Initialize", in, opts)
}

func (c *LedgerClient) Mint(ctx context.Context, in *MintRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "Mint", in, opts)
}

func (c *LedgerClient) Burn(ctx context.Context, in *BurnRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "Burn", in, opts)
}

func (c *LedgerClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "Transfer", in, opts)
}

func (c *LedgerClient) RewardNewPlayer(ctx context.Context, in *RewardNewPlayerRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "RewardNewPlayer", in, opts)
}

func (c *LedgerClient) Balance(ctx context.Context, in *BalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, c.cc, "Balance", in, opts)
}

func (c *LedgerClient) Metadata(ctx context.Context, in *MetadataRequest, opts ...grpc.CallOption) (*MetadataResponse, error) {
	return invoke[MetadataResponse](ctx, c.cc, "Metadata", in, opts)
}

func (c *LedgerClient) AccountHistory(ctx context.Context, in *AccountHistoryRequest, opts ...grpc.CallOption) (*AccountHistoryResponse, error) {
	return invoke[AccountHistoryResponse](ctx, c.cc, "AccountHistory", in, opts)
}

func (c *LedgerClient) CreateCollection(ctx context.Context, in *CreateCollectionRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "CreateCollection", in, opts)
}

func (c *LedgerClient) GetCollection(ctx context.Context, in *GetCollectionRequest, opts ...grpc.CallOption) (*registry.Info, error) {
	return invoke[registry.Info](ctx, c.cc, "GetCollection", in, opts)
}

func (c *LedgerClient) ListCollections(ctx context.Context, in *ListCollectionsRequest, opts ...grpc.CallOption) (*ListCollectionsResponse, error) {
	return invoke[ListCollectionsResponse](ctx, c.cc, "ListCollections", in, opts)
}

func (c *LedgerClient) GetPool(ctx context.Context, in *GetPoolRequest, opts ...grpc.CallOption) (*query.PoolResponse, error) {
	return invoke[query.PoolResponse](ctx, c.cc, "GetPool", in, opts)
}

func (c *LedgerClient) AllocateSecure(ctx context.Context, in *AllocateRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "AllocateSecure", in, opts)
}

func (c *LedgerClient) AllocateFallback(ctx context.Context, in *AllocateRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "AllocateFallback", in, opts)
}

func (c *LedgerClient) MintWithAttributes(ctx context.Context, in *MintWithAttributesRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "MintWithAttributes", in, opts)
}

func (c *LedgerClient) TransferAsset(ctx context.Context, in *TransferAssetRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "TransferAsset", in, opts)
}

func (c *LedgerClient) BurnAsset(ctx context.Context, in *BurnAssetRequest, opts ...grpc.CallOption) (*Receipt, error) {
	return invoke[Receipt](ctx, c.cc, "BurnAsset", in, opts)
}

func (c *LedgerClient) AvailableCount(ctx context.Context, in *AvailableCountRequest, opts ...grpc.CallOption) (*AvailableCountResponse, error) {
	return invoke[AvailableCountResponse](ctx, c.cc, "AvailableCount", in, opts)
}

func (c *LedgerClient) IsUsed(ctx context.Context, in *AssetRef, opts ...grpc.CallOption) (*IsUsedResponse, error) {
	return invoke[IsUsedResponse](ctx, c.cc, "IsUsed", in, opts)
}

func (c *LedgerClient) AttributesOf(ctx context.Context, in *AssetRef, opts ...grpc.CallOption) (*AttributesResponse, error) {
	return invoke[AttributesResponse](ctx, c.cc, "AttributesOf", in, opts)
}

func (c *LedgerClient) OwnerOf(ctx context.Context, in *AssetRef, opts ...grpc.CallOption) (*OwnerResponse, error) {
	return invoke[OwnerResponse](ctx, c.cc, "OwnerOf", in, opts)
}

func (c *LedgerClient) ListAssets(ctx context.Context, in *ListAssetsRequest, opts ...grpc.CallOption) (*query.AssetPage, error) {
	return invoke[query.AssetPage](ctx, c.cc, "ListAssets", in, opts)
}

func (c *LedgerClient) VerifyIntegrity(ctx context.Context, in *VerifyIntegrityRequest, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	return invoke[query.IntegrityReport](ctx, c.cc, "VerifyIntegrity", in, opts)
}
