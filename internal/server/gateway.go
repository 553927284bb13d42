package server

import (
	"GameLedger/internal/apperr"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// maxBodyBytes bounds REST request bodies.
const maxBodyBytes = 1 << 20

// route serves one REST path by running the matching RPC through the same
// interceptor chain as gRPC. bind copies path and query parameters into
// the decoded request.
func route[Req, Resp any](s *GRPCServer, httpMethod, pattern, rpc string, bind func(*Req, *http.Request, map[string]string) error, call func(LedgerServer, context.Context, *Req) (*Resp, error)) error {
	return s.gwmux.HandlePath(httpMethod, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			dec.DisallowUnknownFields()
			if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, apperr.ToGRPC(apperr.Wrap(apperr.CodeInvalidArgument, "malformed request body", err)))
				return
			}
		}
		if bind != nil {
			if err := bind(req, r, params); err != nil {
				writeError(w, apperr.ToGRPC(err))
				return
			}
		}

		ctx := metadata.NewIncomingContext(r.Context(), metadata.Pairs("authorization", r.Header.Get("Authorization")))
		info := &grpc.UnaryServerInfo{Server: s.service, FullMethod: FullMethod(rpc)}
		resp, err := s.unary(ctx, req, info, func(ctx context.Context, req any) (any, error) {
			return call(s.service, ctx, req.(*Req))
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// registerRoutes maps the REST surface onto the Ledger RPCs.
func (s *GRPCServer) registerRoutes() error {
	routes := []func() error{
		func() error {
			return route(s, "POST", "/v1/ledger/initialize", "Initialize", nil, LedgerServer.Initialize)
		},

		// Token
		func() error {
			return route(s, "GET", "/v1/token/metadata", "Metadata", nil, LedgerServer.Metadata)
		},
		func() error {
			return route(s, "GET", "/v1/token/balances/{address}", "Balance",
				func(req *BalanceRequest, r *http.Request, p map[string]string) error {
					req.Address = p["address"]
					req.Projected = r.URL.Query().Get("projected") == "true"
					return nil
				}, LedgerServer.Balance)
		},
		func() error {
			return route(s, "GET", "/v1/token/balances/{address}/history", "AccountHistory",
				func(req *AccountHistoryRequest, r *http.Request, p map[string]string) error {
					req.Address = p["address"]
					q := r.URL.Query()
					var err error
					if req.Limit, err = queryInt(q.Get("limit")); err != nil {
						return err
					}
					before, err := queryInt(q.Get("before"))
					req.BeforeSequence = int64(before)
					return err
				}, LedgerServer.AccountHistory)
		},
		func() error { return route(s, "POST", "/v1/token/mint", "Mint", nil, LedgerServer.Mint) },
		func() error { return route(s, "POST", "/v1/token/burn", "Burn", nil, LedgerServer.Burn) },
		func() error { return route(s, "POST", "/v1/token/transfer", "Transfer", nil, LedgerServer.Transfer) },
		func() error {
			return route(s, "POST", "/v1/token/rewards", "RewardNewPlayer", nil, LedgerServer.RewardNewPlayer)
		},

		// Collections
		func() error {
			return route(s, "GET", "/v1/collections", "ListCollections", nil, LedgerServer.ListCollections)
		},
		func() error {
			return route(s, "POST", "/v1/collections", "CreateCollection", nil, LedgerServer.CreateCollection)
		},
		func() error {
			return route(s, "GET", "/v1/collections/{collection}", "GetCollection",
				func(req *GetCollectionRequest, _ *http.Request, p map[string]string) error {
					req.Name = p["collection"]
					return nil
				}, LedgerServer.GetCollection)
		},
		func() error {
			return route(s, "GET", "/v1/collections/{collection}/pool", "GetPool",
				func(req *GetPoolRequest, _ *http.Request, p map[string]string) error {
					req.Collection = p["collection"]
					return nil
				}, LedgerServer.GetPool)
		},
		func() error {
			return route(s, "GET", "/v1/collections/{collection}/available", "AvailableCount",
				func(req *AvailableCountRequest, _ *http.Request, p map[string]string) error {
					req.Collection = p["collection"]
					return nil
				}, LedgerServer.AvailableCount)
		},
		func() error {
			return route(s, "POST", "/v1/collections/{collection}/allocate/secure", "AllocateSecure",
				bindAllocate, LedgerServer.AllocateSecure)
		},
		func() error {
			return route(s, "POST", "/v1/collections/{collection}/allocate/fallback", "AllocateFallback",
				bindAllocate, LedgerServer.AllocateFallback)
		},

		// Assets
		func() error {
			return route(s, "POST", "/v1/collections/{collection}/assets", "MintWithAttributes",
				func(req *MintWithAttributesRequest, _ *http.Request, p map[string]string) error {
					req.Collection = p["collection"]
					return nil
				}, LedgerServer.MintWithAttributes)
		},
		func() error {
			return route(s, "GET", "/v1/collections/{collection}/assets/{asset_id}/used", "IsUsed",
				bindAssetRef, LedgerServer.IsUsed)
		},
		func() error {
			return route(s, "GET", "/v1/collections/{collection}/assets/{asset_id}/attributes", "AttributesOf",
				bindAssetRef, LedgerServer.AttributesOf)
		},
		func() error {
			return route(s, "GET", "/v1/collections/{collection}/assets/{asset_id}/owner", "OwnerOf",
				bindAssetRef, LedgerServer.OwnerOf)
		},
		func() error {
			return route(s, "POST", "/v1/collections/{collection}/assets/{asset_id}/transfer", "TransferAsset",
				func(req *TransferAssetRequest, _ *http.Request, p map[string]string) error {
					req.Collection = p["collection"]
					var err error
					req.AssetID, err = pathAssetID(p)
					return err
				}, LedgerServer.TransferAsset)
		},
		func() error {
			return route(s, "DELETE", "/v1/collections/{collection}/assets/{asset_id}", "BurnAsset",
				func(req *BurnAssetRequest, _ *http.Request, p map[string]string) error {
					req.Collection = p["collection"]
					var err error
					req.AssetID, err = pathAssetID(p)
					return err
				}, LedgerServer.BurnAsset)
		},
		func() error {
			return route(s, "GET", "/v1/owners/{address}/assets", "ListAssets",
				func(req *ListAssetsRequest, r *http.Request, p map[string]string) error {
					q := r.URL.Query()
					req.Owner = p["address"]
					req.Collection = q.Get("collection")
					req.Cursor = q.Get("cursor")
					var err error
					req.Limit, err = queryInt(q.Get("limit"))
					return err
				}, LedgerServer.ListAssets)
		},

		// Admin
		func() error {
			return route(s, "GET", "/v1/admin/integrity", "VerifyIntegrity", nil, LedgerServer.VerifyIntegrity)
		},
	}

	for _, register := range routes {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

func bindAllocate(req *AllocateRequest, _ *http.Request, p map[string]string) error {
	req.Collection = p["collection"]
	return nil
}

func bindAssetRef(req *AssetRef, _ *http.Request, p map[string]string) error {
	req.Collection = p["collection"]
	var err error
	req.AssetID, err = pathAssetID(p)
	return err
}

func pathAssetID(p map[string]string) (uint64, error) {
	id, err := strconv.ParseUint(p["asset_id"], 10, 64)
	if err != nil {
		return 0, apperr.WithMetadata(apperr.CodeInvalidArgument, "asset_id must be an unsigned integer",
			map[string]string{"asset_id": p["asset_id"]})
	}
	return id, nil
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.WithMetadata(apperr.CodeInvalidArgument, "query parameter must be a non-negative integer",
			map[string]string{"value": v})
	}
	return n, nil
}

// errorBody is the JSON shape of REST errors.
type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeError renders a gRPC status error. Domain errors keep their code
// and HTTP mapping; anything else goes through the gateway's table.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	body := errorBody{Code: st.Code().String(), Message: st.Message()}
	httpStatus := runtime.HTTPStatusFromCode(st.Code())

	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == apperr.Domain {
			code := apperr.Code(info.GetReason())
			body.Code = string(code)
			body.Metadata = info.GetMetadata()
			httpStatus = code.HTTPStatus()
			break
		}
	}
	writeJSON(w, httpStatus, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
