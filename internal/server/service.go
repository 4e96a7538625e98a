package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"AegisVault/internal/query"
)

// ============================================================================
// Messages
// ============================================================================

type GetBalanceRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
}

type GetCooldownRequest struct {
	Account string `json:"account"`
}

type GetVaultSummaryRequest struct{}

type ListCooldownHistoryRequest struct {
	Account        string `json:"account"`
	PageSize       int    `json:"page_size"`
	BeforeSequence int64  `json:"before_sequence"`
}

type ListCooldownHistoryResponse struct {
	Entries []query.CooldownHistoryEntry `json:"entries"`
}

type ListJournalsRequest struct {
	Account        string `json:"account"`
	PageSize       int    `json:"page_size"`
	BeforeSequence int64  `json:"before_sequence"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// SubmitCallRequest carries one call in its wire format. Call is the
// snake_case or CamelCase call name.
type SubmitCallRequest struct {
	Call    string          `json:"call"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitCallResponse reports what the core did with the call. Status is
// "applied", "reverted" or "duplicate".
type SubmitCallResponse struct {
	Status   string `json:"status"`
	Sequence int64  `json:"sequence,omitempty"`
	Error    string `json:"error,omitempty"`
}

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildProjectionsRequest struct{}

type RebuildProjectionsResponse struct {
	Rebuilt bool `json:"rebuilt"`
}

type GetEventLogInfoRequest struct{}

type GetEventLogInfoResponse struct {
	LastSequence int64 `json:"last_sequence"`
}

type VerifyIntegrityRequest struct{}

// ============================================================================
// Service descriptors
// ============================================================================

// VaultServiceServer is the public read and submit API.
type VaultServiceServer interface {
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
	GetCooldown(context.Context, *GetCooldownRequest) (*query.CooldownResponse, error)
	GetVaultSummary(context.Context, *GetVaultSummaryRequest) (*query.VaultSummary, error)
	ListCooldownHistory(context.Context, *ListCooldownHistoryRequest) (*ListCooldownHistoryResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
	SubmitCall(context.Context, *SubmitCallRequest) (*SubmitCallResponse, error)
}

// AdminServiceServer is the operator API.
type AdminServiceServer interface {
	TakeSnapshot(context.Context, *TakeSnapshotRequest) (*TakeSnapshotResponse, error)
	RebuildProjections(context.Context, *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error)
	GetEventLogInfo(context.Context, *GetEventLogInfoRequest) (*GetEventLogInfoResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
}

const (
	vaultServiceName = "aegisvault.v1.VaultService"
	adminServiceName = "aegisvault.v1.AdminService"
)

// unary builds a method descriptor for a handler on server type S.
func unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var vaultServiceDesc = grpc.ServiceDesc{
	ServiceName: vaultServiceName,
	HandlerType: (*VaultServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(vaultServiceName, "GetBalance", VaultServiceServer.GetBalance),
		unary(vaultServiceName, "GetCooldown", VaultServiceServer.GetCooldown),
		unary(vaultServiceName, "GetVaultSummary", VaultServiceServer.GetVaultSummary),
		unary(vaultServiceName, "ListCooldownHistory", VaultServiceServer.ListCooldownHistory),
		unary(vaultServiceName, "ListJournals", VaultServiceServer.ListJournals),
		unary(vaultServiceName, "SubmitCall", VaultServiceServer.SubmitCall),
	},
	Metadata: "aegisvault/v1/vault.proto",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(adminServiceName, "TakeSnapshot", AdminServiceServer.TakeSnapshot),
		unary(adminServiceName, "RebuildProjections", AdminServiceServer.RebuildProjections),
		unary(adminServiceName, "GetEventLogInfo", AdminServiceServer.GetEventLogInfo),
		unary(adminServiceName, "VerifyIntegrity", AdminServiceServer.VerifyIntegrity),
	},
	Metadata: "aegisvault/v1/admin.proto",
}

// RegisterVaultServiceServer registers srv on s.
func RegisterVaultServiceServer(s grpc.ServiceRegistrar, srv VaultServiceServer) {
	s.RegisterService(&vaultServiceDesc, srv)
}

// RegisterAdminServiceServer registers srv on s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&adminServiceDesc, srv)
}
