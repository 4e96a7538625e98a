package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"AegisVault/internal/core"
	"AegisVault/internal/ingestion"
	"AegisVault/internal/observability"
	"AegisVault/internal/query"
)

// Querier is the read side served by VaultService.
type Querier interface {
	GetBalance(ctx context.Context, account, token common.Address) (*query.BalanceResponse, error)
	GetCooldown(ctx context.Context, account common.Address) (*query.CooldownResponse, error)
	GetVaultSummary(ctx context.Context) (*query.VaultSummary, error)
	GetCooldownHistory(ctx context.Context, account common.Address, limit int, beforeSequence *int64) ([]query.CooldownHistoryEntry, error)
	GetJournalHistory(ctx context.Context, account common.Address, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Submitter hands a call to the core and waits for the outcome.
type Submitter interface {
	Submit(ctx context.Context, callName string, payload []byte) (core.Result, error)
}

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	grpcAddr      string
	httpAddr      string
	vault         VaultServiceServer
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	Query         Querier
	Ingest        Submitter
	Snapshot      func(ctx context.Context) (int64, error)
	Rebuild       func(ctx context.Context) error
	LastSequence  func(ctx context.Context) (int64, error)
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(metricsInterceptor(deps.Metrics)))

	vault := NewVaultService(deps.Query, deps.Ingest)
	RegisterVaultServiceServer(grpcServer, vault)
	RegisterAdminServiceServer(grpcServer, &adminServiceImpl{
		q:            deps.Query,
		snapshot:     deps.Snapshot,
		rebuild:      deps.Rebuild,
		lastSequence: deps.LastSequence,
	})

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		vault:         vault,
		healthChecker: deps.HealthChecker,
		logger:        deps.Logger,
	}
}

// SetServing flips the gRPC health status once the core has recovered.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(vaultServiceName, st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking). Routes call the
// service implementation in-process.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := NewHTTPHandler(s.vault, s.healthChecker)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func metricsInterceptor(m *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if m == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		m.QueryRequests.WithLabelValues(info.FullMethod).Inc()
		m.QueryDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		if err != nil {
			m.QueryErrors.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		}
		return resp, err
	}
}

// ============================================================================
// VaultService implementation
// ============================================================================

type vaultServiceImpl struct {
	q      Querier
	ingest Submitter
}

// NewVaultService serves q and ingest as a VaultServiceServer.
func NewVaultService(q Querier, ingest Submitter) VaultServiceServer {
	return &vaultServiceImpl{q: q, ingest: ingest}
}

func (s *vaultServiceImpl) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return nil, err
	}

	bal, err := s.q.GetBalance(ctx, account, token)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get balance: %v", err)
	}
	return bal, nil
}

func (s *vaultServiceImpl) GetCooldown(ctx context.Context, req *GetCooldownRequest) (*query.CooldownResponse, error) {
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}

	cd, err := s.q.GetCooldown(ctx, account)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get cooldown: %v", err)
	}
	return cd, nil
}

func (s *vaultServiceImpl) GetVaultSummary(ctx context.Context, _ *GetVaultSummaryRequest) (*query.VaultSummary, error) {
	sum, err := s.q.GetVaultSummary(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get vault summary: %v", err)
	}
	return sum, nil
}

func (s *vaultServiceImpl) ListCooldownHistory(ctx context.Context, req *ListCooldownHistoryRequest) (*ListCooldownHistoryResponse, error) {
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}

	entries, err := s.q.GetCooldownHistory(ctx, account, pageSize, before)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get cooldown history: %v", err)
	}
	return &ListCooldownHistoryResponse{Entries: entries}, nil
}

func (s *vaultServiceImpl) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	account, err := parseAddress("account", req.Account)
	if err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	var before *int64
	if req.BeforeSequence > 0 {
		before = &req.BeforeSequence
	}

	entries, err := s.q.GetJournalHistory(ctx, account, pageSize, before)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get journals: %v", err)
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *vaultServiceImpl) SubmitCall(ctx context.Context, req *SubmitCallRequest) (*SubmitCallResponse, error) {
	if req.Call == "" {
		return nil, status.Error(codes.InvalidArgument, "call is required")
	}

	res, err := s.ingest.Submit(ctx, req.Call, req.Payload)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}

	var callErr *core.CallError
	switch {
	case res.Err == nil && !res.Sequenced:
		return &SubmitCallResponse{Status: "duplicate"}, nil
	case res.Err == nil:
		return &SubmitCallResponse{Status: "applied", Sequence: res.Sequence}, nil
	case errors.As(res.Err, &callErr):
		return &SubmitCallResponse{Status: "reverted", Sequence: callErr.Sequence, Error: callErr.Err.Error()}, nil
	case errors.Is(res.Err, core.ErrDedupUnavailable):
		return nil, status.Errorf(codes.Unavailable, "%v", res.Err)
	default:
		return nil, status.Errorf(codes.FailedPrecondition, "%v", res.Err)
	}
}

// ============================================================================
// AdminService implementation
// ============================================================================

type adminServiceImpl struct {
	q            Querier
	snapshot     func(ctx context.Context) (int64, error)
	rebuild      func(ctx context.Context) error
	lastSequence func(ctx context.Context) (int64, error)
}

func (s *adminServiceImpl) TakeSnapshot(ctx context.Context, _ *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	if s.snapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots disabled")
	}
	seq, err := s.snapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *adminServiceImpl) RebuildProjections(ctx context.Context, _ *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error) {
	if s.rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "rebuild disabled")
	}
	if err := s.rebuild(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{Rebuilt: true}, nil
}

func (s *adminServiceImpl) GetEventLogInfo(ctx context.Context, _ *GetEventLogInfoRequest) (*GetEventLogInfoResponse, error) {
	if s.lastSequence == nil {
		return nil, status.Error(codes.Unimplemented, "event log unavailable")
	}
	seq, err := s.lastSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	return &GetEventLogInfoResponse{LastSequence: seq}, nil
}

func (s *adminServiceImpl) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.q.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "invalid %s: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

var _ Submitter = (*ingestion.GRPCIngestService)(nil)
