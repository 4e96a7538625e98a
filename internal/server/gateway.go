package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"AegisVault/internal/observability"
)

const maxCallBody = 1 << 20

// NewHTTPHandler routes the HTTP/JSON API onto vault and mounts the health
// endpoints. Errors carry the gRPC code mapped to an HTTP status.
func NewHTTPHandler(vault VaultServiceServer, hc *observability.HealthChecker) (http.Handler, error) {
	gw := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{"GET", "/v1/accounts/{account}/balances/{token}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := vault.GetBalance(r.Context(), &GetBalanceRequest{Account: p["account"], Token: p["token"]})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/cooldown", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := vault.GetCooldown(r.Context(), &GetCooldownRequest{Account: p["account"]})
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/cooldown/history", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req := &ListCooldownHistoryRequest{Account: p["account"]}
			if err := pageParams(r, &req.PageSize, &req.BeforeSequence); err != nil {
				writeResult(w, nil, err)
				return
			}
			resp, err := vault.ListCooldownHistory(r.Context(), req)
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/accounts/{account}/journals", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req := &ListJournalsRequest{Account: p["account"]}
			if err := pageParams(r, &req.PageSize, &req.BeforeSequence); err != nil {
				writeResult(w, nil, err)
				return
			}
			resp, err := vault.ListJournals(r.Context(), req)
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/vault", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := vault.GetVaultSummary(r.Context(), &GetVaultSummaryRequest{})
			writeResult(w, resp, err)
		}},
		{"POST", "/v1/calls/{call}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBody))
			if err != nil {
				writeResult(w, nil, status.Errorf(codes.InvalidArgument, "read body: %v", err))
				return
			}
			resp, err := vault.SubmitCall(r.Context(), &SubmitCallRequest{Call: p["call"], Payload: body})
			writeResult(w, resp, err)
		}},
	}
	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	mux := http.NewServeMux()
	if hc != nil {
		mux.HandleFunc("/healthz", hc.LivenessHandler)
		mux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"ok"}`)
		})
	}
	mux.Handle("/", gw)
	return mux, nil
}

func pageParams(r *http.Request, pageSize *int, before *int64) error {
	q := r.URL.Query()
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid page_size: %q", v)
		}
		*pageSize = n
	}
	if v := q.Get("before_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid before_sequence: %q", v)
		}
		*before = n
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeResult(w http.ResponseWriter, resp interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		st := status.Convert(err)
		w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
		json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
