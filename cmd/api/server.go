package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"fieldflow/agreement"
	"fieldflow/auth"
	"fieldflow/client"
	"fieldflow/logging"
	"fieldflow/order"
	"fieldflow/renewal"
)

type ctxKey string

const (
	ctxKeyUserID   ctxKey = "user_id"
	ctxKeyTenantID ctxKey = "tenant_id"
	ctxKeyRole     ctxKey = "role"
)

type authService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Claims, error)
}

type renewalRunner interface {
	Run(ctx context.Context, opts renewal.RunOptions) (renewal.Summary, error)
}

type agreementService interface {
	Create(ctx context.Context, params agreement.CreateParams) (agreement.Agreement, error)
	List(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error)
	Get(ctx context.Context, tenantID, id string) (agreement.Agreement, error)
}

type statusService interface {
	Transition(ctx context.Context, params agreement.TransitionParams) (agreement.Agreement, error)
}

type orderLister interface {
	List(ctx context.Context, filters order.Filters) ([]order.Order, int, error)
}

// Server exposes the HTTP surface over the domain services.
type Server struct {
	authService      authService
	renewals         renewalRunner
	agreementService agreementService
	statusService    statusService
	orderService     orderLister
	clientService    *client.Service
	logger           *zap.Logger
}

func (s *Server) log() *zap.Logger {
	return logging.OrNop(s.logger)
}

// Routes builds the request multiplexer. Everything under /api/ except login
// requires a bearer token.
func (s *Server) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/renewals/run", s.handleRunRenewals)
	api.HandleFunc("/api/agreements", s.handleAgreements)
	api.HandleFunc("/api/agreements/", s.handleAgreementDetail)
	api.HandleFunc("/api/orders", s.handleOrders)
	api.HandleFunc("/api/clients/", s.handleClient)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.Handle("/api/", s.requireAuth(api))
	return s.accessLog(mux)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxKeyTenantID, claims.TenantID)
		ctx = context.WithValue(ctx, ctxKeyRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func userIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func tenantIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTenantID).(string)
	return v
}

func roleFrom(ctx context.Context) auth.Role {
	v, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
