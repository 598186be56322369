package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fieldflow/agreement"
	"fieldflow/auth"
	"fieldflow/client"
	"fieldflow/order"
	"fieldflow/renewal"
)

type stubClientRepo struct {
	client client.Client
	err    error
}

func (s *stubClientRepo) GetByID(_ context.Context, _, _ string) (client.Client, error) {
	return s.client, s.err
}

func (s *stubClientRepo) List(_ context.Context, _ string, _ int) ([]client.Client, error) {
	return nil, s.err
}

func (s *stubClientRepo) Create(_ context.Context, c client.Client) (client.Client, error) {
	return c, s.err
}

type stubAuth struct {
	claims    auth.Claims
	verifyErr error
	result    auth.LoginResult
	loginErr  error
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.result, s.loginErr
}

func (s *stubAuth) VerifyToken(token string) (auth.Claims, error) {
	if s.verifyErr != nil {
		return auth.Claims{}, s.verifyErr
	}
	if token != "good-token" {
		return auth.Claims{}, errors.New("bad token")
	}
	return s.claims, nil
}

type stubRenewals struct {
	summary renewal.Summary
	err     error
	got     renewal.RunOptions
	calls   int
}

func (s *stubRenewals) Run(_ context.Context, opts renewal.RunOptions) (renewal.Summary, error) {
	s.calls++
	s.got = opts
	return s.summary, s.err
}

type stubAgreements struct {
	items     []agreement.Agreement
	total     int
	listErr   error
	created   agreement.Agreement
	createErr error
	gotCreate agreement.CreateParams
	gotList   agreement.ListFilters
	getErr    error
}

func (s *stubAgreements) Create(_ context.Context, p agreement.CreateParams) (agreement.Agreement, error) {
	s.gotCreate = p
	return s.created, s.createErr
}

func (s *stubAgreements) List(_ context.Context, f agreement.ListFilters) ([]agreement.Agreement, int, error) {
	s.gotList = f
	return s.items, s.total, s.listErr
}

func (s *stubAgreements) Get(_ context.Context, _, id string) (agreement.Agreement, error) {
	if s.getErr != nil {
		return agreement.Agreement{}, s.getErr
	}
	for _, a := range s.items {
		if a.ID == id {
			return a, nil
		}
	}
	return agreement.Agreement{}, agreement.ErrAgreementNotFound
}

type stubStatus struct {
	result agreement.Agreement
	err    error
	got    agreement.TransitionParams
}

func (s *stubStatus) Transition(_ context.Context, p agreement.TransitionParams) (agreement.Agreement, error) {
	s.got = p
	return s.result, s.err
}

type stubOrders struct {
	items []order.Order
	err   error
	got   order.Filters
}

func (s *stubOrders) List(_ context.Context, f order.Filters) ([]order.Order, int, error) {
	s.got = f
	return s.items, len(s.items), s.err
}

func withCaller(req *http.Request, userID, tenantID string, role auth.Role) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyTenantID, tenantID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestHandleClient_Success(t *testing.T) {
	now := time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC)
	server := &Server{
		clientService: client.NewService(&stubClientRepo{
			client: client.Client{ID: "c1", TenantID: "t1", Name: "Harbor Dental", CreatedAt: now},
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/clients/c1", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleClient(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp clientResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "c1" || resp.Name != "Harbor Dental" {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleClient_NotFound(t *testing.T) {
	server := &Server{
		clientService: client.NewService(&stubClientRepo{err: client.ErrNotFound}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/clients/missing", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleClient(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleClient_WrongMethod(t *testing.T) {
	server := &Server{clientService: client.NewService(&stubClientRepo{})}

	req := httptest.NewRequest(http.MethodPost, "/api/clients/c1", nil)
	rec := httptest.NewRecorder()

	server.handleClient(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleClient_UnexpectedError(t *testing.T) {
	server := &Server{
		clientService: client.NewService(&stubClientRepo{err: errors.New("boom")}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/clients/c1", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleClient(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHandleRunRenewals_ScopesToCallerTenant(t *testing.T) {
	runner := &stubRenewals{summary: renewal.Summary{OK: true, Generated: 3, Message: "generated 3 service orders (skipped 0, conflicts 0, failed 0)"}}
	server := &Server{renewals: runner}

	req := httptest.NewRequest(http.MethodPost, "/api/renewals/run", nil)
	req = withCaller(req, "u1", "t1", auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleRunRenewals(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if runner.got.TenantID != "t1" {
		t.Fatalf("expected run scoped to t1, got %q", runner.got.TenantID)
	}

	var resp renewal.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || resp.Generated != 3 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
}

func TestHandleRunRenewals_ForbidTechnician(t *testing.T) {
	runner := &stubRenewals{}
	server := &Server{renewals: runner}

	req := httptest.NewRequest(http.MethodPost, "/api/renewals/run", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleRunRenewals(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if runner.calls != 0 {
		t.Fatalf("expected no run, got %d", runner.calls)
	}
}

func TestHandleRunRenewals_FailureReportsSummary(t *testing.T) {
	runner := &stubRenewals{
		summary: renewal.Summary{OK: false, Generated: 1, Message: "renewal: list due agreements: connection refused"},
		err:     errors.New("renewal: list due agreements: connection refused"),
	}
	server := &Server{renewals: runner}

	req := httptest.NewRequest(http.MethodPost, "/api/renewals/run", nil)
	req = withCaller(req, "u1", "t1", auth.RoleOwner)
	rec := httptest.NewRecorder()

	server.handleRunRenewals(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var resp renewal.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OK || resp.Message == "" || resp.Generated != 1 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
}

func TestHandleRunRenewals_WrongMethod(t *testing.T) {
	server := &Server{renewals: &stubRenewals{}}

	req := httptest.NewRequest(http.MethodGet, "/api/renewals/run", nil)
	rec := httptest.NewRecorder()

	server.handleRunRenewals(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleAgreements_List(t *testing.T) {
	due := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	agreements := &stubAgreements{
		items: []agreement.Agreement{{ID: "a1", ClientName: "Harbor Dental", Status: agreement.StatusActive, Frequency: agreement.FrequencyMonthly, NextDueDate: due}},
		total: 1,
	}
	server := &Server{agreementService: agreements}

	req := httptest.NewRequest(http.MethodGet, "/api/agreements?status=active&page=2", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if agreements.gotList.TenantID != "t1" || agreements.gotList.Status != agreement.StatusActive || agreements.gotList.Page != 2 {
		t.Fatalf("unexpected filters: %+v", agreements.gotList)
	}

	var payload struct {
		Items []agreementResponse `json:"items"`
		Total int                 `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || payload.Items[0].NextDueDate != due.Format(time.RFC3339) {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleAgreements_InvalidStatusFilter(t *testing.T) {
	server := &Server{agreementService: &stubAgreements{}}

	req := httptest.NewRequest(http.MethodGet, "/api/agreements?status=archived", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateAgreement_ValidationError(t *testing.T) {
	agreements := &stubAgreements{createErr: agreement.ErrInvalidFrequency}
	server := &Server{agreementService: agreements}

	body := strings.NewReader(`{"clientId":"c1","templateId":"o1","frequency":"weekly","firstDueDate":"2025-01-31"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements", body)
	req = withCaller(req, "u1", "t1", auth.RoleOwner)
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	want := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	if !agreements.gotCreate.FirstDueDate.Equal(want) || agreements.gotCreate.TenantID != "t1" {
		t.Fatalf("unexpected create params: %+v", agreements.gotCreate)
	}
}

func TestHandleCreateAgreement_BadDate(t *testing.T) {
	server := &Server{agreementService: &stubAgreements{}}

	body := strings.NewReader(`{"clientId":"c1","templateId":"o1","frequency":"monthly","firstDueDate":"next tuesday"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements", body)
	req = withCaller(req, "u1", "t1", auth.RoleOwner)
	rec := httptest.NewRecorder()

	server.handleAgreements(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAgreementStatus_InvalidTransition(t *testing.T) {
	status := &stubStatus{err: agreement.ErrInvalidTransition}
	server := &Server{statusService: status}

	body := strings.NewReader(`{"status":"active","reason":"reopen"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agreements/a1/status", body)
	req = withCaller(req, "u1", "t1", auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if status.got.AgreementID != "a1" || status.got.ActorID != "u1" || status.got.NextStatus != agreement.StatusActive {
		t.Fatalf("unexpected transition params: %+v", status.got)
	}
}

func TestHandleAgreementDetail_NotFound(t *testing.T) {
	server := &Server{agreementService: &stubAgreements{}}

	req := httptest.NewRequest(http.MethodGet, "/api/agreements/missing", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleAgreementDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleOrders_FiltersByAgreement(t *testing.T) {
	due := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	agreementID := "a1"
	orders := &stubOrders{items: []order.Order{{
		ID:                     "o2",
		ClientName:             "Harbor Dental",
		Status:                 order.StatusPending,
		DueDate:                &due,
		GeneratedByAgreementID: &agreementID,
	}}}
	server := &Server{orderService: orders}

	req := httptest.NewRequest(http.MethodGet, "/api/orders?agreementId=a1&templates=false", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleOrders(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if orders.got.AgreementID != "a1" || orders.got.TenantID != "t1" || orders.got.Templates == nil || *orders.got.Templates {
		t.Fatalf("unexpected filters: %+v", orders.got)
	}

	var payload struct {
		Items []orderResponse `json:"items"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].DueDate == nil || *payload.Items[0].DueDate != due.Format(time.RFC3339) {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	server := &Server{authService: &stubAuth{loginErr: auth.ErrInvalidCredentials}}

	body := strings.NewReader(`{"email":"tech@example.com","password":"wrong-password"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	rec := httptest.NewRecorder()

	server.handleLogin(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	runner := &stubRenewals{summary: renewal.Summary{OK: true}}
	server := &Server{
		authService: &stubAuth{claims: auth.Claims{UserID: "u1", TenantID: "t1", Role: auth.RoleOwner}},
		renewals:    runner,
	}
	handler := server.Routes()

	req := httptest.NewRequest(http.MethodPost, "/api/renewals/run", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/renewals/run", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/renewals/run", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if runner.got.TenantID != "t1" {
		t.Fatalf("expected tenant from token, got %q", runner.got.TenantID)
	}
}

func TestRoutes_HealthIsPublic(t *testing.T) {
	server := &Server{authService: &stubAuth{}}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleClient_MalformedIDIsNotFound(t *testing.T) {
	server := &Server{clientService: client.NewService(client.NewRepository(nil))}

	req := httptest.NewRequest(http.MethodGet, "/api/clients/not-a-uuid", nil)
	req = withCaller(req, "u1", "t1", auth.RoleTechnician)
	rec := httptest.NewRecorder()

	server.handleClient(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
