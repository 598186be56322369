package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fieldflow/agreement"
	"fieldflow/auth"
	"fieldflow/client"
	"fieldflow/order"
	"fieldflow/renewal"
)

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type agreementResponse struct {
	ID              string  `json:"id"`
	ClientID        string  `json:"clientId"`
	ClientName      string  `json:"clientName"`
	Status          string  `json:"status"`
	Frequency       string  `json:"frequency"`
	NextDueDate     string  `json:"nextDueDate"`
	TemplateID      string  `json:"templateId"`
	LastGeneratedAt *string `json:"lastGeneratedAt,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

type orderResponse struct {
	ID                     string         `json:"id"`
	ClientID               string         `json:"clientId"`
	ClientName             string         `json:"clientName"`
	Status                 string         `json:"status"`
	IsTemplate             bool           `json:"isTemplate"`
	TemplateName           string         `json:"templateName,omitempty"`
	DueDate                *string        `json:"dueDate,omitempty"`
	GeneratedByAgreementID *string        `json:"generatedByAgreementId,omitempty"`
	Body                   map[string]any `json:"body,omitempty"`
	CreatedAt              string         `json:"createdAt"`
}

type clientResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type createAgreementRequest struct {
	ClientID     string `json:"clientId"`
	TemplateID   string `json:"templateId"`
	Frequency    string `json:"frequency"`
	FirstDueDate string `json:"firstDueDate"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.log().Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User: userResponse{
			ID:       result.User.ID,
			TenantID: result.User.TenantID,
			Email:    result.User.Email,
			FullName: result.User.FullName,
			Role:     string(result.User.Role),
		},
	})
}

// handleRunRenewals triggers a renewal pass scoped to the caller's tenant.
func (s *Server) handleRunRenewals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !roleFrom(r.Context()).CanRunRenewals() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	tenantID := tenantIDFrom(r.Context())
	if tenantID == "" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	summary, err := s.renewals.Run(r.Context(), renewal.RunOptions{TenantID: tenantID})
	if err != nil {
		s.log().Error("renewal run failed",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userIDFrom(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, summary)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAgreements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAgreements(w, r)
	case http.MethodPost:
		s.createAgreement(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) listAgreements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := agreement.ListFilters{
		TenantID: tenantIDFrom(r.Context()),
		Status:   agreement.Status(q.Get("status")),
		Page:     atoiDefault(q.Get("page"), 1),
		PageSize: atoiDefault(q.Get("pageSize"), 20),
	}

	if filters.Status != "" && !filters.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	items, total, err := s.agreementService.List(r.Context(), filters)
	if err != nil {
		s.log().Error("list agreements", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]agreementResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAgreementResponse(a))
	}
	writeJSON(w, http.StatusOK, listResponse[agreementResponse]{Items: out, Total: total})
}

func (s *Server) createAgreement(w http.ResponseWriter, r *http.Request) {
	if !roleFrom(r.Context()).CanRunRenewals() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req createAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	firstDue, err := parseDate(req.FirstDueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "firstDueDate must be YYYY-MM-DD or RFC3339")
		return
	}

	rec, err := s.agreementService.Create(r.Context(), agreement.CreateParams{
		TenantID:     tenantIDFrom(r.Context()),
		ClientID:     req.ClientID,
		TemplateID:   req.TemplateID,
		Frequency:    agreement.Frequency(req.Frequency),
		FirstDueDate: firstDue,
	})
	if err != nil {
		switch {
		case errors.Is(err, agreement.ErrClientRequired),
			errors.Is(err, agreement.ErrTemplateRequired),
			errors.Is(err, agreement.ErrInvalidFrequency),
			errors.Is(err, agreement.ErrDueDateRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, client.ErrNotFound):
			writeError(w, http.StatusNotFound, "client not found")
		default:
			s.log().Error("create agreement", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementResponse(rec))
}

// handleAgreementDetail serves /api/agreements/{id} and
// /api/agreements/{id}/status.
func (s *Server) handleAgreementDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agreements/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getAgreement(w, r, id)
	case action == "status" && r.Method == http.MethodPost:
		s.transitionAgreement(w, r, id)
	case action == "" || action == "status":
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) getAgreement(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.agreementService.Get(r.Context(), tenantIDFrom(r.Context()), id)
	if err != nil {
		if errors.Is(err, agreement.ErrAgreementNotFound) {
			writeError(w, http.StatusNotFound, "agreement not found")
			return
		}
		s.log().Error("get agreement", zap.String("agreement_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) transitionAgreement(w http.ResponseWriter, r *http.Request, id string) {
	if !roleFrom(r.Context()).CanRunRenewals() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.statusService.Transition(r.Context(), agreement.TransitionParams{
		TenantID:    tenantIDFrom(r.Context()),
		AgreementID: id,
		ActorID:     userIDFrom(r.Context()),
		NextStatus:  agreement.Status(req.Status),
		Reason:      req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, agreement.ErrAgreementNotFound):
			writeError(w, http.StatusNotFound, "agreement not found")
		case errors.Is(err, agreement.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.log().Error("transition agreement", zap.String("agreement_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(rec))
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	filters := order.Filters{
		TenantID:    tenantIDFrom(r.Context()),
		AgreementID: q.Get("agreementId"),
		Status:      order.Status(q.Get("status")),
		Page:        atoiDefault(q.Get("page"), 1),
		PageSize:    atoiDefault(q.Get("pageSize"), 20),
		SortKey:     q.Get("sortKey"),
		SortOrder:   q.Get("sortOrder"),
	}
	if v := q.Get("templates"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "templates must be a boolean")
			return
		}
		filters.Templates = &b
	}

	items, total, err := s.orderService.List(r.Context(), filters)
	if err != nil {
		s.log().Error("list orders", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]orderResponse, 0, len(items))
	for _, o := range items {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, listResponse[orderResponse]{Items: out, Total: total})
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/clients/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	c, err := s.clientService.GetByID(r.Context(), tenantIDFrom(r.Context()), id)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			writeError(w, http.StatusNotFound, "client not found")
			return
		}
		s.log().Error("get client", zap.String("client_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, clientResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func toAgreementResponse(a agreement.Agreement) agreementResponse {
	resp := agreementResponse{
		ID:          a.ID,
		ClientID:    a.ClientID,
		ClientName:  a.ClientName,
		Status:      string(a.Status),
		Frequency:   string(a.Frequency),
		NextDueDate: a.NextDueDate.UTC().Format(time.RFC3339),
		TemplateID:  a.TemplateID,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.LastGeneratedAt != nil {
		v := a.LastGeneratedAt.UTC().Format(time.RFC3339)
		resp.LastGeneratedAt = &v
	}
	return resp
}

func toOrderResponse(o order.Order) orderResponse {
	resp := orderResponse{
		ID:                     o.ID,
		ClientID:               o.ClientID,
		ClientName:             o.ClientName,
		Status:                 string(o.Status),
		IsTemplate:             o.IsTemplate,
		TemplateName:           o.TemplateName,
		GeneratedByAgreementID: o.GeneratedByAgreementID,
		Body:                   o.Body,
		CreatedAt:              o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if o.DueDate != nil {
		v := o.DueDate.UTC().Format(time.RFC3339)
		resp.DueDate = &v
	}
	return resp
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func atoiDefault(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
