// Package api exposes the group ledger over JSON HTTP. The caller's member
// id comes from the gateway headers and is passed explicitly to every
// ledger call.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/billbatista/acasinha-ledger/eventlogger"
	"github.com/billbatista/acasinha-ledger/ledger"
	"github.com/billbatista/acasinha-ledger/middleware"
	"github.com/billbatista/acasinha-ledger/money"
	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

// EventHistory reads back the events recorded for a group.
type EventHistory interface {
	GetByGroup(ctx context.Context, groupCode string, limit int) ([]eventlogger.Event, error)
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type Handler struct {
	svc     *ledger.Service
	history EventHistory
}

// NewRouter wires the ledger routes. history and metrics may be nil; without
// history the events route is not served.
func NewRouter(svc *ledger.Service, history EventHistory, metrics http.Handler) http.Handler {
	h := &Handler{svc: svc, history: history}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.MemberIdentity)
	router.Use(eventMetadata)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		router.Handle("/metrics", metrics)
	}

	router.Route("/groups", func(r chi.Router) {
		r.Use(middleware.RequireMember)

		r.Post("/", h.createGroup)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", h.getGroup)
			r.Post("/members", h.joinGroup)
			r.Post("/purchases", h.addPurchase)
			r.Delete("/purchases/{id}", h.removePurchase)
			r.Post("/payments", h.settlePayment)
			r.Get("/payments", h.listPayments)
			r.Get("/debts", h.debts)
			r.Get("/overview", h.overview)
			r.Post("/rebuild", h.rebuild)
			if history != nil {
				r.Get("/events", h.events)
			}
		})
	})

	return router
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetMemberID(r.Context())

	var req createGroupRequest
	if !decode(w, r, &req) {
		return
	}

	g, err := h.svc.CreateGroup(r.Context(), req.Code, req.Name, caller, middleware.GetMemberName(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) joinGroup(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetMemberID(r.Context())
	code := chi.URLParam(r, "code")

	req := joinGroupRequest{Name: middleware.GetMemberName(r.Context())}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}

	g, err := h.svc.JoinGroup(r.Context(), code, caller, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := h.memberGroup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) addPurchase(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetMemberID(r.Context())
	code := chi.URLParam(r, "code")

	var req purchaseRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.svc.AddPurchase(r.Context(), code, ledger.PurchaseInput{
		Purchaser:   caller,
		Cost:        req.Cost,
		Description: req.Description,
		Splits:      req.Splits,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) removePurchase(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetMemberID(r.Context())
	code := chi.URLParam(r, "code")

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: ErrInvalidInput, Message: "purchase id must be a number"})
		return
	}

	p, err := h.svc.RemovePurchase(r.Context(), code, caller, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) settlePayment(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetMemberID(r.Context())
	code := chi.URLParam(r, "code")

	var req settleRequest
	if !decode(w, r, &req) {
		return
	}

	pay, err := h.svc.SettlePayment(r.Context(), code, caller, req.Receiver, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pay)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetMemberID(r.Context())

	payments, err := h.svc.Payments(r.Context(), chi.URLParam(r, "code"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) debts(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetMemberID(r.Context())

	debts, err := h.svc.Debts(r.Context(), chi.URLParam(r, "code"), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, debtRows(debts))
}

// rebuild recomputes the balances from the purchases and payments.
func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	g, ok := h.memberGroup(w, r)
	if !ok {
		return
	}

	drifted, err := h.svc.Rebuild(r.Context(), g.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"drifted": drifted})
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	g, ok := h.memberGroup(w, r)
	if !ok {
		return
	}

	type memberBlock struct {
		Member string         `json:"member"`
		Name   string         `json:"name"`
		Debts  []debtResponse `json:"debts"`
	}
	out := []memberBlock{}
	for _, block := range ledger.Overview(g) {
		out = append(out, memberBlock{
			Member: block.Member,
			Name:   block.Name,
			Debts:  debtRows(block.Debts),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	g, ok := h.memberGroup(w, r)
	if !ok {
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, apiError{Code: ErrInvalidInput, Message: "limit must be a positive number"})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.history.GetByGroup(r.Context(), g.Code, limit)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", ledger.ErrStoreUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func debtRows(debts []ledger.Debt) []debtResponse {
	rows := make([]debtResponse, 0, len(debts))
	for _, d := range debts {
		rows = append(rows, debtResponse{
			Member:  d.Member,
			Name:    d.Name,
			Amount:  d.Amount,
			Display: money.Format(d.Amount),
		})
	}
	return rows
}

// memberGroup loads the group for a member of it.
func (h *Handler) memberGroup(w http.ResponseWriter, r *http.Request) (*ledger.GroupLedger, bool) {
	caller, _ := middleware.GetMemberID(r.Context())

	g, err := h.svc.MemberGroup(r.Context(), chi.URLParam(r, "code"), caller)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return g, true
}

// eventMetadata tags the events a request causes with its request id and
// caller.
func eventMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := middleware.GetMemberID(r.Context())
		ctx := eventlogger.ContextWithMetadata(r.Context(), map[string]string{
			"request_id": chimiddleware.GetReqID(r.Context()),
			"member_id":  caller,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type validatable interface {
	Validate() error
}

func decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: ErrInvalidInput, Message: "invalid JSON body"})
		return false
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
