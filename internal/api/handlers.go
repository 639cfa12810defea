package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xtrntr/parimutuel/internal/auth"
	"github.com/xtrntr/parimutuel/internal/coordinator"
	"github.com/xtrntr/parimutuel/internal/exchange"
	"github.com/xtrntr/parimutuel/internal/models"
)

const defaultActivityLimit = 100

// ActivityReader reads the persisted activity journal
type ActivityReader interface {
	GetEventActivity(ctx context.Context, id models.EventID, limit int) ([]models.Activity, error)
}

// Options configures optional handler behaviour
type Options struct {
	InitialBalance int64          // minted to every newly registered bettor
	Journal        ActivityReader // nil disables the activity endpoint
	Logger         *zap.Logger
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange       *exchange.Exchange
	AuthService    *auth.AuthService
	journal        ActivityReader
	initialBalance int64
	log            *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Exchange:       ex,
		AuthService:    authService,
		journal:        opts.Journal,
		initialBalance: opts.InitialBalance,
		log:            log,
	}
}

// Routes mounts every endpoint on a new router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.RequestLogger)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Get("/events", h.ListEvents)
		r.Get("/events/active", h.ActiveEvents)
		r.Get("/events/count", h.EventCount)
		r.Get("/events/{id}", h.GetEvent)
		r.Get("/events/{id}/pool", h.GetPools)
		r.Get("/events/{id}/position", h.GetPosition)
		r.Get("/events/{id}/bets", h.GetBets)
		if h.journal != nil {
			r.Get("/events/{id}/activity", h.GetActivity)
		}
		r.Post("/events/{id}/bets", h.PlaceBet)
		r.Get("/wallet", h.GetWallet)
		r.Post("/wallet/approve", h.Approve)

		r.Group(func(r chi.Router) {
			r.Use(h.OwnerOnly)
			r.Post("/events", h.CreateEvent)
			r.Post("/events/{id}/open", h.transition(h.Exchange.OpenEvent, "opened"))
			r.Post("/events/{id}/close", h.transition(h.Exchange.CloseEvent, "closed"))
			r.Post("/events/{id}/cancel", h.transition(h.Exchange.CancelEvent, "cancelled"))
			r.Post("/events/{id}/settle", h.SettleEvent)
			r.Post("/admin/mint", h.Mint)
			r.Put("/admin/treasury", h.SetTreasury)
		})
	})
	return r
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.initialBalance > 0 {
		if err := h.Exchange.Mint(r.Context(), h.Exchange.Owner(), user.Identity(), h.initialBalance); err != nil {
			h.log.Error("initial balance not credited", zap.String("username", user.Username), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListEvents returns a page of events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Exchange.Events(offset, limit))
}

// ActiveEvents returns created and open events
func (h *Handler) ActiveEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.ActiveEvents())
}

// EventCount returns the number of events
func (h *Handler) EventCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.Exchange.EventCount()})
}

// GetEvent returns one event
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	ev, err := h.Exchange.GetEvent(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GetPools returns both sides' pool aggregates
func (h *Handler) GetPools(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	pools, err := h.Exchange.Pools(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pools)
}

// GetPosition returns the caller's stakes on the event
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	pos, err := h.Exchange.Positions(id, identityFrom(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetBets returns one side's bet list, side taken from ?side=
func (h *Handler) GetBets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	bets, err := h.Exchange.Bets(id, models.Side(r.URL.Query().Get("side")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetActivity returns the journal of an event
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultActivityLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if limit <= 0 || limit > defaultActivityLimit {
		limit = defaultActivityLimit
	}
	activity, err := h.journal.GetEventActivity(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

// PlaceBet deposits a stake on one side of an event
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	var req betRequest
	if !decode(w, r, &req) {
		return
	}

	bet, err := h.Exchange.PlaceBet(r.Context(), identityFrom(r.Context()), id, models.Side(req.Side), req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// GetWallet returns the caller's balance and allowances
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.Wallet(identityFrom(r.Context())))
}

// Approve sets the caller's allowance for one side's vault
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decode(w, r, &req) {
		return
	}
	caller := identityFrom(r.Context())
	if err := h.Exchange.Approve(r.Context(), caller, models.Side(req.Side), req.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Exchange.Wallet(caller))
}

// CreateEvent registers a new event
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !decode(w, r, &req) {
		return
	}

	ev, err := h.Exchange.CreateEvent(r.Context(), identityFrom(r.Context()), coordinator.CreateEventInput{
		Name:           req.Name,
		LabelA:         req.LabelA,
		LabelB:         req.LabelB,
		Odds:           models.Odds{A: req.OddsA, B: req.OddsB},
		OpenTime:       req.OpenTime,
		CloseTime:      req.CloseTime,
		SettlementTime: req.SettlementTime,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// transition adapts a lifecycle call without a body to a handler
func (h *Handler) transition(fn func(context.Context, models.Identity, models.EventID) error, status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.eventID(w, r)
		if !ok {
			return
		}
		if err := fn(r.Context(), identityFrom(r.Context()), id); err != nil {
			h.writeError(w, err)
			return
		}
		h.respondEvent(w, id, status)
	}
}

// SettleEvent declares the winning side
func (h *Handler) SettleEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Exchange.SettleEvent(r.Context(), identityFrom(r.Context()), id, models.Side(req.Winner)); err != nil {
		h.writeError(w, err)
		return
	}
	h.respondEvent(w, id, "settled")
}

// Mint credits units to a bettor
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}
	to := models.Identity(req.Username)
	if err := h.Exchange.Mint(r.Context(), identityFrom(r.Context()), to, req.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Exchange.Wallet(to))
}

// SetTreasury changes the fee recipient and optionally the fee
func (h *Handler) SetTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if !decode(w, r, &req) {
		return
	}
	caller := identityFrom(r.Context())
	if err := h.Exchange.SetTreasury(caller, models.Identity(req.Treasury)); err != nil {
		h.writeError(w, err)
		return
	}
	if req.FeePercent != nil {
		if err := h.Exchange.SetFeePercent(caller, *req.FeePercent); err != nil {
			h.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"treasury": string(h.Exchange.Treasury())})
}

func (h *Handler) respondEvent(w http.ResponseWriter, id models.EventID, status string) {
	ev, err := h.Exchange.GetEvent(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("event "+status, zap.Uint64("event_id", uint64(id)))
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (models.EventID, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid event ID"))
		return 0, false
	}
	return models.EventID(id), true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(models.ErrValidation, "%s must be a non-negative integer", key)
	}
	return n, nil
}

type validatable interface {
	Validate() error
}

// decode reads a JSON body and validates it, writing a 400 on failure
func decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request body"))
		return false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}
