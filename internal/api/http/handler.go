package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"upkeep-dispatcher/internal/domain"
	"upkeep-dispatcher/internal/events"
	"upkeep-dispatcher/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// MaxBodyBytes caps request bodies. A full /targets batch of long URLs fits well below it.
const MaxBodyBytes = 1 << 20

// Handler serves the admin, driver and history endpoints of the dispatcher.
type Handler struct {
	service  *usecase.UpkeepService
	recorder *events.Recorder
	logger   *slog.Logger
	validate *validator.Validate
	limiter  *rateLimiter
	tracer   trace.Tracer
}

type Option func(*Handler)

// WithRateLimit limits the driver endpoints per caller identity.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(h *Handler) { h.limiter = newRateLimiter(cfg) }
}

// NewHandler creates a Handler. recorder may be nil, in which case /events
// always returns an empty list.
func NewHandler(service *usecase.UpkeepService, recorder *events.Recorder, logger *slog.Logger, opts ...Option) *Handler {
	validate := validator.New()

	_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	h := &Handler{
		service:  service,
		recorder: recorder,
		logger:   logger.With("component", "upkeep-handler"),
		validate: validate,
		tracer:   otel.Tracer("upkeep-api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers every route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/targets":                h.handleTargets,
		"/state":                  h.only(http.MethodGet, h.handleGetState),
		"/config/min-wait-period": h.only(http.MethodPut, h.handleSetMinWaitPeriod),
		"/config/driver":          h.only(http.MethodPut, h.handleSetDriver),
		"/lifecycle/pause":        h.only(http.MethodPost, h.handlePause),
		"/lifecycle/unpause":      h.only(http.MethodPost, h.handleUnpause),
		"/custody/withdraw":       h.only(http.MethodPost, h.handleWithdraw),
		"/custody/sweep":          h.only(http.MethodPost, h.handleSweep),
		"/rounds":                 h.only(http.MethodGet, h.handleListRounds),
		"/rounds/":                h.only(http.MethodGet, h.handleGetRound),
		"/events":                 h.only(http.MethodGet, h.handleListEvents),
		"/upkeep/probe":           h.only(http.MethodPost, h.limit(h.handleProbe)),
		"/upkeep/run":             h.only(http.MethodPost, h.limit(h.handleRun)),
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, h.instrument(handler))
	}
}

func (h *Handler) only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func callerOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(CallerHeader))
}

func (h *Handler) handleTargets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		targets, err := h.service.ListTargets(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, TargetsResponse{Targets: targets})
	case http.MethodPost, http.MethodDelete:
		var req TargetsRequest
		if !h.decode(w, r, &req) {
			return
		}
		add := r.Method == http.MethodPost
		var err error
		var resp ChangesResponse
		if add {
			resp.Changes, err = h.service.AddTargets(r.Context(), callerOf(r), req.Targets)
		} else {
			resp.Changes, err = h.service.RemoveTargets(r.Context(), callerOf(r), req.Targets)
		}
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.State(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSetMinWaitPeriod(w http.ResponseWriter, r *http.Request) {
	var req MinWaitPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetMinWaitPeriod(r.Context(), callerOf(r), req.Duration()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetDriver(w http.ResponseWriter, r *http.Request) {
	var req DriverRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetDriver(r.Context(), callerOf(r), req.Driver); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Pause(r.Context(), callerOf(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unpause(r.Context(), callerOf(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := callerOf(r)
	sent, err := h.service.Withdraw(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{Amount: sent, To: caller})
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := callerOf(r)
	sent, err := h.service.Sweep(r.Context(), caller, req.Token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{Token: req.Token, Amount: sent, To: caller})
}

// handleListRounds handles GET /rounds?page=&pageSize=, newest first.
func (h *Handler) handleListRounds(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	rounds, err := h.service.Rounds(r.Context(), page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rounds == nil {
		rounds = []*domain.RoundRecord{}
	}
	writeJSON(w, http.StatusOK, RoundsResponse{Rounds: rounds})
}

func (h *Handler) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rounds/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	record, err := h.service.Round(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleListEvents handles GET /events?type=.
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	list := []domain.Event{}
	if h.recorder != nil {
		if t := r.URL.Query().Get("type"); t != "" {
			list = h.recorder.OfType(domain.EventType(t))
		} else {
			list = h.recorder.Events()
		}
	}
	if list == nil {
		list = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: list})
}

func (h *Handler) handleProbe(w http.ResponseWriter, r *http.Request) {
	due, payload, err := h.service.Probe(r.Context(), callerOf(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Due: due, Payload: payload})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, err := h.service.Run(r.Context(), callerOf(r), req.Payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// decode reads and validates a JSON body into dst. On failure it writes a
// 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var details []string
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, fe := range validationErrors {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: details})
		return false
	}
	return true
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidTarget),
		errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrWrongCaller):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRoundNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPaused),
		errors.Is(err, domain.ErrNotDue),
		errors.Is(err, domain.ErrStalePayload),
		errors.Is(err, domain.ErrRoundInProgress),
		errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		msg = "Internal server error"
	} else {
		h.logger.Warn("request rejected", "status", code, "error", err)
	}
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
