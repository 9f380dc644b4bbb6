// Package target implements a reference refreshable target. It serves the
// Refresh RPC and POST /refresh and keeps a count of refreshes.
package target

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"upkeep-dispatcher/internal/infra/rpc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrInjectedFault is returned by refreshes selected by FailEvery.
var ErrInjectedFault = errors.New("injected fault")

// Status is a snapshot of the target's refresh history.
type Status struct {
	Name        string    `json:"name"`
	Refreshes   int       `json:"refreshes"`
	Failures    int       `json:"failures"`
	LastRefresh time.Time `json:"last_refresh"`
	LastRound   time.Time `json:"last_round,omitempty"`
}

// Server is the reference target.
type Server struct {
	name string
	// failEvery > 0 makes every n-th refresh fail.
	failEvery int
	mu        sync.Mutex
	status    Status
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

var _ rpc.RefreshServer = (*Server)(nil)

// NewServer creates a target. failEvery > 0 injects a fault on every n-th refresh.
func NewServer(name string, failEvery int, logger *slog.Logger) *Server {
	return &Server{
		name:      name,
		failEvery: failEvery,
		status:    Status{Name: name},
		now:       time.Now,
		logger:    logger.With("component", "target", "target_name", name),
		tracer:    otel.Tracer("upkeep-target"),
	}
}

// Refresh is the RPC called by the dispatcher.
func (s *Server) Refresh(ctx context.Context, roundTime *timestamppb.Timestamp) (*emptypb.Empty, error) {
	var round time.Time
	if roundTime != nil {
		round = roundTime.AsTime()
	}
	if err := s.refresh(ctx, round); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// ServeHTTP handles POST /refresh and GET /status.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/refresh":
		if err := s.refresh(r.Context(), time.Time{}); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && r.URL.Path == "/status":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Status())
	default:
		http.NotFound(w, r)
	}
}

// Status returns a copy of the current status.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Server) refresh(ctx context.Context, round time.Time) error {
	_, span := s.tracer.Start(ctx, "target.Refresh", trace.WithAttributes(attribute.String("target.name", s.name)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.status.Refreshes + s.status.Failures + 1
	if s.failEvery > 0 && attempt%s.failEvery == 0 {
		s.status.Failures++
		span.SetStatus(otelcodes.Error, "injected fault")
		s.logger.Warn("refresh failed", "attempt", attempt, "error", ErrInjectedFault)
		return ErrInjectedFault
	}

	s.status.Refreshes++
	s.status.LastRefresh = s.now()
	if !round.IsZero() {
		s.status.LastRound = round
	}
	s.logger.Info("refreshed", "refreshes", s.status.Refreshes)
	return nil
}
