package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"upkeep-dispatcher/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// GrpcRefresher refreshes grpc://host:port targets.
type GrpcRefresher struct {
	conns  map[string]*grpc.ClientConn // A cache of connections by address
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

func NewGrpcRefresher(logger *slog.Logger) *GrpcRefresher {
	return &GrpcRefresher{
		conns:  make(map[string]*grpc.ClientConn),
		now:    time.Now,
		logger: logger.With("refresher", "grpc"),
	}
}

var _ domain.Refresher = (*GrpcRefresher)(nil)

// Refresh calls the target's Refresh RPC. The context carries the deadline
// and trace information.
func (r *GrpcRefresher) Refresh(ctx context.Context, target string) error {
	addr, err := addressOf(target)
	if err != nil {
		return err
	}
	conn, err := r.getOrCreateConn(addr)
	if err != nil {
		return err
	}
	if _, err := NewRefreshClient(conn).Refresh(ctx, timestamppb.New(r.now())); err != nil {
		return fmt.Errorf("refresh rpc to %s failed: %w", addr, err)
	}
	return nil
}

// Close closes every cached connection.
func (r *GrpcRefresher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for addr, conn := range r.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.conns, addr)
	}
	return firstErr
}

func (r *GrpcRefresher) getOrCreateConn(addr string) (*grpc.ClientConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[addr]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target at %s: %w", addr, err)
	}
	r.conns[addr] = conn
	r.logger.Info("created new gRPC connection for target", "addr", addr)
	return conn, nil
}

func addressOf(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidTarget, err)
	}
	if u.Scheme != "grpc" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not a grpc://host:port target", domain.ErrInvalidTarget, target)
	}
	return u.Host, nil
}
