package domain

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// TargetKind identifies the transport used to refresh a target.
type TargetKind string

const (
	TargetKindHTTP TargetKind = "http"
	TargetKindGRPC TargetKind = "grpc"
)

// KindOf derives the transport kind from a target identifier.
// Targets are endpoint URLs: http(s)://host/path or grpc://host:port.
func KindOf(id string) (TargetKind, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return TargetKindHTTP, nil
	case "grpc":
		return TargetKindGRPC, nil
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
}

// ValidateTargetID checks that id is a usable endpoint identifier.
func ValidateTargetID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: identifier cannot be empty", ErrInvalidTarget)
	}
	if _, err := KindOf(id); err != nil {
		return err
	}
	u, _ := url.Parse(id)
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, id)
	}
	return nil
}

// TargetRegistry is the set of registered targets.
// Add and Remove report whether the set changed; neither treats a no-op as an error.
type TargetRegistry interface {
	Add(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	Contains(ctx context.Context, id string) (bool, error)
	// List returns a copy of the current members. Later mutations never affect it.
	List(ctx context.Context) ([]string, error)
}

// Refresher invokes the refresh operation on a single target.
type Refresher interface {
	Refresh(ctx context.Context, target string) error
}
