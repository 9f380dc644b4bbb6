package etcd

import (
	"context"
	"encoding/json"
	"fmt"

	"upkeep-dispatcher/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type etcdStateStore struct {
	client *clientv3.Client
	keys   Keys
	tracer trace.Tracer
}

// NewEtcdStateStore stores the dispatch state as one JSON document.
func NewEtcdStateStore(client *clientv3.Client, keys Keys) domain.StateStore {
	return &etcdStateStore{
		client: client,
		keys:   keys,
		tracer: otel.Tracer("upkeep-etcd-state"),
	}
}

func (s *etcdStateStore) Load(ctx context.Context) (*domain.DispatchState, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.LoadState")
	defer span.End()

	resp, err := s.client.Get(ctx, s.keys.State())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get state from etcd")
		return nil, fmt.Errorf("failed to load dispatch state from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrStateNotFound
	}

	return DecodeState(resp.Kvs[0].Value)
}

// DecodeState decodes a value stored at Keys.State, for watchers.
func DecodeState(b []byte) (*domain.DispatchState, error) {
	var state domain.DispatchState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatch state: %w", err)
	}
	return &state, nil
}

func (s *etcdStateStore) Save(ctx context.Context, state *domain.DispatchState) error {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.SaveState")
	defer span.End()

	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch state: %w", err)
	}
	// A missing key has ModRevision 0, so a first save only succeeds if no
	// other replica created the state in the meantime.
	key := s.keys.State()
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", state.Revision)).
		Then(clientv3.OpPut(key, string(b))).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put state to etcd")
		return fmt.Errorf("failed to save dispatch state to etcd: %w", err)
	}
	if !resp.Succeeded {
		span.SetStatus(codes.Error, "dispatch state revision mismatch")
		return fmt.Errorf("%w: expected revision %d", domain.ErrStateConflict, state.Revision)
	}
	state.Revision = resp.Header.Revision
	return nil
}
