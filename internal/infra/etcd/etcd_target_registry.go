package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"upkeep-dispatcher/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// etcdTargetRegistry stores each target under <prefix>/targets/<escaped id>
// with the raw identifier as the value.
type etcdTargetRegistry struct {
	client *clientv3.Client
	keys   Keys
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdTargetRegistry creates a target registry backed by etcd.
func NewEtcdTargetRegistry(client *clientv3.Client, keys Keys, logger *slog.Logger) domain.TargetRegistry {
	return &etcdTargetRegistry{
		client: client,
		keys:   keys,
		logger: logger.With("component", "etcd-target-registry"),
		tracer: otel.Tracer("upkeep-etcd-registry"),
	}
}

func (r *etcdTargetRegistry) key(id string) string {
	return r.keys.Targets() + url.PathEscape(id)
}

// Add inserts id only if its key was never created, in a single transaction.
func (r *etcdTargetRegistry) Add(ctx context.Context, id string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.AddTarget", trace.WithAttributes(attribute.String("target", id)))
	defer span.End()

	key := r.key(id)
	resp, err := r.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, id)).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add target to etcd")
		return false, fmt.Errorf("failed to add target %s to etcd: %w", id, err)
	}
	span.SetAttributes(attribute.Bool("target.added", resp.Succeeded))
	return resp.Succeeded, nil
}

func (r *etcdTargetRegistry) Remove(ctx context.Context, id string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.RemoveTarget", trace.WithAttributes(attribute.String("target", id)))
	defer span.End()

	resp, err := r.client.Delete(ctx, r.key(id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete target from etcd")
		return false, fmt.Errorf("failed to remove target %s from etcd: %w", id, err)
	}
	return resp.Deleted > 0, nil
}

func (r *etcdTargetRegistry) Contains(ctx context.Context, id string) (bool, error) {
	resp, err := r.client.Get(ctx, r.key(id), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to look up target %s in etcd: %w", id, err)
	}
	return resp.Count > 0, nil
}

// List returns the targets ordered by key.
func (r *etcdTargetRegistry) List(ctx context.Context) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListTargets")
	defer span.End()

	resp, err := r.client.Get(ctx, r.keys.Targets(), clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list targets from etcd")
		return nil, fmt.Errorf("failed to list targets from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	targets := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := string(kv.Value)
		if id == "" {
			id, _ = url.PathUnescape(strings.TrimPrefix(string(kv.Key), r.keys.Targets()))
		}
		targets = append(targets, id)
	}
	return targets, nil
}
