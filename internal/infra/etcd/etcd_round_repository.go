package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"upkeep-dispatcher/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type etcdRoundRepository struct {
	client *clientv3.Client
	keys   Keys
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdRoundRepository creates a repository for round records backed by etcd.
func NewEtcdRoundRepository(client *clientv3.Client, keys Keys, logger *slog.Logger) domain.RoundRepository {
	return &etcdRoundRepository{
		client: client,
		keys:   keys,
		logger: logger.With("component", "etcd-round-repo"),
		tracer: otel.Tracer("upkeep-etcd-round-repo"),
	}
}

// Save persists a round record under <prefix>/rounds/{id}.
func (r *etcdRoundRepository) Save(ctx context.Context, record *domain.RoundRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveRound")
	defer span.End()

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal round record")
		return fmt.Errorf("failed to marshal round record %s to JSON: %w", record.ID, err)
	}

	key := r.keys.Rounds() + record.ID
	span.SetAttributes(
		attribute.String("round.id", record.ID),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(recordJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put round record to etcd")
		return fmt.Errorf("failed to save round record %s to etcd: %w", record.ID, err)
	}
	return nil
}

func (r *etcdRoundRepository) Get(ctx context.Context, id string) (*domain.RoundRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetRound")
	defer span.End()
	span.SetAttributes(attribute.String("round.id", id))

	resp, err := r.client.Get(ctx, r.keys.Rounds()+id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get round record from etcd")
		return nil, fmt.Errorf("failed to get round record %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrRoundNotFound
	}

	var record domain.RoundRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round record %s from JSON: %w", id, err)
	}
	return &record, nil
}

// List returns round records newest first, paginated from page 1.
func (r *etcdRoundRepository) List(ctx context.Context, page, pageSize int) ([]*domain.RoundRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListRounds")
	defer span.End()
	page, pageSize = domain.NormalizePage(page, pageSize)
	span.SetAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize))

	resp, err := r.client.Get(ctx, r.keys.Rounds(),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list round records from etcd")
		return nil, fmt.Errorf("failed to list round records from etcd: %w", err)
	}

	// Offset pagination over the sorted keys; etcd limits count keys, not pages.
	startIdx := (page - 1) * pageSize
	endIdx := startIdx + pageSize

	records := make([]*domain.RoundRecord, 0, pageSize)
	for i, kv := range resp.Kvs {
		if i < startIdx {
			continue
		}
		if i >= endIdx {
			break
		}
		var record domain.RoundRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal round record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}
