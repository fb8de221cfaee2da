package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/ksuid"

	"bookshelf-service/internal/model"
	"bookshelf-service/pkg/database"
)

// Job names
const (
	JobProvisionTenant = "provision_tenant"
	JobSeedBooks       = "seed_books"
	JobDownloadContent = "download_content"
	JobNoOp            = "no_op"
)

// MaxSeedBooks caps one seed_books job
const MaxSeedBooks = 10000

type ProvisionTenantPayload struct {
	SchemaName string `json:"schema_name"`
}

type SeedBooksPayload struct {
	SchemaName string `json:"schema_name"`
	Count      int    `json:"count"`
}

type DownloadContentPayload struct {
	URL string `json:"url"`
}

// SchemaProvisioner creates or completes a tenant schema
type SchemaProvisioner interface {
	Provision(ctx context.Context, schemaName string) error
}

// BookCreator bulk-inserts books
type BookCreator interface {
	CreateMany(ctx context.Context, sc database.SchemaContext, ps []model.Payload) ([]int64, error)
}

// JobDeps are what the built-in jobs need
type JobDeps struct {
	Provisioner SchemaProvisioner
	Books       BookCreator
}

// RegisterJobs installs the built-in job handlers on w
func RegisterJobs(w *Worker, deps JobDeps) {
	w.Handle(JobProvisionTenant, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p ProvisionTenantPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if err := deps.Provisioner.Provision(ctx, p.SchemaName); err != nil {
			return nil, err
		}
		return map[string]string{"schema_name": p.SchemaName}, nil
	})

	w.Handle(JobSeedBooks, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p SeedBooksPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if p.Count < 1 || p.Count > MaxSeedBooks {
			return nil, fmt.Errorf("count must be between 1 and %d", MaxSeedBooks)
		}
		ids, err := deps.Books.CreateMany(ctx, database.Tenant(p.SchemaName), SeedBooks(p.Count))
		if err != nil {
			return nil, err
		}
		return map[string]int{"count": len(ids)}, nil
	})

	w.Handle(JobDownloadContent, func(_ context.Context, raw json.RawMessage) (any, error) {
		var p DownloadContentPayload
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		// the content itself is not fetched, only sized
		return len(p.URL), nil
	})

	w.Handle(JobNoOp, func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})
}

// SeedBooks builds n placeholder books with unique identifiers
func SeedBooks(n int) []model.Payload {
	batch := ksuid.New().String()
	books := make([]model.Payload, n)
	for i := range books {
		year := 1900 + i%125
		books[i] = model.BookCreate{
			Identifier:  fmt.Sprintf("seed-%s-%d", batch, i),
			Name:        fmt.Sprintf("Seed Book %d", i+1),
			Author:      "Seed Author",
			ReleaseYear: &year,
		}
	}
	return books
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
