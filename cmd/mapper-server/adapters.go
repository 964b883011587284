package main

import (
	"context"

	"github.com/infra-mapper/infra-mapper/internal/ingest"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// ingestStore bridges the store's concrete transaction type to the Tx
// interface the ingest package declares. Inside a transaction the *store.Store
// bound to the tx satisfies ingest.Tx directly.
type ingestStore struct{ s *store.Store }

func (a *ingestStore) Transaction(ctx context.Context, fn func(tx ingest.Tx) error) error {
	return a.s.Transaction(ctx, func(tx *store.Store) error {
		return fn(tx)
	})
}
