package orchestrator

import (
	"context"

	"adwatch/pkg/models"
	"adwatch/pkg/reconcile"
)

// Fetcher pulls the current raw ad set for one competitor from the source.
type Fetcher interface {
	Fetch(ctx context.Context, competitor *models.Competitor, mode models.FetchMode) ([]models.RawAd, error)
}

// Store is the persistence surface the orchestrator drives. InTx runs fn
// against a transaction-scoped reconcile store so one competitor's writes
// commit or roll back as a unit.
type Store interface {
	ActiveCompetitors(ctx context.Context) ([]*models.Competitor, error)
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	FinishRun(ctx context.Context, run *models.ScrapeRun) error
	RecordError(ctx context.Context, scrapeErr *models.ScrapeError) error
	InTx(ctx context.Context, fn func(tx reconcile.Store) error) error
}
