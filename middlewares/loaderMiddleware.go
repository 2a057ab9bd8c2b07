package middlewares

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/simplerp_gateway/models"
	"bitbucket.org/mmdatafocus/simplerp_gateway/upstream"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"golang.org/x/sync/errgroup"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")

	recoveryFetchConcurrency = 4
)

// Loaders batch and de-duplicate upstream reads made while serving one request.
type Loaders struct {
	recoveryLoader *dataloader.Loader[upstream.ID, []models.RecoveryTransaction]
}

func NewLoaders() *Loaders {
	recoveryReader := &recoveryReader{}
	return &Loaders{
		recoveryLoader: dataloader.NewBatchedLoader(recoveryReader.getRecoveries, dataloader.WithWait[upstream.ID, []models.RecoveryTransaction](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), loadersKey, NewLoaders())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request's loaders, or fresh ones when the middleware did not run.
func For(ctx context.Context) *Loaders {
	if l, ok := ctx.Value(loadersKey).(*Loaders); ok && l != nil {
		return l
	}
	return NewLoaders()
}

// the API has no batch endpoint, so a batch is fetched loan by loan with bounded concurrency
type recoveryReader struct{}

func (r *recoveryReader) getRecoveries(ctx context.Context, ids []upstream.ID) []*dataloader.Result[[]models.RecoveryTransaction] {
	results := make([]*dataloader.Result[[]models.RecoveryTransaction], len(ids))
	var g errgroup.Group
	g.SetLimit(recoveryFetchConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			recoveries, err := models.FetchRecoveries(ctx, id)
			results[i] = &dataloader.Result[[]models.RecoveryTransaction]{Data: recoveries, Error: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func GetRecoveries(ctx context.Context, loanID upstream.ID) ([]models.RecoveryTransaction, error) {
	return For(ctx).recoveryLoader.Load(ctx, loanID)()
}

// GetRecoveriesForLoans maps each loan id to its recoveries. The first failure is returned.
func GetRecoveriesForLoans(ctx context.Context, loanIDs []upstream.ID) (map[upstream.ID][]models.RecoveryTransaction, error) {
	data, errs := For(ctx).recoveryLoader.LoadMany(ctx, loanIDs)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out := make(map[upstream.ID][]models.RecoveryTransaction, len(loanIDs))
	for i, id := range loanIDs {
		out[id] = data[i]
	}
	return out, nil
}
