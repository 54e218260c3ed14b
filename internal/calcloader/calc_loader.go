package calcloader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rpattn/dealreport/internal/domain"
	"github.com/rpattn/dealreport/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// CalcLoader batches calculation lookups made while resolving one request.
type CalcLoader struct {
	Loader *dataloader.Loader
}

func NewCalcLoader(repo repository.CalculationRepository) *CalcLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]int64, len(keys))
		for i, k := range keys {
			id, err := strconv.ParseInt(k.String(), 10, 64)
			if err != nil {
				return errorResults(len(keys), fmt.Errorf("invalid calculation id %q: %w", k.String(), err))
			}
			ids[i] = id
		}

		specs, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			return errorResults(len(keys), err)
		}

		byID := make(map[int64]domain.CalculationSpec, len(specs))
		for _, s := range specs {
			byID[s.ID] = s
		}

		// Results must line up with keys.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if s, ok := byID[id]; ok {
				results[i] = &dataloader.Result{Data: s}
			} else {
				results[i] = &dataloader.Result{Error: &domain.DefinitionNotFoundError{Kind: "calculation", Key: strconv.FormatInt(id, 10)}}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))

	return &CalcLoader{Loader: loader}
}

func errorResults(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

// Load resolves a single calculation definition.
func (l *CalcLoader) Load(ctx context.Context, id int64) (domain.CalculationSpec, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(strconv.FormatInt(id, 10)))()
	if err != nil {
		return domain.CalculationSpec{}, err
	}
	spec, ok := data.(domain.CalculationSpec)
	if !ok {
		return domain.CalculationSpec{}, fmt.Errorf("unexpected loader value %T", data)
	}
	return spec, nil
}

// LoadMany resolves ids in order with a single batched query. The first missing
// or failed id aborts the whole load.
func (l *CalcLoader) LoadMany(ctx context.Context, ids []int64) ([]domain.CalculationSpec, error) {
	if len(ids) == 0 {
		return []domain.CalculationSpec{}, nil
	}
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(strconv.FormatInt(id, 10))
	}
	data, errs := l.Loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	specs := make([]domain.CalculationSpec, len(data))
	for i, d := range data {
		spec, ok := d.(domain.CalculationSpec)
		if !ok {
			return nil, fmt.Errorf("unexpected loader value %T", d)
		}
		specs[i] = spec
	}
	return specs, nil
}
