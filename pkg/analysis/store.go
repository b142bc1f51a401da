package analysis

import (
	"context"

	"github.com/dukex/imageflow/pkg/models"
)

// ReportStore persists finished reports. results.Service implements it.
type ReportStore interface {
	Save(ctx context.Context, report *models.Report) (*models.StoredRecord, error)
}

func storeResults(store ReportStore) func(ctx context.Context, report models.Report) (models.StoredRecord, error) {
	return func(ctx context.Context, report models.Report) (models.StoredRecord, error) {
		record, err := store.Save(ctx, &report)
		if err != nil {
			return models.StoredRecord{}, err
		}

		return *record, nil
	}
}
