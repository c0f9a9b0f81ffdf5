// Package provider defines the market data source used by the ingestion step.
package provider

import (
	"context"

	"github.com/dukex/stockpipe/pkg/models"
)

// Window describes the historical range requested for one entity.
type Window struct {
	Range    string
	Interval string
	Adjusted bool
}

// DefaultWindow is five years of daily, split and dividend adjusted prices.
var DefaultWindow = Window{
	Range:    "5y",
	Interval: "1d",
	Adjusted: true,
}

// Provider fetches a price series for one entity. An empty dataset with a nil error means the
// provider has no data for the entity.
type Provider interface {
	Fetch(ctx context.Context, entity models.Entity, window Window) (*models.Dataset, error)
}
