// Package yahoo implements provider.Provider on top of the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dukex/stockpipe/pkg/models"
	"github.com/dukex/stockpipe/pkg/provider"
)

const (
	defaultTimeoutSeconds = 30
	userAgent             = "Mozilla/5.0 (compatible; stockpipe/1.0)"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// Client queries the v8 chart endpoint, one request per entity.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		logger:     logger.With("module", "yahoo_provider"),
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// Fetch downloads the series for entity. A "Not Found" chart error yields an empty dataset.
func (c *Client) Fetch(ctx context.Context, entity models.Entity, window provider.Window) (*models.Dataset, error) {
	endpoint := c.baseURL + "/v8/finance/chart/" + url.PathEscape(entity.String())

	query := url.Values{}
	query.Set("range", window.Range)
	query.Set("interval", window.Interval)
	query.Set("includeAdjustedClose", strconv.FormatBool(window.Adjusted))
	query.Set("events", "div,splits")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", entity, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.DebugContext(ctx, "Requesting chart", "entity", entity, "range", window.Range, "interval", window.Interval)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request chart for %s: %w", entity, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.logger.WarnContext(ctx, "Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read chart for %s: %w", entity, err)
	}

	var chart chartResponse

	decodeErr := json.Unmarshal(body, &chart)

	if resp.StatusCode == http.StatusNotFound && decodeErr == nil && chart.Chart.Error != nil {
		c.logger.WarnContext(ctx, "Provider has no data for entity",
			"entity", entity,
			"code", chart.Chart.Error.Code,
			"description", chart.Chart.Error.Description)

		return &models.Dataset{}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w %d for %s", ErrUnexpectedStatus, resp.StatusCode, entity)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode chart for %s: %w", entity, decodeErr)
	}

	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("chart error for %s: %s: %s", entity, chart.Chart.Error.Code, chart.Chart.Error.Description)
	}

	if len(chart.Chart.Result) == 0 {
		return &models.Dataset{}, nil
	}

	return toDataset(entity, chart.Chart.Result[0], window.Adjusted), nil
}

// toDataset lays the series out the way multi-symbol downloads are shaped: columns grouped
// by price field and then by symbol, indexed by trading date.
func toDataset(entity models.Entity, result chartResult, adjusted bool) *models.Dataset {
	symbol := entity.String()

	columns := []models.Column{{Levels: []string{"Close", symbol}, Type: models.ColumnFloat}}
	if !adjusted {
		columns = append(columns, models.Column{Levels: []string{"Adj Close", symbol}, Type: models.ColumnFloat})
	}

	columns = append(columns,
		models.Column{Levels: []string{"High", symbol}, Type: models.ColumnFloat},
		models.Column{Levels: []string{"Low", symbol}, Type: models.ColumnFloat},
		models.Column{Levels: []string{"Open", symbol}, Type: models.ColumnFloat},
		models.Column{Levels: []string{"Volume", symbol}, Type: models.ColumnInteger},
	)

	dataset := &models.Dataset{
		IndexName: "Date",
		Columns:   columns,
		Rows:      [][]any{},
	}

	if len(result.Indicators.Quote) == 0 {
		return dataset
	}

	location, err := time.LoadLocation(result.Meta.ExchangeTimezoneName)
	if err != nil || result.Meta.ExchangeTimezoneName == "" {
		location = time.UTC
	}

	quote := result.Indicators.Quote[0]

	var adjClose []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjClose = result.Indicators.AdjClose[0].AdjClose
	}

	for i, ts := range result.Timestamp {
		closePrice := at(quote.Close, i)
		if closePrice == nil {
			continue
		}

		open, high, low, closeValue := value(at(quote.Open, i)), value(at(quote.High, i)), value(at(quote.Low, i)), *closePrice

		adj := at(adjClose, i)

		row := []any{}

		if adjusted {
			if adj != nil && closeValue != 0 {
				ratio := *adj / closeValue
				open, high, low, closeValue = open*ratio, high*ratio, low*ratio, *adj
			}

			row = append(row, closeValue, high, low, open)
		} else {
			row = append(row, closeValue, value(adj), high, low, open)
		}

		var volume int64
		if v := at(quote.Volume, i); v != nil {
			volume = *v
		}

		row = append(row, volume)

		local := time.Unix(ts, 0).In(location)
		dataset.Index = append(dataset.Index, time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC))
		dataset.Rows = append(dataset.Rows, row)
	}

	return dataset
}

func at[T any](values []*T, i int) *T {
	if i >= len(values) {
		return nil
	}

	return values[i]
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}

	return *v
}

var _ provider.Provider = (*Client)(nil)
