package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errCircuitOpen = errors.New("circuit breaker open")
)

// ClientConfig holds source API client settings
type ClientConfig struct {
	APIURL     string
	Dataset    string
	Rows       int
	Timeout    time.Duration
	MaxRetries int
}

// Client fetches real-time station status from the OpenDataSoft records API.
// Requests are retried with exponential backoff behind a circuit breaker so a
// flapping upstream does not hammer the API every cycle.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new source API client
func NewClient(cfg ClientConfig) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "velib-api",
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
	}
}

// apiResponse mirrors the OpenDataSoft records search payload
type apiResponse struct {
	Nhits   int         `json:"nhits"`
	Records []apiRecord `json:"records"`
}

type apiRecord struct {
	Fields apiFields `json:"fields"`
}

// apiFields carries one station's real-time status. Counts are decoded
// loosely because the feed occasionally emits them as strings; the validator
// downstream settles their type.
type apiFields struct {
	StationCode    string     `json:"stationcode"`
	Name           string     `json:"name"`
	Coordinates    []float64  `json:"coordonnees_geo"`
	Capacity       any        `json:"capacity"`
	Arrondissement string     `json:"nom_arrondissement_communes"`
	InseeCode      jsonString `json:"code_insee_commune"`
	Mechanical     any        `json:"mechanical"`
	Ebike          any        `json:"ebike"`
	DocksAvailable any        `json:"numdocksavailable"`
	IsInstalled    string     `json:"is_installed"`
	IsRenting      string     `json:"is_renting"`
	IsReturning    string     `json:"is_returning"`
	DueDate        string     `json:"duedate"`
}

// jsonString accepts both string and numeric JSON values
type jsonString string

func (s *jsonString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = jsonString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = jsonString(num.String())
	return nil
}

// FetchStations retrieves the full real-time station dataset
func (c *Client) FetchStations(ctx context.Context) (*apiResponse, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx)
		})
		if err == nil {
			return result.(*apiResponse), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= c.cfg.MaxRetries {
			return nil, lastErr
		}

		// Exponential backoff before the next attempt.
		delay := time.Second << attempt
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) fetch(ctx context.Context) (*apiResponse, error) {
	params := url.Values{}
	params.Set("dataset", c.cfg.Dataset)
	params.Set("rows", strconv.Itoa(c.cfg.Rows))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request station feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var payload apiResponse
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode station feed: %w", err)
	}

	return &payload, nil
}
