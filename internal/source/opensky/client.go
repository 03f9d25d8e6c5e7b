// Package opensky fetches flights from the OpenSky Network REST API.
//
// Requests go through the retrying httpds client. A circuit breaker sits on
// top: after a run of consecutive transient failures it opens and later
// windows fail fast with ErrExtraction instead of waiting out every retry.
package opensky

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"skyetl/internal/datasource/httpds"
)

// DefaultBaseURL is the public OpenSky API root.
const DefaultBaseURL = "https://opensky-network.org/api"

// MaxInterval is the longest begin/end span /flights/all accepts.
const MaxInterval = 2 * time.Hour

// ErrExtraction wraps every failure to obtain flights for a window.
var ErrExtraction = errors.New("opensky: extraction failed")

// Flight is one element of the /flights/all response. Nullable fields are
// pointers.
type Flight struct {
	ICAO24                           string   `json:"icao24"`
	FirstSeen                        int64    `json:"firstSeen"`
	EstDepartureAirport              *string  `json:"estDepartureAirport"`
	LastSeen                         int64    `json:"lastSeen"`
	EstArrivalAirport                *string  `json:"estArrivalAirport"`
	Callsign                         *string  `json:"callsign"`
	EstDepartureAirportHorizDistance *float64 `json:"estDepartureAirportHorizDistance"`
	EstDepartureAirportVertDistance  *float64 `json:"estDepartureAirportVertDistance"`
	EstArrivalAirportHorizDistance   *float64 `json:"estArrivalAirportHorizDistance"`
	EstArrivalAirportVertDistance    *float64 `json:"estArrivalAirportVertDistance"`
	DepartureAirportCandidatesCount  int      `json:"departureAirportCandidatesCount"`
	ArrivalAirportCandidatesCount    int      `json:"arrivalAirportCandidatesCount"`
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	BaseURL  string
	Username string
	Password string

	Timeout        time.Duration // per request, default 30s
	MaxRetries     int           // default 0
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BreakerFailures is the number of consecutive failures that opens the
	// breaker (default 3). BreakerCooldown is how long it stays open before
	// letting a probe through (default 60s).
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// Transport replaces the HTTP transport; tests use it.
	Transport http.RoundTripper
}

// Client is an OpenSky API client.
type Client struct {
	http    *httpds.Client
	base    string
	breaker *gobreaker.CircuitBreaker
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("opensky: base url %q: %w", base, err)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 60 * time.Second
	}

	threshold := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "opensky",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("opensky: breaker %s %s -> %s", name, from, to)
		},
	})

	return &Client{
		http: httpds.NewClient(httpds.Config{
			Timeout:        cfg.Timeout,
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Username:       cfg.Username,
			Password:       cfg.Password,
			UserAgent:      "skyetl",
			Transport:      cfg.Transport,
		}),
		base:    base,
		breaker: cb,
	}, nil
}

// BreakerState reports the circuit breaker state ("closed", "open",
// "half-open").
func (c *Client) BreakerState() string { return c.breaker.State().String() }

// Flights returns the flights seen in [begin, end). OpenSky answers 404 when
// the interval has no flights; that is an empty result, not an error.
func (c *Client) Flights(ctx context.Context, begin, end time.Time) ([]Flight, error) {
	if !end.After(begin) {
		return nil, fmt.Errorf("%w: end %s not after begin %s", ErrExtraction, end, begin)
	}
	if end.Sub(begin) > MaxInterval {
		return nil, fmt.Errorf("%w: interval %s exceeds %s", ErrExtraction, end.Sub(begin), MaxInterval)
	}

	q := url.Values{}
	q.Set("begin", strconv.FormatInt(begin.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	u := c.base + "/flights/all?" + q.Encode()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		var flights []Flight
		if err := c.http.GetJSON(ctx, u, nil, &flights); err != nil {
			var se *httpds.StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
				return []Flight{}, nil
			}
			return nil, err
		}
		if flights == nil {
			flights = []Flight{}
		}
		return flights, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrExtraction, u, err)
	}
	return out.([]Flight), nil
}

// countsAsSuccess keeps caller cancellations and permanent client errors
// (bad credentials, bad request) from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *httpds.StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}
