package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"
	"meetcore/internal/core/services"
	"meetcore/pkg/circuitbreaker"
	"meetcore/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL   string
	SessionID string
	Token     string
	Timeout   time.Duration
}

// client holds what the join and stats endpoints share: base URL, bearer token
// and the HTTP client.
type client struct {
	cfg    Config
	http   *http.Client
	logger *zap.SugaredLogger
}

func newClient(cfg Config, httpClient *http.Client, logger *zap.SugaredLogger) client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return client{cfg: cfg, http: httpClient, logger: logger}
}

func (c client) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts)+2)
	escaped = append(escaped, "sessions", url.PathEscape(c.cfg.SessionID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.cfg.BaseURL + "/" + strings.Join(escaped, "/")
}

// do sends the request inside a client span and returns the body of a 2xx response.
func (c client) do(ctx context.Context, method, route, target string, body io.Reader) ([]byte, error) {
	ctx, span := tracing.TraceHTTPRequest(ctx, method, route)
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(c.cfg.SessionID))

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("build %s request: %w", route, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("read %s response: %w", route, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &StatusError{Route: route, StatusCode: resp.StatusCode}
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return payload, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Route      string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Route, e.StatusCode)
}

// JoinClient joins the configured session and hands back the raw join payload.
type JoinClient struct {
	client
}

func NewJoinClient(cfg Config, httpClient *http.Client, logger *zap.SugaredLogger) *JoinClient {
	return &JoinClient{client: newClient(cfg, httpClient, logger)}
}

func (c *JoinClient) Join(ctx context.Context) ([]byte, error) {
	payload, err := c.do(ctx, http.MethodPost, "/sessions/:id/join", c.endpoint("join"), strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	c.logger.Infow("joined session", "session_id", c.cfg.SessionID, "bytes", len(payload))
	return payload, nil
}

// JoinAndLoad joins the session and replaces the directory with its peers. Decode
// diagnostics from the directory are returned unchanged.
func (c *JoinClient) JoinAndLoad(ctx context.Context, dir ports.SessionDirectory) error {
	payload, err := c.Join(ctx)
	if err != nil {
		return err
	}
	return dir.LoadFromJoinResponse(ctx, payload)
}

var _ ports.StatsSource = (*StatsClient)(nil)

// StatsClient fetches transport statistics from the session server.
type StatsClient struct {
	client
	breaker *circuitbreaker.CircuitBreaker
}

func NewStatsClient(cfg Config, httpClient *http.Client, logger *zap.SugaredLogger) *StatsClient {
	return &StatsClient{client: newClient(cfg, httpClient, logger)}
}

// WithBreaker guards fetches with cb so an unreachable server is not polled on every
// tick. A non-ok stats status is an answer, not a failure, and never trips it.
func (c *StatsClient) WithBreaker(cb *circuitbreaker.CircuitBreaker) *StatsClient {
	c.breaker = cb
	return c
}

// StatsBreakerConfig is the breaker configuration WithBreaker expects.
func StatsBreakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, domain.ErrStatsUnavailable) && !errors.Is(err, domain.ErrDecode)
	}
	return cfg
}

func (c *StatsClient) FetchTransportStats(ctx context.Context) ([]domain.TransportStats, error) {
	if c.breaker == nil {
		return c.fetch(ctx)
	}
	return circuitbreaker.Execute(c.breaker, func() ([]domain.TransportStats, error) {
		return c.fetch(ctx)
	})
}

func (c *StatsClient) fetch(ctx context.Context) ([]domain.TransportStats, error) {
	payload, err := c.do(ctx, http.MethodGet, "/sessions/:id/transports/stats", c.endpoint("transports", "stats"), nil)
	if err != nil {
		return nil, err
	}
	return services.DecodeTransportStats(payload)
}
