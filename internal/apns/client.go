// Package apns delivers Live Activity updates to the Apple push gateway
// over HTTP/2 with provider-token authentication, classifying gateway
// rejections and falling back to the alternate environment when a token
// appears to belong to the other gateway.
package apns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/net/http2"
)

// ErrCircuitOpen is returned when the circuit breaker for a gateway host
// is open and the request was not attempted.
var ErrCircuitOpen = errors.New("apns circuit breaker is open")

// HTTPDoer is the subset of http.Client the delivery client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the delivery client.
type ClientConfig struct {
	// Signer mints provider authentication tokens.
	Signer *TokenSigner

	// Logger for per-attempt delivery logging.
	Logger zerolog.Logger

	// Timeout is the per-attempt request timeout. Default: 10 seconds.
	Timeout time.Duration

	// HTTPClient overrides the HTTP/2 client, for tests.
	HTTPClient HTTPDoer

	// HostOverrides maps an environment to a gateway URL, for tests.
	HostOverrides map[Environment]string

	// BreakerTimeout is the open-state period before the breaker allows
	// a probe request. Default: 60 seconds.
	BreakerTimeout time.Duration
}

// Delivery describes one push to send.
type Delivery struct {
	// Token is the hex activity push token.
	Token string

	// Topic is the gateway topic, including the liveactivity suffix.
	Topic string

	// Payload is the envelope to post.
	Payload Payload

	// Priority is the delivery priority header value.
	Priority Priority

	// Expiration is the apns-expiration header value in unix seconds.
	// Zero means the gateway may discard the push immediately if the
	// device is unreachable.
	Expiration int64

	// Preference selects which gateway environments to try.
	Preference Preference
}

// Result describes a successful delivery.
type Result struct {
	// Environment is the gateway environment that accepted the push.
	Environment Environment

	// Host is the gateway URL the push was posted to.
	Host string

	// APNSID is the gateway-assigned identifier, when present.
	APNSID string
}

// Client posts Live Activity payloads to the push gateway. Each
// environment host gets its own circuit breaker so a development outage
// does not block production deliveries.
type Client struct {
	signer     *TokenSigner
	httpClient HTTPDoer
	hosts      map[Environment]string
	breakers   map[Environment]*gobreaker.CircuitBreaker[*http.Response]
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewClient creates a delivery client. The signer is required.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Signer == nil {
		return nil, ErrMissingSigningKey
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http2.Transport{},
			Timeout:   cfg.Timeout,
		}
	}

	hosts := map[Environment]string{
		EnvironmentDevelopment: DevelopmentHost,
		EnvironmentProduction:  ProductionHost,
	}
	for env, host := range cfg.HostOverrides {
		hosts[env] = host
	}

	logger := cfg.Logger
	breakers := make(map[Environment]*gobreaker.CircuitBreaker[*http.Response], len(hosts))
	for env := range hosts {
		env := env
		breakers[env] = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "apns-" + string(env),
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("apns circuit breaker state change")
			},
		})
	}

	return &Client{
		signer:     cfg.Signer,
		httpClient: httpClient,
		hosts:      hosts,
		breakers:   breakers,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}, nil
}

// BreakerStates reports the circuit breaker state per environment, keyed
// by environment name. Values are "closed", "half-open" or "open".
func (c *Client) BreakerStates() map[Environment]string {
	states := make(map[Environment]string, len(c.breakers))
	for env, cb := range c.breakers {
		states[env] = cb.State().String()
	}
	return states
}

// Deliver posts the payload, trying each candidate environment for the
// delivery's preference in order. An environment-mismatch rejection moves
// on to the next candidate; any other failure stops immediately. The
// returned error is always a *DeliveryError for the last attempt unless
// the payload itself could not be built.
func (c *Client) Deliver(ctx context.Context, d Delivery) (*Result, error) {
	if d.Token == "" {
		return nil, &DeliveryError{Kind: FailureConfig, Reason: "MissingDeviceToken"}
	}
	if d.Topic == "" {
		return nil, &DeliveryError{Kind: FailureConfig, Reason: "MissingTopic"}
	}

	body, err := d.Payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	bearer, err := c.signer.Sign()
	if err != nil {
		return nil, &DeliveryError{Kind: FailureConfig, Reason: "InvalidProviderCredentials", Err: err}
	}

	candidates := Candidates(d.Preference)

	var lastErr *DeliveryError
	for _, env := range candidates {
		result, attemptErr := c.attempt(ctx, env, d, body, bearer)
		if attemptErr == nil {
			return result, nil
		}

		lastErr = attemptErr
		if !attemptErr.Retryable() {
			return nil, attemptErr
		}
		c.logger.Warn().
			Str("environment", string(env)).
			Int("status", attemptErr.StatusCode).
			Str("reason", attemptErr.Reason).
			Msg("environment mismatch, trying alternate gateway")
	}

	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, env Environment, d Delivery, body []byte, bearer string) (*Result, *DeliveryError) {
	host := c.hosts[env]
	url := host + "/3/device/" + d.Token

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &DeliveryError{Kind: FailureTransport, Environment: env, Err: err}
	}

	priority := d.Priority
	if priority == "" {
		priority = PriorityHigh
	}

	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", d.Topic)
	req.Header.Set("apns-push-type", "liveactivity")
	req.Header.Set("apns-priority", string(priority))
	req.Header.Set("apns-expiration", fmt.Sprintf("%d", d.Expiration))
	req.Header.Set("content-type", "application/json")

	resp, err := c.breakers[env].Execute(func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &DeliveryError{Kind: FailureTransport, Environment: env, Err: ErrCircuitOpen}
		}
		return nil, &DeliveryError{Kind: FailureTransport, Environment: env, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusOK {
		c.logger.Debug().
			Str("environment", string(env)).
			Str("topic", d.Topic).
			Str("priority", string(priority)).
			Msg("push accepted")
		return &Result{
			Environment: env,
			Host:        host,
			APNSID:      resp.Header.Get("apns-id"),
		}, nil
	}

	return nil, classifyResponse(env, resp.StatusCode, respBody)
}
