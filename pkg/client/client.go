// Package client is a Go client for the assistd HTTP API, for backends that
// relay user messages to the assistant.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"assistd/pkg/types"
)

// Fallback replies returned by ReplyOrFallback.
const (
	// FallbackUnavailable is returned when the service answers 2xx without a body.
	FallbackUnavailable = "Je suis désolé, je ne peux pas répondre pour le moment. Veuillez réessayer."
	// FallbackError is returned for every other failure: transport errors,
	// non-2xx statuses and unreadable replies.
	FallbackError = "Je suis désolé, une erreur s'est produite. Veuillez réessayer plus tard."
)

// ErrNoReply is returned by Reply when a 2xx answer carries no body.
var ErrNoReply = errors.New("assistd: empty reply")

// Parameters sent with every Reply.
const (
	ReplyMaxTokens   = 200
	ReplyTemperature = 0.4
)

const (
	defaultTimeout         = 2 * time.Minute
	defaultAvailabilityTTL = 10 * time.Second
	availabilityKey        = "health"
)

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("assistd: status %d", e.Code)
	}
	return fmt.Sprintf("assistd: status %d: %s", e.Code, e.Detail)
}

// Client calls one assistd instance.
type Client struct {
	baseURL string
	hc      *http.Client
	ttl     time.Duration
	avail   *ttlcache.Cache[string, bool]
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithAvailabilityTTL sets how long an Available answer is reused.
func WithAvailabilityTTL(d time.Duration) Option { return func(c *Client) { c.ttl = d } }

// WithLogger sets the logger used for transport failures.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// New returns a Client for baseURL, e.g. "http://localhost:8000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
		ttl:     defaultAvailabilityTTL,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.avail = ttlcache.New[string, bool](
		ttlcache.WithTTL[string, bool](c.ttl),
		ttlcache.WithDisableTouchOnHit[string, bool](),
	)
	return c
}

// Reply sends message to /chat and returns the assistant's reply.
func (c *Client) Reply(ctx context.Context, message string) (string, error) {
	maxTokens, temp := ReplyMaxTokens, ReplyTemperature
	body, err := json.Marshal(types.ChatRequest{Message: &message, MaxTokens: &maxTokens, Temperature: &temp})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e types.ErrorResponse
		_ = json.Unmarshal(b, &e)
		return "", &StatusError{Code: resp.StatusCode, Detail: e.Detail}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return "", ErrNoReply
	}
	var out *types.ChatResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if out == nil {
		return "", ErrNoReply
	}
	return out.Response, nil
}

// ReplyOrFallback is Reply that never fails: errors turn into a fixed
// apology suitable for showing to the end user.
func (c *Client) ReplyOrFallback(ctx context.Context, message string) string {
	text, err := c.Reply(ctx, message)
	if err == nil {
		return text
	}
	c.log.Warn().Err(err).Msg("assistant call failed")
	if errors.Is(err, ErrNoReply) {
		return FallbackUnavailable
	}
	return FallbackError
}

// Available reports whether /health answers 2xx. Answers are cached for the
// availability TTL.
func (c *Client) Available(ctx context.Context) bool {
	if it := c.avail.Get(availabilityKey); it != nil {
		return it.Value()
	}
	ok := c.probe(ctx)
	c.avail.Set(availabilityKey, ok, ttlcache.DefaultTTL)
	return ok
}

func (c *Client) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Health fetches the /health payload.
func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var out types.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return out, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{Code: resp.StatusCode}
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}
