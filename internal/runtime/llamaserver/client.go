package llamaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// client talks to a running llama.cpp server over its native HTTP endpoints.
type client struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
}

func newClient(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration) *client {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout stays 0: every call carries a context deadline instead.
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
	}
}

type tokenizeRequest struct {
	Content    string `json:"content"`
	AddSpecial bool   `json:"add_special"`
}

type tokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
}

type detokenizeRequest struct {
	Tokens []int32 `json:"tokens"`
}

type detokenizeResponse struct {
	Content string `json:"content"`
}

// completionRequest is the subset of llama.cpp's /completion payload we use.
// The prompt is sent as token IDs so the server does not re-tokenize it.
type completionRequest struct {
	Prompt       []int32 `json:"prompt"`
	NPredict     int     `json:"n_predict"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
	Stream       bool    `json:"stream"`
	ReturnTokens bool    `json:"return_tokens"`
	CachePrompt  bool    `json:"cache_prompt"`
}

type completionResponse struct {
	Content         string  `json:"content"`
	Tokens          []int32 `json:"tokens"`
	Stop            bool    `json:"stop"`
	StopType        string  `json:"stop_type"`
	TokensPredicted int     `json:"tokens_predicted"`
	TokensEvaluated int     `json:"tokens_evaluated"`
}

// serverError mirrors llama.cpp's {"error":{"code","message","type"}} payload.
type serverError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *client) tokenize(ctx context.Context, text string, addSpecial bool) ([]int32, error) {
	var out tokenizeResponse
	if err := c.postJSON(ctx, "/tokenize", tokenizeRequest{Content: text, AddSpecial: addSpecial}, &out); err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return out.Tokens, nil
}

func (c *client) detokenize(ctx context.Context, toks []int32) (string, error) {
	var out detokenizeResponse
	if err := c.postJSON(ctx, "/detokenize", detokenizeRequest{Tokens: toks}, &out); err != nil {
		return "", fmt.Errorf("detokenize: %w", err)
	}
	return out.Content, nil
}

func (c *client) complete(ctx context.Context, req completionRequest) (completionResponse, error) {
	var out completionResponse
	if err := c.postJSON(ctx, "/completion", req, &out); err != nil {
		return out, fmt.Errorf("completion: %w", err)
	}
	return out, nil
}

// health returns nil once the server reports it can serve requests.
// llama-server answers 503 while the model is still loading.
func (c *client) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("llama server not ready: %s", resp.Status)
	}
	return nil
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	if c.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
		defer cancel()
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var se serverError
		if json.Unmarshal(b, &se) == nil && se.Error.Message != "" {
			return fmt.Errorf("llama server http error: %s: %s", resp.Status, se.Error.Message)
		}
		return errors.New("llama server http error: " + resp.Status + ": " + strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
