// Package httpremote is a repohelper.RemoteSource backed by a REST resource.
//
//	GET    {base}/{path(key)}  -> 200 entity | 404 absent
//	PUT    {base}/{path(key)}  <- entity
//	DELETE {base}/{path(key)}  (404 counts as success)
//
// Requests go through go-retryablehttp; an optional token bucket paces them.
package httpremote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/repohelper"
	"github.com/unkn0wn-root/repohelper/codec"
)

const maxBodyBytes = 8 << 20

// StatusError is returned for responses outside the expected status codes.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string // first bytes of the response body
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpremote: %s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

type Config[K, E any] struct {
	BaseURL string // required, e.g. "https://api.example.com/users"

	Path  func(K) string // default url.PathEscape(fmt.Sprint(key))
	Codec codec.Codec[E] // default codec.JSON

	HTTPClient   *http.Client  // transport under the retries; default http.Client with Timeout
	Timeout      time.Duration // per attempt; 0 => 10s (ignored when HTTPClient is set)
	RetryMax     int           // 0 => 1; < 0 disables retries
	RetryWaitMin time.Duration // 0 => 100ms
	RetryWaitMax time.Duration // 0 => 2s

	Limiter *rate.Limiter // waited on before every request; nil => unpaced
	Header  http.Header   // added to every request
	Logger  repohelper.Logger
}

type WriteResult struct {
	StatusCode int
}

type Remote[K, E any] struct {
	base        *url.URL
	path        func(K) string
	codec       codec.Codec[E]
	contentType string
	client      *http.Client
	limiter     *rate.Limiter
	header      http.Header
	log         repohelper.Logger
}

var _ repohelper.RemoteSource[string, struct{}, WriteResult] = (*Remote[string, struct{}])(nil)

func New[K, E any](cfg Config[K, E]) (*Remote[K, E], error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("httpremote: base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpremote: parse base URL: %w", err)
	}

	r := &Remote[K, E]{
		base:    base,
		path:    cfg.Path,
		codec:   cfg.Codec,
		limiter: cfg.Limiter,
		header:  cfg.Header,
		log:     cfg.Logger,
	}
	if r.path == nil {
		r.path = func(k K) string { return url.PathEscape(fmt.Sprint(k)) }
	}
	if r.codec == nil {
		r.codec = codec.JSON[E]{}
	}
	if r.log == nil {
		r.log = repohelper.NopLogger{}
	}
	r.contentType = codec.ContentTypeOf(r.codec, "application/octet-stream")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	retryMax := cfg.RetryMax
	switch {
	case retryMax == 0:
		retryMax = 1
	case retryMax < 0:
		retryMax = 0
	}
	rclient := &retryablehttp.Client{
		HTTPClient:   httpClient,
		RetryWaitMin: durationOr(cfg.RetryWaitMin, 100*time.Millisecond),
		RetryWaitMax: durationOr(cfg.RetryWaitMax, 2*time.Second),
		RetryMax:     retryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}
	r.client = rclient.StandardClient()
	return r, nil
}

func (r *Remote[K, E]) Fetch(ctx context.Context, key K) (E, bool, error) {
	var zero E
	status, body, err := r.do(ctx, http.MethodGet, key, nil)
	if err != nil {
		return zero, false, err
	}
	switch {
	case status == http.StatusNotFound:
		return zero, false, nil
	case status != http.StatusOK:
		return zero, false, r.statusError(http.MethodGet, key, status, body)
	}
	v, err := r.codec.Decode(body)
	if err != nil {
		return zero, false, fmt.Errorf("httpremote: decode %s: %w", r.url(key), err)
	}
	return v, true, nil
}

func (r *Remote[K, E]) Write(ctx context.Context, key K, entity E) (WriteResult, error) {
	payload, err := r.codec.Encode(entity)
	if err != nil {
		return WriteResult{}, fmt.Errorf("httpremote: encode: %w", err)
	}
	status, body, err := r.do(ctx, http.MethodPut, key, payload)
	if err != nil {
		return WriteResult{}, err
	}
	if status < 200 || status > 299 {
		return WriteResult{}, r.statusError(http.MethodPut, key, status, body)
	}
	return WriteResult{StatusCode: status}, nil
}

func (r *Remote[K, E]) Remove(ctx context.Context, key K) (WriteResult, error) {
	status, body, err := r.do(ctx, http.MethodDelete, key, nil)
	if err != nil {
		return WriteResult{}, err
	}
	if status != http.StatusNotFound && (status < 200 || status > 299) {
		return WriteResult{}, r.statusError(http.MethodDelete, key, status, body)
	}
	return WriteResult{StatusCode: status}, nil
}

func (r *Remote[K, E]) url(key K) string {
	return r.base.String() + "/" + r.path(key)
}

func (r *Remote[K, E]) do(ctx context.Context, method string, key K, payload []byte) (int, []byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("httpremote: rate limit: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.url(key), body)
	if err != nil {
		return 0, nil, fmt.Errorf("httpremote: build request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", r.contentType)
	if payload != nil {
		req.Header.Set("Content-Type", r.contentType)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug("remote request failed", repohelper.Fields{"method": method, "url": req.URL.String(), "err": err})
		return 0, nil, fmt.Errorf("httpremote: %s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("httpremote: read body: %w", err)
	}
	r.log.Debug("remote request", repohelper.Fields{
		"method": method, "url": req.URL.String(), "status": resp.StatusCode, "took": time.Since(start),
	})
	return resp.StatusCode, b, nil
}

func (r *Remote[K, E]) statusError(method string, key K, status int, body []byte) error {
	const keep = 256
	if len(body) > keep {
		body = body[:keep]
	}
	return &StatusError{Method: method, URL: r.url(key), StatusCode: status, Body: string(body)}
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
