package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/sony/gobreaker/v2"
)

// ErrRejected marks a 4xx answer: the request itself is bad, so retrying it
// on another provider is pointless and the breaker does not count it.
var ErrRejected = errors.New("provider rejected request")

type Provider interface {
	Name() string
	Ready() bool
	Generate(ctx context.Context, req model.GenerationRequest) (model.GenerationResult, error)
}

type BreakerSettings struct {
	FailThreshold int           // consecutive failures that open the breaker
	OpenFor       time.Duration // how long it stays open before a trial request
	HalfOpenMax   int           // trial requests allowed while half-open
}

type HTTPProvider struct {
	name    string
	url     string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[model.GenerationResult]
}

func NewHTTPProvider(name, baseURL, path, apiKey string, timeout time.Duration, bs BreakerSettings) *HTTPProvider {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if bs.FailThreshold <= 0 {
		bs.FailThreshold = 3
	}
	if bs.OpenFor <= 0 {
		bs.OpenFor = 15 * time.Second
	}
	if bs.HalfOpenMax <= 0 {
		bs.HalfOpenMax = 1
	}

	threshold := uint32(bs.FailThreshold)
	cb := gobreaker.NewCircuitBreaker[model.GenerationResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(bs.HalfOpenMax),
		Timeout:     bs.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
	})

	return &HTTPProvider{
		name:    name,
		url:     baseURL + path,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
	}
}

func (p *HTTPProvider) Name() string { return p.name }

// Ready is false only while the breaker is open; half-open admits trial requests.
func (p *HTTPProvider) Ready() bool { return p.breaker.State() != gobreaker.StateOpen }

func (p *HTTPProvider) Generate(ctx context.Context, req model.GenerationRequest) (model.GenerationResult, error) {
	return p.breaker.Execute(func() (model.GenerationResult, error) {
		return p.post(ctx, req)
	})
}

type generateResponse struct {
	Images []string `json:"images"`
}

func (p *HTTPProvider) post(ctx context.Context, gr model.GenerationRequest) (model.GenerationResult, error) {
	b, err := json.Marshal(gr)
	if err != nil {
		return model.GenerationResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(b))
	if err != nil {
		return model.GenerationResult{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", gr.RequestID)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return model.GenerationResult{}, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode/100 == 2:
	case res.StatusCode/100 == 4 && res.StatusCode != http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, res.Body)
		return model.GenerationResult{}, fmt.Errorf("%w: provider=%s status=%d", ErrRejected, p.name, res.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, res.Body)
		return model.GenerationResult{}, fmt.Errorf("provider=%s status=%d", p.name, res.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return model.GenerationResult{}, fmt.Errorf("provider=%s decode: %w", p.name, err)
	}
	if len(out.Images) == 0 {
		return model.GenerationResult{}, fmt.Errorf("provider=%s returned no images", p.name)
	}
	return model.GenerationResult{Provider: p.name, Images: out.Images}, nil
}
