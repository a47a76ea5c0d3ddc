// Package marian implements the Translator interface against a MarianMT
// inference sidecar speaking JSON over HTTP.
package marian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
)

const (
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 1 << 20
)

// Engine calls a MarianMT model server over HTTP. Calls run through a
// circuit breaker so a dead sidecar fails fast instead of tying up workers.
type Engine struct {
	cfg     engine.Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a Marian engine for cfg.Endpoint.
func New(cfg engine.Config, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg: cfg,
		client: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "marian",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return e
}

type translateRequest struct {
	Text        string  `json:"text"`
	Model       string  `json:"model"`
	Device      string  `json:"device"`
	MaxLength   int     `json:"max_length"`
	NumBeams    int     `json:"num_beams"`
	Temperature float64 `json:"temperature"`
	BatchSize   int     `json:"batch_size"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Error       string `json:"error,omitempty"`
}

type healthResponse struct {
	Status       string   `json:"status"`
	ModelsLoaded []string `json:"models_loaded"`
	Device       string   `json:"device"`
	Error        string   `json:"error,omitempty"`
}

// Translate sends one request to the sidecar and returns the translation.
func (e *Engine) Translate(ctx context.Context, req engine.Request) (string, error) {
	model, ok := e.cfg.Model(req.Pair())
	if !ok {
		return "", fmt.Errorf("%w: %s", engine.ErrUnsupportedPair, req.Pair())
	}

	body := translateRequest{
		Text:        req.Text,
		Model:       model,
		Device:      e.cfg.Device,
		MaxLength:   e.cfg.MaxLength,
		NumBeams:    e.cfg.NumBeams,
		Temperature: e.cfg.Temperature,
		BatchSize:   e.cfg.BatchSize,
	}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.doTranslate(ctx, body)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (e *Engine) doTranslate(ctx context.Context, body translateRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.Endpoint+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call model server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model server status %d: %s", resp.StatusCode, raw)
	}

	var decoded translateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("model server: %s", decoded.Error)
	}
	return decoded.Translation, nil
}

// Health queries the sidecar health endpoint and runs a probe translation.
func (e *Engine) Health(ctx context.Context) engine.Health {
	h := engine.Health{
		Device:         e.cfg.Device,
		SupportedPairs: e.Languages(),
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.cfg.Endpoint+"/health", nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer resp.Body.Close()

	var decoded healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&decoded); err != nil {
		h.Error = err.Error()
		return h
	}
	if resp.StatusCode != http.StatusOK || decoded.Status != "ok" {
		h.Error = decoded.Error
		if h.Error == "" {
			h.Error = fmt.Sprintf("model server status %d", resp.StatusCode)
		}
		return h
	}
	h.ModelsLoaded = len(decoded.ModelsLoaded)
	if decoded.Device != "" {
		h.Device = decoded.Device
	}

	// Probe end to end, not just the health route.
	if _, err := e.Translate(ctx, engine.Request{Text: "Hello", SourceLang: "en", TargetLang: "ja"}); err != nil {
		h.Error = fmt.Sprintf("test translation failed: %v", err)
		return h
	}
	h.TestTranslation = true
	h.Healthy = true
	return h
}

// Languages returns the configured model pairs.
func (e *Engine) Languages() []string {
	out := make([]string, 0, len(e.cfg.Models))
	for pair := range e.cfg.Models {
		out = append(out, pair)
	}
	return out
}
