// Package engine defines the translation capability consumed by the worker
// pool. Backends are injected at construction; the scheduling core never
// reaches into engine internals and never branches on device type at
// request time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedPair reports a language pair no loaded model covers.
var ErrUnsupportedPair = errors.New("unsupported language pair")

// Request carries one translation call to a backend. Decoding parameters
// live in the backend's immutable Config, not here.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Pair returns the language-pair key, e.g. "en-ja".
func (r Request) Pair() string {
	return r.SourceLang + "-" + r.TargetLang
}

// Health is a backend's self-reported state.
type Health struct {
	Healthy         bool
	ModelsLoaded    int
	SupportedPairs  []string
	Device          string
	TestTranslation bool
	Error           string
}

// Translator is the opaque translation capability. Implementations may be
// slow and may fail; they must be safe for use by up to the configured
// number of concurrent workers.
type Translator interface {
	// Translate translates text between the request's language pair.
	Translate(ctx context.Context, req Request) (string, error)

	// Health checks the backend, including a round-trip test translation.
	Health(ctx context.Context) Health

	// Languages returns the supported language-pair keys.
	Languages() []string
}

// Config is the immutable engine configuration resolved once at startup.
type Config struct {
	Endpoint    string
	APIKey      string
	Device      string
	Models      map[string]string
	MaxLength   int
	NumBeams    int
	Temperature float64
	BatchSize   int
}

// Model returns the model identifier for a language pair.
func (c Config) Model(pair string) (string, bool) {
	m, ok := c.Models[pair]
	return m, ok
}

// ResolveDevice maps the configured device token to a concrete device. The
// "auto" token resolves from the supplied accelerator capability; probing
// hardware is the caller's concern, keeping resolution pure.
func ResolveDevice(configured string, cudaAvailable bool) string {
	if configured != "auto" {
		return configured
	}
	if cudaAvailable {
		return "cuda"
	}
	return "cpu"
}

// Verify performs the startup health check: the backend must report healthy
// and complete a test translation before the server begins accepting work.
func Verify(ctx context.Context, t Translator) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	h := t.Health(ctx)
	if !h.Healthy {
		return fmt.Errorf("translation engine unhealthy: %s", h.Error)
	}
	return nil
}
