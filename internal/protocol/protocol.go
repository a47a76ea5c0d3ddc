// Package protocol defines the JSON wire format spoken over a client
// connection: one JSON object per message, decoded once at the transport
// boundary into a tagged union and matched exhaustively from there.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

// Inbound message types.
const (
	TypeTranslation = "translation"
	TypePing        = "ping"
	TypeStats       = "stats"
	TypeHealth      = "health"
)

// TranslationFrame is the payload of an inbound "translation" message.
type TranslationFrame struct {
	RequestID  string `json:"request_id,omitempty"`
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang,omitempty"`
	Priority   string `json:"priority,omitempty"`
	ContextID  string `json:"context_id,omitempty"`
}

// Inbound is one decoded client message. Exactly one variant is populated,
// selected by Type.
type Inbound struct {
	Type        string
	Translation *TranslationFrame
}

// envelope covers every inbound field so a message is unmarshaled once.
type envelope struct {
	Type string `json:"type"`
	TranslationFrame
}

// Decode parses a raw inbound message. A missing "type" means "translation",
// matching the upstream protocol. Unsupported types are an error; the
// connection stays open and the caller answers with an error frame.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("invalid JSON message: %w", err)
	}
	if env.Type == "" {
		env.Type = TypeTranslation
	}
	switch env.Type {
	case TypeTranslation:
		frame := env.TranslationFrame
		return Inbound{Type: TypeTranslation, Translation: &frame}, nil
	case TypePing, TypeStats, TypeHealth:
		return Inbound{Type: env.Type}, nil
	default:
		return Inbound{}, fmt.Errorf("unsupported request type: %q", env.Type)
	}
}

// TranslationResponse is the outbound frame for one translation request.
type TranslationResponse struct {
	RequestID        string  `json:"request_id"`
	Translated       string  `json:"translated,omitempty"`
	SourceText       string  `json:"source_text"`
	SourceLang       string  `json:"source_lang"`
	TargetLang       string  `json:"target_lang"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	Status           string  `json:"status"`
	ContextID        string  `json:"context_id,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
}

// ResponseFromResult formats the wire response for a finished request.
func ResponseFromResult(res *models.Result) TranslationResponse {
	req := res.Request
	return TranslationResponse{
		RequestID:        req.ID,
		Translated:       res.Translated,
		SourceText:       req.Text,
		SourceLang:       req.SourceLang,
		TargetLang:       req.TargetLang,
		ProcessingTimeMS: float64(res.Duration.Microseconds()) / 1000.0,
		Status:           string(res.Status),
		ContextID:        req.ContextID,
		ErrorMessage:     res.ErrorMessage,
	}
}

// PongResponse answers a ping.
type PongResponse struct {
	Type       string  `json:"type"`
	Timestamp  float64 `json:"timestamp"`
	ServerTime string  `json:"server_time"`
	Status     string  `json:"status"`
}

// StatsResponse answers a stats query.
type StatsResponse struct {
	Type               string         `json:"type"`
	ServerStats        map[string]any `json:"server_stats"`
	TranslatorStats    map[string]any `json:"translator_stats"`
	SupportedLanguages []string       `json:"supported_languages"`
	Timestamp          float64        `json:"timestamp"`
	Status             string         `json:"status"`
}

// HealthResponse answers a health query.
type HealthResponse struct {
	Type              string   `json:"type"`
	Status            string   `json:"status"`
	ServerStatus      string   `json:"server_status"`
	ActiveConnections int64    `json:"active_connections"`
	ModelsLoaded      int      `json:"models_loaded"`
	SupportedPairs    []string `json:"supported_pairs"`
	Device            string   `json:"device"`
	TestTranslation   bool     `json:"test_translation"`
	Error             string   `json:"error,omitempty"`
}

// ErrorFrame reports a protocol-level failure (malformed JSON, unsupported
// type, admission rejection).
type ErrorFrame struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

// NewErrorFrame builds the standard protocol error frame.
func NewErrorFrame(msg string) ErrorFrame {
	return ErrorFrame{Error: msg, Status: string(models.StatusError)}
}
