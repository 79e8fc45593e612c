package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/neurosense/decoder/internal/decoder"
	"github.com/neurosense/decoder/internal/lang"
)

// Analyzer is the gateway surface the responder needs.
type Analyzer interface {
	Analyze(ctx context.Context, req decoder.AnalysisRequest) decoder.AnalysisOutcome
}

// PreferenceStore is the preference surface the responder needs.
type PreferenceStore interface {
	Language() lang.Code
	SetLanguage(code lang.Code) error
}

// Responder is the receiving half of the protocol, running in the privileged
// context. For every request it produces exactly one reply; every failure of
// the gateway call is converted to the failure envelope rather than being
// allowed to terminate the receiving context.
type Responder struct {
	analyzer Analyzer
	prefs    PreferenceStore
}

// NewResponder creates a responder over the gateway and preference store.
func NewResponder(analyzer Analyzer, prefs PreferenceStore) *Responder {
	return &Responder{analyzer: analyzer, prefs: prefs}
}

// Handle executes one request and returns its reply. It never panics: a
// panic anywhere in handling is recovered into a failure envelope, because
// the sandboxed side must always get its one reply.
func (r *Responder) Handle(ctx context.Context, req Request) (reply Reply) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("request handler panicked", "action", req.Action, "panic", rec)
			reply = failureReply(req.ID, "internal error handling request")
		}
	}()

	switch req.Action {
	case ActionAnalyzeText:
		return r.handleAnalyze(ctx, req)
	case ActionGetLanguage:
		return Reply{ID: req.ID, Success: true, Language: string(r.prefs.Language())}
	case ActionSetLanguage:
		if err := r.prefs.SetLanguage(lang.Code(req.Text)); err != nil {
			return failureReply(req.ID, err.Error())
		}
		return Reply{ID: req.ID, Success: true, Language: req.Text}
	default:
		return failureReply(req.ID, fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (r *Responder) handleAnalyze(ctx context.Context, req Request) Reply {
	analysisReq, err := toAnalysisRequest(req)
	if err != nil {
		return failureReply(req.ID, err.Error())
	}

	outcome := r.analyzer.Analyze(ctx, analysisReq)
	if !outcome.OK() {
		slog.Warn("analysis failed", "kind", outcome.Err.Kind, "error", outcome.Err.Message)
		return failureReply(req.ID, outcome.Err.Message)
	}
	return Reply{ID: req.ID, Success: true, Data: outcome.Result}
}

// toAnalysisRequest normalizes a wire request into a gateway request,
// decoding the base64 attachment payloads.
func toAnalysisRequest(req Request) (decoder.AnalysisRequest, error) {
	out := decoder.AnalysisRequest{
		RawText:        req.Text,
		UseDeepMode:    req.UseDeepMode,
		TargetLanguage: lang.Code(req.TargetLanguage),
	}

	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return out, fmt.Errorf("invalid image payload: %w", err)
		}
		out.Image = &decoder.Attachment{Bytes: data, MimeType: req.ImageMimeType}
	}
	if req.AudioBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			return out, fmt.Errorf("invalid audio payload: %w", err)
		}
		out.Audio = &decoder.Attachment{Bytes: data, MimeType: req.AudioMimeType}
	}
	return out, nil
}
