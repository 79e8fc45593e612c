// Package decoder implements the analysis gateway: the single entry point
// that turns a user payload into a model request and the model's reply into
// a typed outcome. All failure paths are values, never panics, because the
// outcome has to cross a context boundary where exceptions cannot travel.
package decoder

import (
	"fmt"

	"github.com/neurosense/decoder/internal/lang"
)

// RiskLevel grades how likely a message is to escalate.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "Safe"
	RiskCaution  RiskLevel = "Caution"
	RiskConflict RiskLevel = "Conflict"
)

// Valid reports whether the risk level is one of the known grades.
func (r RiskLevel) Valid() bool {
	return r == RiskSafe || r == RiskCaution || r == RiskConflict
}

// Attachment carries pre-encoded binary input (image or audio). Encoding
// from files or captured recordings happens upstream of this package.
type Attachment struct {
	Bytes    []byte
	MimeType string
}

// AnalysisRequest is an immutable value object built fresh per user action.
// At least one of RawText, Image, Audio must be non-empty.
type AnalysisRequest struct {
	RawText        string
	UseDeepMode    bool
	TargetLanguage lang.Code
	Image          *Attachment
	Audio          *Attachment
}

// Empty reports whether the request carries no analyzable content.
func (r AnalysisRequest) Empty() bool {
	return r.RawText == "" &&
		(r.Image == nil || len(r.Image.Bytes) == 0) &&
		(r.Audio == nil || len(r.Audio.Bytes) == 0)
}

// AnalysisResult is the validated shape of a successful analysis. Produced
// only by the gateway; read-only downstream.
type AnalysisResult struct {
	RiskLevel        RiskLevel `json:"riskLevel"`
	ConfidenceScore  int       `json:"confidenceScore"`
	LiteralMeaning   string    `json:"literalMeaning"`
	EmotionalSubtext string    `json:"emotionalSubtext"`
	SuggestedReplies []string  `json:"suggestedReplies"`
}

// ErrorKind classifies analysis failures.
type ErrorKind string

const (
	// ErrInvalidInput means the request carried nothing to analyze.
	ErrInvalidInput ErrorKind = "invalid_input"
	// ErrTransport means the analysis call never completed (network, context).
	ErrTransport ErrorKind = "transport"
	// ErrUpstream means the analysis call was reached but returned a failure
	// status (quota, auth, server error).
	ErrUpstream ErrorKind = "upstream"
	// ErrMalformedResponse means the reply did not match the result shape.
	ErrMalformedResponse ErrorKind = "malformed_response"
	// ErrLocalTimeout is the messenger-level give-up on a pending request.
	ErrLocalTimeout ErrorKind = "local_timeout"
)

// AnalysisError is the failure arm of an outcome.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AnalysisOutcome is the tagged union that crosses the context boundary:
// exactly one of Result and Err is set.
type AnalysisOutcome struct {
	Result *AnalysisResult
	Err    *AnalysisError
}

// Success wraps a result into an outcome.
func Success(result *AnalysisResult) AnalysisOutcome {
	return AnalysisOutcome{Result: result}
}

// Failure wraps an error kind and message into an outcome.
func Failure(kind ErrorKind, format string, args ...any) AnalysisOutcome {
	return AnalysisOutcome{Err: &AnalysisError{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// OK reports whether the outcome is a success.
func (o AnalysisOutcome) OK() bool {
	return o.Err == nil && o.Result != nil
}
