package decoder

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/neurosense/decoder/internal/lang"
)

// stubModel is a canned llms.Model for gateway tests.
type stubModel struct {
	response     string
	err          error
	calls        int
	lastOpts     llms.CallOptions
	lastMessages []llms.MessageContent
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.lastMessages = messages

	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	m.lastOpts = opts

	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

const conflictResponse = `{
	"riskLevel": "Conflict",
	"confidenceScore": 82,
	"literalMeaning": "Go ahead with your plan.",
	"emotionalSubtext": "Resigned frustration; the speaker disagrees but has stopped arguing.",
	"suggestedReplies": ["I can tell something is off. Can we talk about it?", "I want your real opinion before I decide."]
}`

func TestAnalyze_EmptyRequestRejectedWithoutCall(t *testing.T) {
	model := &stubModel{response: conflictResponse}
	g := NewGateway(model, GatewayConfig{})

	outcome := g.Analyze(context.Background(), AnalysisRequest{TargetLanguage: lang.English})

	if outcome.OK() {
		t.Fatal("Analyze of empty request succeeded; want failure")
	}
	if outcome.Err.Kind != ErrInvalidInput {
		t.Errorf("error kind = %q; want %q", outcome.Err.Kind, ErrInvalidInput)
	}
	if model.calls != 0 {
		t.Errorf("model was called %d times for an empty request; want 0", model.calls)
	}
}

func TestAnalyze_ConflictScenario(t *testing.T) {
	model := &stubModel{response: conflictResponse}
	g := NewGateway(model, GatewayConfig{})

	outcome := g.Analyze(context.Background(), AnalysisRequest{
		RawText:        "Fine, do whatever you want.",
		UseDeepMode:    false,
		TargetLanguage: lang.English,
	})

	if !outcome.OK() {
		t.Fatalf("Analyze failed: %v", outcome.Err)
	}
	result := outcome.Result
	if result.RiskLevel != RiskConflict {
		t.Errorf("risk level = %q; want %q", result.RiskLevel, RiskConflict)
	}
	if result.ConfidenceScore != 82 {
		t.Errorf("confidence = %d; want 82", result.ConfidenceScore)
	}
	if result.LiteralMeaning != "Go ahead with your plan." {
		t.Errorf("unexpected literal meaning %q", result.LiteralMeaning)
	}
	if len(result.SuggestedReplies) != 2 {
		t.Errorf("got %d suggested replies; want 2", len(result.SuggestedReplies))
	}
}

func TestAnalyze_ModelSelection(t *testing.T) {
	tests := []struct {
		name     string
		deep     bool
		expected string
	}{
		{"standard", false, DefaultStandardModel},
		{"deep", true, DefaultDeepModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &stubModel{response: conflictResponse}
			g := NewGateway(model, GatewayConfig{})

			outcome := g.Analyze(context.Background(), AnalysisRequest{
				RawText:        "hello",
				UseDeepMode:    tt.deep,
				TargetLanguage: lang.English,
			})
			if !outcome.OK() {
				t.Fatalf("Analyze failed: %v", outcome.Err)
			}
			if model.lastOpts.Model != tt.expected {
				t.Errorf("model = %q; want %q", model.lastOpts.Model, tt.expected)
			}
			if !model.lastOpts.JSONMode {
				t.Error("JSON mode not requested")
			}
		})
	}
}

func TestAnalyze_TargetLanguageInPrompt(t *testing.T) {
	model := &stubModel{response: conflictResponse}
	g := NewGateway(model, GatewayConfig{})

	outcome := g.Analyze(context.Background(), AnalysisRequest{
		RawText:        "hola",
		TargetLanguage: lang.Spanish,
	})
	if !outcome.OK() {
		t.Fatalf("Analyze failed: %v", outcome.Err)
	}

	if len(model.lastMessages) != 1 || len(model.lastMessages[0].Parts) == 0 {
		t.Fatalf("unexpected message shape: %+v", model.lastMessages)
	}
	text, ok := model.lastMessages[0].Parts[0].(llms.TextContent)
	if !ok {
		t.Fatalf("first part is %T; want llms.TextContent", model.lastMessages[0].Parts[0])
	}
	if !strings.Contains(text.Text, "Spanish") {
		t.Errorf("prompt does not name the target language: %q", text.Text)
	}
}

func TestAnalyze_AttachmentsForwarded(t *testing.T) {
	model := &stubModel{response: conflictResponse}
	g := NewGateway(model, GatewayConfig{})

	outcome := g.Analyze(context.Background(), AnalysisRequest{
		TargetLanguage: lang.English,
		Audio:          &Attachment{Bytes: []byte{1, 2, 3}, MimeType: "audio/webm"},
	})
	if !outcome.OK() {
		t.Fatalf("Analyze failed: %v", outcome.Err)
	}

	parts := model.lastMessages[0].Parts
	if len(parts) != 2 {
		t.Fatalf("got %d parts; want prompt + audio", len(parts))
	}
	bin, ok := parts[1].(llms.BinaryContent)
	if !ok {
		t.Fatalf("second part is %T; want llms.BinaryContent", parts[1])
	}
	if bin.MIMEType != "audio/webm" {
		t.Errorf("attachment mime type = %q; want audio/webm", bin.MIMEType)
	}
}

func TestAnalyze_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, ErrTransport},
		{"cancel", context.Canceled, ErrTransport},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ErrTransport},
		{"api failure", errors.New("googleapi: Error 429: quota exceeded"), ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &stubModel{err: tt.err}
			g := NewGateway(model, GatewayConfig{})

			outcome := g.Analyze(context.Background(), AnalysisRequest{
				RawText:        "hello",
				TargetLanguage: lang.English,
			})
			if outcome.OK() {
				t.Fatal("Analyze succeeded; want failure")
			}
			if outcome.Err.Kind != tt.expected {
				t.Errorf("error kind = %q; want %q", outcome.Err.Kind, tt.expected)
			}
		})
	}
}

func TestAnalyze_MalformedResponses(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "I think this message sounds angry."},
		{"unknown risk level", `{"riskLevel":"Explosive","confidenceScore":50,"literalMeaning":"x","emotionalSubtext":"y","suggestedReplies":["z"]}`},
		{"confidence out of range", `{"riskLevel":"Safe","confidenceScore":150,"literalMeaning":"x","emotionalSubtext":"y","suggestedReplies":["z"]}`},
		{"no replies", `{"riskLevel":"Safe","confidenceScore":50,"literalMeaning":"x","emotionalSubtext":"y","suggestedReplies":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &stubModel{response: tt.response}
			g := NewGateway(model, GatewayConfig{})

			outcome := g.Analyze(context.Background(), AnalysisRequest{
				RawText:        "hello",
				TargetLanguage: lang.English,
			})
			if outcome.OK() {
				t.Fatal("Analyze succeeded; want malformed-response failure")
			}
			if outcome.Err.Kind != ErrMalformedResponse {
				t.Errorf("error kind = %q; want %q", outcome.Err.Kind, ErrMalformedResponse)
			}
		})
	}
}

func TestAnalyze_FencedJSONAccepted(t *testing.T) {
	model := &stubModel{response: "```json\n" + conflictResponse + "\n```"}
	g := NewGateway(model, GatewayConfig{})

	outcome := g.Analyze(context.Background(), AnalysisRequest{
		RawText:        "hello",
		TargetLanguage: lang.English,
	})
	if !outcome.OK() {
		t.Fatalf("Analyze failed on fenced JSON: %v", outcome.Err)
	}
	if outcome.Result.RiskLevel != RiskConflict {
		t.Errorf("risk level = %q; want %q", outcome.Result.RiskLevel, RiskConflict)
	}
}
