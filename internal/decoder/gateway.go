package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/neurosense/decoder/internal/lang"
)

// Model names for the two prompt profiles. Deep mode trades latency for
// nuance; it is only a parameter to the call, not a separate code path.
const (
	DefaultStandardModel = "gemini-1.5-flash"
	DefaultDeepModel     = "gemini-1.5-pro"
)

// GatewayConfig configures the analysis gateway.
type GatewayConfig struct {
	// StandardModel handles normal requests. Default: DefaultStandardModel.
	StandardModel string

	// DeepModel handles deep-mode requests. Default: DefaultDeepModel.
	DeepModel string

	// CallTimeout bounds a single model call. Default: 60s.
	CallTimeout time.Duration
}

// Gateway is the sole caller of the remote analysis model. Analyze never
// panics; every failure is returned as a typed outcome.
type Gateway struct {
	model         llms.Model
	standardModel string
	deepModel     string
	callTimeout   time.Duration
}

// NewGateway creates a gateway over an existing model client.
func NewGateway(model llms.Model, cfg GatewayConfig) *Gateway {
	if cfg.StandardModel == "" {
		cfg.StandardModel = DefaultStandardModel
	}
	if cfg.DeepModel == "" {
		cfg.DeepModel = DefaultDeepModel
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Gateway{
		model:         model,
		standardModel: cfg.StandardModel,
		deepModel:     cfg.DeepModel,
		callTimeout:   cfg.CallTimeout,
	}
}

// NewGeminiGateway creates a gateway backed by the Gemini API.
func NewGeminiGateway(ctx context.Context, apiKey string, cfg GatewayConfig) (*Gateway, error) {
	if apiKey == "" {
		return nil, errors.New("missing Gemini API key")
	}
	model, err := googleai.New(ctx, googleai.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return NewGateway(model, cfg), nil
}

// Analyze validates the request, invokes the model, and reshapes its reply
// into an AnalysisResult. The target language is passed through so the model
// replies in the requested language; no local translation happens here.
func (g *Gateway) Analyze(ctx context.Context, req AnalysisRequest) AnalysisOutcome {
	if req.Empty() {
		return Failure(ErrInvalidInput, "nothing to analyze: text, image, and audio are all empty")
	}

	modelName := g.standardModel
	if req.UseDeepMode {
		modelName = g.deepModel
	}

	parts := []llms.ContentPart{llms.TextPart(buildPrompt(req))}
	if req.Image != nil && len(req.Image.Bytes) > 0 {
		parts = append(parts, llms.BinaryPart(req.Image.MimeType, req.Image.Bytes))
	}
	if req.Audio != nil && len(req.Audio.Bytes) > 0 {
		parts = append(parts, llms.BinaryPart(req.Audio.MimeType, req.Audio.Bytes))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	resp, err := g.model.GenerateContent(callCtx,
		[]llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}},
		llms.WithModel(modelName),
		llms.WithJSONMode(),
	)
	if err != nil {
		return classifyCallError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Failure(ErrMalformedResponse, "model returned no choices")
	}

	result, err := parseResult(resp.Choices[0].Content)
	if err != nil {
		slog.Warn("analysis response failed validation", "model", modelName, "error", err)
		return Failure(ErrMalformedResponse, "%v", err)
	}

	return Success(result)
}

// buildPrompt renders the analysis instructions. The schema wording must stay
// aligned with parseResult.
func buildPrompt(req AnalysisRequest) string {
	var b strings.Builder
	b.WriteString("You are a communication analyst. Decode the tone of the chat message below.\n")
	b.WriteString("Reply ONLY with a JSON object of this exact shape:\n")
	b.WriteString(`{"riskLevel":"Safe"|"Caution"|"Conflict","confidenceScore":0-100,` +
		`"literalMeaning":"...","emotionalSubtext":"...","suggestedReplies":["...","..."]}` + "\n")
	fmt.Fprintf(&b, "Write every string value in %s.\n", lang.Name(req.TargetLanguage))
	if req.Audio != nil && len(req.Audio.Bytes) > 0 {
		b.WriteString("An audio recording of the message is attached; analyze its tone of voice as well.\n")
	}
	if req.Image != nil && len(req.Image.Bytes) > 0 {
		b.WriteString("A screenshot of the conversation is attached; use it as context.\n")
	}
	if req.RawText != "" {
		fmt.Fprintf(&b, "\nMessage:\n%s\n", req.RawText)
	}
	return b.String()
}

// parseResult decodes and validates the model's JSON reply.
func parseResult(content string) (*AnalysisResult, error) {
	// Some models wrap JSON in markdown fences despite JSON mode.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result AnalysisResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}

	if !result.RiskLevel.Valid() {
		return nil, fmt.Errorf("unknown risk level %q", result.RiskLevel)
	}
	if result.ConfidenceScore < 0 || result.ConfidenceScore > 100 {
		return nil, fmt.Errorf("confidence score %d out of range", result.ConfidenceScore)
	}
	if len(result.SuggestedReplies) == 0 {
		return nil, errors.New("response contains no suggested replies")
	}
	return &result, nil
}

// classifyCallError maps a model call failure to the error taxonomy. Errors
// that never reached the API are transport failures; everything else is an
// upstream failure.
func classifyCallError(err error) AnalysisOutcome {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Failure(ErrTransport, "analysis call did not complete: %v", err)
	case errors.As(err, &netErr):
		return Failure(ErrTransport, "network error reaching analysis service: %v", err)
	default:
		return Failure(ErrUpstream, "analysis service error: %v", err)
	}
}
