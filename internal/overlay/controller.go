package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/neurosense/decoder/internal/bridge"
	"github.com/neurosense/decoder/internal/decoder"
	"github.com/neurosense/decoder/internal/lang"
)

// Phase is the panel's lifecycle position. There are exactly three: idle,
// analyzing, and showing a result. Failures land back in idle with a generic
// user-facing message; the detailed cause goes to the log only.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAnalyzing Phase = "analyzing"
	PhaseResult    Phase = "result"
)

// GenericErrorMessage is the only failure text shown to the user. Raw
// upstream errors are noise at best and confusing at worst.
const GenericErrorMessage = "Something went wrong. Please try again."

// QuickAction is a one-tap preset that reframes the draft before analysis.
// Quick actions always run in deep mode.
type QuickAction string

const (
	QuickSarcasm     QuickAction = "sarcasm"
	QuickActionItems QuickAction = "action_items"
	QuickExplain     QuickAction = "explain"
)

// Instruction returns the framing text appended to the draft for this action.
func (a QuickAction) Instruction() string {
	switch a {
	case QuickSarcasm:
		return "Focus specifically on whether this message is sarcastic or ironic."
	case QuickActionItems:
		return "Extract the concrete action items this message is asking for."
	case QuickExplain:
		return "Explain in plain words what this message really means."
	default:
		return ""
	}
}

// Augment appends the action's instruction to the draft.
func (a QuickAction) Augment(draft string) string {
	instruction := a.Instruction()
	if instruction == "" {
		return draft
	}
	return draft + "\n\n" + instruction
}

var (
	// ErrEmptyDraft is returned when analysis is requested with no text.
	ErrEmptyDraft = errors.New("nothing to analyze")
	// ErrAnalysisInFlight is returned when an analysis is already running.
	// The panel drives one analysis at a time; it never cancels or stacks.
	ErrAnalysisInFlight = errors.New("analysis already in flight")
	// ErrUnknownAction is returned for a quick action the panel does not know.
	ErrUnknownAction = errors.New("unknown quick action")
)

// AnalyzeFunc sends one request across the context boundary and returns its
// reply envelope. Implementations must not panic and must always reply.
type AnalyzeFunc func(ctx context.Context, req bridge.Request) bridge.Reply

// InsertFunc places text into the host page's compose box, reporting whether
// a target was found. Failure is expected on hosts whose markup shifted.
type InsertFunc func(text string) bool

// Controller is the panel state machine. One controller per document; all
// methods are safe for concurrent use, though the UI drives them serially.
type Controller struct {
	analyzeFn AnalyzeFunc
	insertFn  InsertFunc
	prefs     bridge.PreferenceStore

	mu     sync.Mutex
	phase  Phase
	draft  string
	result *decoder.AnalysisResult
	errMsg string
}

// NewController creates an idle controller.
func NewController(analyze AnalyzeFunc, insert InsertFunc, prefs bridge.PreferenceStore) *Controller {
	return &Controller{
		analyzeFn: analyze,
		insertFn:  insert,
		prefs:     prefs,
		phase:     PhaseIdle,
	}
}

// SetDraft replaces the draft text. Editing the draft does not disturb a
// shown result; only a new analysis does.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// Draft returns the current draft text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Result returns the last successful analysis, or nil.
func (c *Controller) Result() *decoder.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// ErrorMessage returns the user-facing message from the last failure, or "".
// It is cleared when a new analysis starts.
func (c *Controller) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Analyze runs the draft through the gateway. It blocks until the reply
// envelope arrives; the transport guarantees one within its timeout. On
// failure the panel returns to idle with the generic message, never an
// upstream error string.
func (c *Controller) Analyze(ctx context.Context, deep bool) error {
	return c.run(ctx, func(draft string) (string, bool) { return draft, deep })
}

// QuickAnalyze runs the draft through a quick-action preset. Presets always
// force deep mode.
func (c *Controller) QuickAnalyze(ctx context.Context, action QuickAction) error {
	if action.Instruction() == "" {
		return ErrUnknownAction
	}
	return c.run(ctx, func(draft string) (string, bool) { return action.Augment(draft), true })
}

func (c *Controller) run(ctx context.Context, shape func(draft string) (string, bool)) error {
	c.mu.Lock()
	if c.phase == PhaseAnalyzing {
		c.mu.Unlock()
		return ErrAnalysisInFlight
	}
	if c.draft == "" {
		c.mu.Unlock()
		return ErrEmptyDraft
	}
	text, deep := shape(c.draft)
	c.phase = PhaseAnalyzing
	c.errMsg = ""
	c.mu.Unlock()

	reply := c.analyzeFn(ctx, bridge.Request{
		Action:         bridge.ActionAnalyzeText,
		Text:           text,
		UseDeepMode:    deep,
		TargetLanguage: string(c.prefs.Language()),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !reply.Success || reply.Data == nil {
		slog.Warn("analysis failed, returning panel to idle", "error", reply.Error)
		c.phase = PhaseIdle
		c.result = nil
		c.errMsg = GenericErrorMessage
		return nil
	}
	c.phase = PhaseResult
	c.result = reply.Data
	return nil
}

// InsertReply pushes the indexed suggested reply into the host compose box.
// A missing result, bad index, or failed insertion is non-fatal: the result
// stays on screen and the miss is logged.
func (c *Controller) InsertReply(index int) bool {
	c.mu.Lock()
	result := c.result
	c.mu.Unlock()

	if result == nil || index < 0 || index >= len(result.SuggestedReplies) {
		return false
	}
	text := result.SuggestedReplies[index]
	if c.insertFn == nil || !c.insertFn(text) {
		slog.Warn("could not insert reply into compose box", "index", index)
		return false
	}
	return true
}

// Language returns the persisted target language.
func (c *Controller) Language() lang.Code {
	return c.prefs.Language()
}

// SetLanguage persists a new target language for future analyses.
func (c *Controller) SetLanguage(code lang.Code) error {
	return c.prefs.SetLanguage(code)
}

// Dismiss clears a shown result or error and returns the panel to idle.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseAnalyzing {
		return
	}
	c.phase = PhaseIdle
	c.result = nil
	c.errMsg = ""
}
