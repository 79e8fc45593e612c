// Package bridge implements the cross-context protocol between the sandboxed
// page context and the privileged daemon context. The two sides share no
// memory; everything crosses as envelopes over a websocket, correlated by id,
// with exactly one reply per request. Errors never cross raw; they are
// flattened into the failure envelope before leaving the privileged side.
package bridge

import (
	"github.com/neurosense/decoder/internal/decoder"
)

// Request actions understood by the privileged side.
const (
	// ActionAnalyzeText asks the daemon to run the analysis gateway.
	ActionAnalyzeText = "ANALYZE_TEXT"
	// ActionGetLanguage reads the persisted language preference.
	ActionGetLanguage = "GET_LANGUAGE"
	// ActionSetLanguage writes the language preference.
	ActionSetLanguage = "SET_LANGUAGE"
)

// Event types reported by the sandboxed side.
const (
	// EventMutation is a raw structural-change snapshot of the host document.
	EventMutation = "mutation"
	// EventToggle reports that the panel was flipped between open and closed.
	EventToggle = "toggle"
)

// Command types pushed to the sandboxed side.
const (
	// CommandMount tells the page to attach the overlay.
	CommandMount = "mount"
	// CommandLandingMark tells the page to set the first-party installed marker.
	CommandLandingMark = "landingMark"
)

// Request is the sandbox-to-privileged request envelope. Binary payloads are
// carried base64-encoded because the envelope must survive JSON transport.
// This shape is the wire contract; field names are byte-stable.
type Request struct {
	ID             string `json:"id"`
	Action         string `json:"action"`
	Text           string `json:"text"`
	UseDeepMode    bool   `json:"useDeepMode"`
	TargetLanguage string `json:"targetLanguage"`
	ImageBase64    string `json:"imageBase64,omitempty"`
	ImageMimeType  string `json:"imageMimeType,omitempty"`
	AudioBase64    string `json:"audioBase64,omitempty"`
	AudioMimeType  string `json:"audioMimeType,omitempty"`
}

// Reply is the privileged-to-sandbox reply envelope. Exactly one Reply is
// produced per Request, success or failure.
type Reply struct {
	ID       string                  `json:"id"`
	Success  bool                    `json:"success"`
	Data     *decoder.AnalysisResult `json:"data,omitempty"`
	Language string                  `json:"language,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// Event is a sandbox-to-privileged notification that expects no reply.
type Event struct {
	Type    string          `json:"type"`
	Host    string          `json:"host,omitempty"`
	Path    string          `json:"path,omitempty"`
	Markers map[string]bool `json:"markers,omitempty"`
}

// Command is a privileged-to-sandbox instruction that expects no reply.
type Command struct {
	Type string `json:"type"`
}

// failureReply builds a failure envelope for a request id.
func failureReply(id, message string) Reply {
	return Reply{ID: id, Success: false, Error: message}
}
