package observer

import (
	"fmt"
	"strings"
)

// Marker names the injected sentinel reports. These must stay in sync with
// the selector checks in the overlay bootstrap script.
const (
	// MarkerComposeBox is present when the host shows an editable compose
	// field, the strongest signal that a conversation is open.
	MarkerComposeBox = "composeBox"
	// MarkerConversationPane is present when a conversation container is
	// rendered (weaker signal, used alongside path checks).
	MarkerConversationPane = "conversationPane"
)

// MarkerProbe matches when the named structural marker is present.
func MarkerProbe(marker string) Probe {
	return func(state DocumentState) (bool, error) {
		if state.Markers == nil {
			return false, fmt.Errorf("no markers reported")
		}
		return state.Markers[marker], nil
	}
}

// PathPrefixProbe matches when the document path starts with prefix.
func PathPrefixProbe(prefix string) Probe {
	return func(state DocumentState) (bool, error) {
		return strings.HasPrefix(state.Path, prefix), nil
	}
}

// AllOf matches when every probe matches.
func AllOf(probes ...Probe) Probe {
	return func(state DocumentState) (bool, error) {
		for _, p := range probes {
			ok, err := p(state)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// DefaultRules covers the chat hosts the decoder knows how to attach to.
// Ordered: the compose-box signal is checked before pure path heuristics.
func DefaultRules() []MatchRule {
	return []MatchRule{
		{
			Name:        "whatsapp",
			HostPattern: "web.whatsapp.com",
			Probe:       MarkerProbe(MarkerComposeBox),
		},
		{
			Name:        "messenger",
			HostPattern: "messenger.com",
			Probe:       MarkerProbe(MarkerComposeBox),
		},
		{
			Name:        "instagram",
			HostPattern: "instagram.com",
			Probe:       AllOf(PathPrefixProbe("/direct/"), MarkerProbe(MarkerConversationPane)),
		},
		{
			Name:        "discord",
			HostPattern: "discord.com",
			Probe:       PathPrefixProbe("/channels/"),
		},
	}
}
