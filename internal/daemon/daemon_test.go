package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/neurosense/decoder/internal/bridge"
	"github.com/neurosense/decoder/internal/config"
	"github.com/neurosense/decoder/internal/decoder"
	"github.com/neurosense/decoder/internal/observer"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, req decoder.AnalysisRequest) decoder.AnalysisOutcome {
	if req.RawText == "" {
		return decoder.Failure(decoder.ErrInvalidInput, "no text")
	}
	return decoder.Success(&decoder.AnalysisResult{
		RiskLevel:        decoder.RiskSafe,
		ConfidenceScore:  80,
		LiteralMeaning:   req.RawText,
		EmotionalSubtext: "calm",
		SuggestedReplies: []string{"ok"},
	})
}

func startDaemon(t *testing.T) *Daemon {
	t.Helper()
	d, err := New(Config{
		HTTPAddr:        "127.0.0.1:0",
		DataDir:         t.TempDir(),
		QuietWindow:     20 * time.Millisecond,
		FirstPartyHosts: []string{"neurosense.app"},
		Analyzer:        stubAnalyzer{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func dialDaemon(t *testing.T, d *Daemon) *bridge.Client {
	t.Helper()
	client, err := bridge.Dial(context.Background(), "ws://"+d.Addr()+"/__decoder/ws", 5*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDaemon_AnalyzeOverWebSocket(t *testing.T) {
	d := startDaemon(t)
	client := dialDaemon(t, d)

	reply := client.Send(context.Background(), bridge.Request{
		Action:         bridge.ActionAnalyzeText,
		Text:           "see you at 8",
		TargetLanguage: "en",
	})
	if !reply.Success {
		t.Fatalf("analyze failed: %s", reply.Error)
	}
	if reply.Data.LiteralMeaning != "see you at 8" {
		t.Errorf("unexpected data: %+v", reply.Data)
	}
}

func TestDaemon_ChatDetectionMountsOnce(t *testing.T) {
	d := startDaemon(t)
	client := dialDaemon(t, d)

	commands := make(chan bridge.Command, 8)
	client.OnCommand = func(cmd bridge.Command) { commands <- cmd }

	// Several mutation bursts on a chat host with an open conversation.
	for i := 0; i < 3; i++ {
		if err := client.Report(bridge.Event{
			Type:    bridge.EventMutation,
			Host:    "web.whatsapp.com",
			Path:    "/",
			Markers: map[string]bool{observer.MarkerComposeBox: true},
		}); err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		time.Sleep(60 * time.Millisecond)
	}

	select {
	case cmd := <-commands:
		if cmd.Type != bridge.CommandMount {
			t.Fatalf("command = %q; want mount", cmd.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mount command never arrived")
	}

	// Further detections must not remount.
	time.Sleep(150 * time.Millisecond)
	if len(commands) != 0 {
		t.Errorf("%d extra commands after mount; want 0", len(commands))
	}
	if d.Registry().Count() != 1 {
		t.Errorf("registry tracks %d documents; want 1", d.Registry().Count())
	}
}

func TestDaemon_ToggleTracksPanelState(t *testing.T) {
	d := startDaemon(t)
	client := dialDaemon(t, d)

	commands := make(chan bridge.Command, 1)
	client.OnCommand = func(cmd bridge.Command) { commands <- cmd }

	// Toggles before the overlay is mounted change nothing.
	if err := client.Report(bridge.Event{Type: bridge.EventToggle}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	if err := client.Report(bridge.Event{
		Type:    bridge.EventMutation,
		Host:    "web.whatsapp.com",
		Markers: map[string]bool{observer.MarkerComposeBox: true},
	}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	<-commands

	if err := client.Report(bridge.Event{Type: bridge.EventToggle}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	waitForPanelOpen(t, d, true)

	if err := client.Report(bridge.Event{Type: bridge.EventToggle}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	waitForPanelOpen(t, d, false)
}

func waitForPanelOpen(t *testing.T, d *Daemon, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, state := range d.Registry().Snapshot() {
			if state.Mounted && state.Open == want {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("panel open state never became %v: %v", want, d.Registry().Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemon_NonChatHostNeverMounts(t *testing.T) {
	d := startDaemon(t)
	client := dialDaemon(t, d)

	commands := make(chan bridge.Command, 4)
	client.OnCommand = func(cmd bridge.Command) { commands <- cmd }

	if err := client.Report(bridge.Event{
		Type: bridge.EventMutation,
		Host: "news.example.com",
		Path: "/articles/42",
	}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if len(commands) != 0 {
		t.Errorf("non-chat host produced %d commands", len(commands))
	}
}

func TestDaemon_FirstPartyHostGetsLandingMark(t *testing.T) {
	d := startDaemon(t)
	client := dialDaemon(t, d)

	commands := make(chan bridge.Command, 4)
	client.OnCommand = func(cmd bridge.Command) { commands <- cmd }

	if err := client.Report(bridge.Event{
		Type: bridge.EventMutation,
		Host: "www.neurosense.app",
		Path: "/",
	}); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	select {
	case cmd := <-commands:
		if cmd.Type != bridge.CommandLandingMark {
			t.Errorf("command = %q; want landingMark", cmd.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("landing mark never arrived")
	}
}

func TestDaemon_SessionEndReleasesState(t *testing.T) {
	d := startDaemon(t)
	client := dialDaemon(t, d)

	commands := make(chan bridge.Command, 1)
	client.OnCommand = func(cmd bridge.Command) { commands <- cmd }
	if err := client.Report(bridge.Event{
		Type:    bridge.EventMutation,
		Host:    "web.whatsapp.com",
		Markers: map[string]bool{observer.MarkerComposeBox: true},
	}); err != nil {
		t.Fatal(err)
	}
	<-commands

	client.Close()
	deadline := time.Now().Add(2 * time.Second)
	for d.Hub().SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Mount state is per document lifetime; a reconnect starts clean.
	deadline = time.Now().Add(2 * time.Second)
	for d.Registry().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry still tracks %d documents after disconnect", d.Registry().Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemon_HealthEndpoint(t *testing.T) {
	d := startDaemon(t)

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d; want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("health payload: %v", body)
	}
}

func TestFromEnv_CarriesRequestTimeout(t *testing.T) {
	cfg := FromEnv(config.Config{
		HTTPAddr:       "127.0.0.1:0",
		QuietWindow:    time.Second,
		RequestTimeout: 9 * time.Second,
	})
	if cfg.RequestTimeout != 9*time.Second {
		t.Errorf("RequestTimeout = %s; want 9s", cfg.RequestTimeout)
	}
	if cfg.QuietWindow != time.Second {
		t.Errorf("QuietWindow = %s; want 1s", cfg.QuietWindow)
	}
}

func TestNew_RequiresAnalyzerOrKey(t *testing.T) {
	_, err := New(Config{HTTPAddr: "127.0.0.1:0", DataDir: t.TempDir()})
	if err == nil {
		t.Error("New succeeded without analyzer or API key")
	}
}
