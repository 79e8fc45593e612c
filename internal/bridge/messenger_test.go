package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// echoTransport resolves each written request with a reply that embeds the
// request's text, after an optional delay.
type echoTransport struct {
	m     *Messenger
	delay time.Duration
}

func (e *echoTransport) write(v any) error {
	req, ok := v.(Request)
	if !ok {
		return fmt.Errorf("unexpected message type %T", v)
	}
	go func() {
		if e.delay > 0 {
			time.Sleep(e.delay)
		}
		e.m.Resolve(Reply{ID: req.ID, Success: true, Language: req.Text})
	}()
	return nil
}

func TestMessenger_ConcurrentRequestsRouteToOriginators(t *testing.T) {
	transport := &echoTransport{}
	m := NewMessenger(func(v any) error { return transport.write(v) }, time.Second)
	transport.m = m

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			marker := fmt.Sprintf("req-%d", i)
			reply := m.Send(context.Background(), Request{Action: ActionGetLanguage, Text: marker})
			if !reply.Success {
				errs <- fmt.Errorf("request %d failed: %s", i, reply.Error)
				return
			}
			if reply.Language != marker {
				errs <- fmt.Errorf("request %d got reply for %q", i, reply.Language)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if count := m.PendingCount(); count != 0 {
		t.Errorf("pending count after all replies = %d; want 0", count)
	}
}

func TestMessenger_TimeoutSynthesizesFailure(t *testing.T) {
	// Transport that never replies.
	m := NewMessenger(func(v any) error { return nil }, 50*time.Millisecond)

	start := time.Now()
	reply := m.Send(context.Background(), Request{Action: ActionAnalyzeText, Text: "hi"})
	elapsed := time.Since(start)

	if reply.Success {
		t.Fatal("timed-out request reported success")
	}
	if reply.Error == "" {
		t.Error("timed-out request carries no error message")
	}
	if elapsed > time.Second {
		t.Errorf("timeout took %s; want ~50ms", elapsed)
	}
	if count := m.PendingCount(); count != 0 {
		t.Errorf("pending count after timeout = %d; want 0", count)
	}
}

func TestMessenger_WriteFailureSynthesizesFailure(t *testing.T) {
	m := NewMessenger(func(v any) error { return errors.New("broken pipe") }, time.Second)

	reply := m.Send(context.Background(), Request{Action: ActionAnalyzeText, Text: "hi"})
	if reply.Success {
		t.Fatal("request over broken transport reported success")
	}
	if !strings.Contains(reply.Error, "broken pipe") {
		t.Errorf("error %q does not mention write failure", reply.Error)
	}
	if count := m.PendingCount(); count != 0 {
		t.Errorf("pending count after write failure = %d; want 0", count)
	}
}

func TestMessenger_CancellationSynthesizesFailure(t *testing.T) {
	m := NewMessenger(func(v any) error { return nil }, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	reply := m.Send(ctx, Request{Action: ActionAnalyzeText, Text: "hi"})
	if reply.Success {
		t.Fatal("cancelled request reported success")
	}
	if count := m.PendingCount(); count != 0 {
		t.Errorf("pending count after cancellation = %d; want 0", count)
	}
}

func TestMessenger_DuplicateAndUnknownRepliesDropped(t *testing.T) {
	var captured Request
	m := NewMessenger(func(v any) error {
		captured = v.(Request)
		return nil
	}, time.Second)

	done := make(chan Reply, 1)
	go func() {
		done <- m.Send(context.Background(), Request{Action: ActionGetLanguage})
	}()

	// Wait for the request to be registered.
	deadline := time.Now().Add(time.Second)
	for m.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if !m.Resolve(Reply{ID: captured.ID, Success: true, Language: "en"}) {
		t.Error("first Resolve found no pending request")
	}
	if m.Resolve(Reply{ID: captured.ID, Success: true, Language: "fr"}) {
		t.Error("duplicate Resolve was delivered; want dropped")
	}
	if m.Resolve(Reply{ID: "no-such-id", Success: true}) {
		t.Error("Resolve for unknown id was delivered; want dropped")
	}

	reply := <-done
	if reply.Language != "en" {
		t.Errorf("caller saw %q; want the first reply \"en\"", reply.Language)
	}
}

func TestMessenger_CorrelationIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	var mu sync.Mutex
	m := NewMessenger(func(v any) error {
		req := v.(Request)
		mu.Lock()
		if seen[req.ID] {
			mu.Unlock()
			return fmt.Errorf("correlation id %s reused", req.ID)
		}
		seen[req.ID] = true
		mu.Unlock()
		return nil
	}, 10*time.Millisecond)

	for i := 0; i < 100; i++ {
		reply := m.Send(context.Background(), Request{Action: ActionGetLanguage})
		if reply.Success {
			t.Fatal("unexpected success from silent transport")
		}
		if strings.Contains(reply.Error, "reused") {
			t.Fatal(reply.Error)
		}
	}
}

func TestRequestEnvelope_WireShape(t *testing.T) {
	data, err := json.Marshal(Request{
		ID:             "abc",
		Action:         ActionAnalyzeText,
		Text:           "hello",
		UseDeepMode:    true,
		TargetLanguage: "en",
		AudioBase64:    "AAAA",
		AudioMimeType:  "audio/webm",
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	// Field names are the wire contract; independently-built contexts
	// depend on them byte-for-byte.
	for _, field := range []string{`"action":"ANALYZE_TEXT"`, `"text":"hello"`, `"useDeepMode":true`, `"targetLanguage":"en"`, `"audioBase64":"AAAA"`, `"audioMimeType":"audio/webm"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("wire envelope missing %s: %s", field, data)
		}
	}

	// Absent binary payloads are omitted entirely.
	data, _ = json.Marshal(Request{ID: "x", Action: ActionAnalyzeText, Text: "hi", TargetLanguage: "en"})
	if strings.Contains(string(data), "imageBase64") || strings.Contains(string(data), "audioBase64") {
		t.Errorf("empty attachments not omitted: %s", data)
	}
}
