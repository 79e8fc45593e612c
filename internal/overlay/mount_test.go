package overlay

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_MountIsIdempotent(t *testing.T) {
	r := NewRegistry()

	if !r.Mount("doc-1") {
		t.Fatal("first Mount returned false")
	}
	for i := 0; i < 5; i++ {
		if r.Mount("doc-1") {
			t.Fatal("repeated Mount returned true")
		}
	}
	if !r.State("doc-1").Mounted {
		t.Error("document not marked mounted")
	}
}

func TestRegistry_MountConcurrentSingleWinner(t *testing.T) {
	r := NewRegistry()

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Mount("doc-1") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("%d concurrent mounts won; want exactly 1", got)
	}
}

func TestRegistry_DocumentsIndependent(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < 3; i++ {
		doc := fmt.Sprintf("doc-%d", i)
		if !r.Mount(doc) {
			t.Errorf("first mount of %s returned false", doc)
		}
	}
	if r.Count() != 3 {
		t.Errorf("Count = %d; want 3", r.Count())
	}
}

func TestRegistry_ToggleOpen(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.ToggleOpen("doc-1"); ok {
		t.Error("ToggleOpen succeeded on an unmounted document")
	}

	r.Mount("doc-1")
	open, ok := r.ToggleOpen("doc-1")
	if !ok || !open {
		t.Errorf("first toggle = (%v, %v); want (true, true)", open, ok)
	}
	open, ok = r.ToggleOpen("doc-1")
	if !ok || open {
		t.Errorf("second toggle = (%v, %v); want (false, true)", open, ok)
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()

	r.Mount("doc-1")
	r.Mount("doc-2")
	r.ToggleOpen("doc-2")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d documents; want 2", len(snap))
	}
	if snap["doc-1"].Open || !snap["doc-2"].Open {
		t.Errorf("open states = %v / %v; want closed / open", snap["doc-1"].Open, snap["doc-2"].Open)
	}

	// The snapshot is a copy; mutating the registry afterwards must not
	// show through.
	r.ToggleOpen("doc-2")
	if !snap["doc-2"].Open {
		t.Error("snapshot changed after the fact")
	}
}

func TestRegistry_ForgetResetsDocument(t *testing.T) {
	r := NewRegistry()

	r.Mount("doc-1")
	r.Forget("doc-1")

	if r.State("doc-1").Mounted {
		t.Error("forgotten document still mounted")
	}
	// A reloaded page mounts from scratch.
	if !r.Mount("doc-1") {
		t.Error("mount after Forget returned false")
	}
}
