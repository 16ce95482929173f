package state

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/docstore"
	"github.com/friendsincode/showglass/internal/events"
	"github.com/friendsincode/showglass/internal/media"
)

func testManager(t *testing.T, bus *events.Bus) (*Manager, string) {
	t.Helper()
	animations := t.TempDir()
	videos := t.TempDir()
	for _, name := range []string{"anim1.html", "anim2.html"} {
		if err := os.WriteFile(filepath.Join(animations, name), []byte("<html></html>"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(videos, "clip.mp4"), []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := media.NewLibrary(animations, videos, zerolog.Nop())
	store, err := docstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := NewManager(lib, store, bus, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return mgr, animations
}

func TestRequestChangeUpdatesSnapshot(t *testing.T) {
	mgr, _ := testManager(t, nil)

	prev, cur, err := mgr.RequestChange("anim1.html")
	if err != nil {
		t.Fatalf("request change: %v", err)
	}
	if prev.Media != nil {
		t.Fatalf("expected empty previous state, got %+v", prev.Media)
	}
	if cur.Media == nil || cur.Media.Name != "anim1.html" {
		t.Fatalf("unexpected current: %+v", cur.Media)
	}

	snap := mgr.Snapshot()
	if snap.Media == nil || snap.Media.Name != "anim1.html" {
		t.Fatalf("snapshot does not reflect change: %+v", snap.Media)
	}
}

func TestRequestChangeUnknownDoesNotMutate(t *testing.T) {
	mgr, _ := testManager(t, nil)
	if _, _, err := mgr.RequestChange("anim1.html"); err != nil {
		t.Fatal(err)
	}

	_, _, err := mgr.RequestChange("nope.html")
	var nf *media.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if len(nf.Known) == 0 {
		t.Fatal("expected known set in error")
	}

	if snap := mgr.Snapshot(); snap.Media == nil || snap.Media.Name != "anim1.html" {
		t.Fatalf("state mutated by rejected trigger: %+v", snap.Media)
	}
}

func TestRetriggerRefreshesTimestamp(t *testing.T) {
	mgr, _ := testManager(t, nil)

	_, first, err := mgr.RequestChange("anim1.html")
	if err != nil {
		t.Fatal(err)
	}
	prev, second, err := mgr.RequestChange("anim1.html")
	if err != nil {
		t.Fatal(err)
	}
	if prev.Media == nil || prev.Media.Name != "anim1.html" {
		t.Fatalf("unexpected previous on retrigger: %+v", prev.Media)
	}
	if second.ChangedAt.Before(first.ChangedAt) {
		t.Fatal("retrigger must not move timestamp backwards")
	}
}

func TestRequestStopClearsCurrent(t *testing.T) {
	mgr, _ := testManager(t, nil)
	if _, _, err := mgr.RequestChange("clip.mp4"); err != nil {
		t.Fatal(err)
	}

	prev, cur, err := mgr.RequestStop()
	if err != nil {
		t.Fatal(err)
	}
	if prev.Media == nil || prev.Media.Name != "clip.mp4" {
		t.Fatalf("unexpected previous: %+v", prev.Media)
	}
	if cur.Media != nil {
		t.Fatalf("expected cleared state, got %+v", cur.Media)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	animations := t.TempDir()
	if err := os.WriteFile(filepath.Join(animations, "anim1.html"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib := media.NewLibrary(animations, t.TempDir(), zerolog.Nop())
	dataDir := t.TempDir()

	store, err := docstore.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := NewManager(lib, store, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := mgr.RequestChange("anim1.html"); err != nil {
		t.Fatal(err)
	}

	store2, err := docstore.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	mgr2, err := NewManager(lib, store2, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if snap := mgr2.Snapshot(); snap.Media == nil || snap.Media.Name != "anim1.html" {
		t.Fatalf("state lost across restart: %+v", snap.Media)
	}
}

func TestBootWithVanishedMediaDegradesToEmpty(t *testing.T) {
	animations := t.TempDir()
	path := filepath.Join(animations, "anim1.html")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib := media.NewLibrary(animations, t.TempDir(), zerolog.Nop())
	dataDir := t.TempDir()

	store, err := docstore.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := NewManager(lib, store, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := mgr.RequestChange("anim1.html"); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	store2, err := docstore.New(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	mgr2, err := NewManager(lib, store2, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("boot with vanished media should not fail: %v", err)
	}
	if snap := mgr2.Snapshot(); snap.Media != nil {
		t.Fatalf("expected empty state, got %+v", snap.Media)
	}
}

func TestConcurrentTriggersResolveToOneState(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventMediaChanged)
	mgr, _ := testManager(t, bus)

	var wg sync.WaitGroup
	names := []string{"anim1.html", "anim2.html"}
	accepted := make([]int, 2)
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if _, _, err := mgr.RequestChange(name); err == nil {
				accepted[i] = 1
			}
		}(i, name)
	}
	wg.Wait()

	if accepted[0]+accepted[1] != 2 {
		t.Fatalf("expected both triggers accepted, got %v", accepted)
	}

	// Exactly one broadcast per accepted write.
	published := 0
	for {
		select {
		case <-sub:
			published++
			continue
		default:
		}
		break
	}
	if published != 2 {
		t.Fatalf("expected 2 media change events, got %d", published)
	}

	final := mgr.Snapshot()
	if final.Media == nil {
		t.Fatal("expected a final current media")
	}
	if final.Media.Name != "anim1.html" && final.Media.Name != "anim2.html" {
		t.Fatalf("unexpected final state: %+v", final.Media)
	}
}

func TestRefreshPage(t *testing.T) {
	markup := &media.Ref{Name: "a.html", Kind: media.KindMarkup}
	markup2 := &media.Ref{Name: "b.html", Kind: media.KindMarkup}
	video := &media.Ref{Name: "c.mp4", Kind: media.KindVideo}

	cases := []struct {
		name     string
		prev     Current
		cur      Current
		expected bool
	}{
		{"idle to markup", Current{}, Current{Media: markup}, true},
		{"markup to markup", Current{Media: markup}, Current{Media: markup2}, false},
		{"markup to video", Current{Media: markup}, Current{Media: video}, true},
		{"video to markup", Current{Media: video}, Current{Media: markup}, true},
		{"to idle", Current{Media: markup}, Current{}, true},
	}
	for _, tc := range cases {
		if got := RefreshPage(tc.prev, tc.cur); got != tc.expected {
			t.Errorf("%s: RefreshPage = %v, want %v", tc.name, got, tc.expected)
		}
	}
}
