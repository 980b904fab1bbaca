package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListEvents(t *testing.T) {
	s := newTestStore(t)

	for _, e := range []*Event{
		{App: "alpha", Outcome: "updated", OldVersion: "1.0", NewVersion: "1.1", Trigger: "sweep"},
		{App: "beta", Outcome: "skipped", Detail: "hash-match", Trigger: "sweep"},
		{App: "alpha", Outcome: "failed", Detail: "network error", Trigger: "wizard"},
	} {
		if err := s.RecordEvent(e); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	events, err := s.ListEvents(10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Newest first.
	if events[0].App != "alpha" || events[0].Outcome != "failed" {
		t.Errorf("unexpected first event: %+v", events[0])
	}

	alpha, err := s.EventsForApp("alpha", 10)
	if err != nil {
		t.Fatalf("EventsForApp: %v", err)
	}
	if len(alpha) != 2 {
		t.Errorf("expected 2 alpha events, got %d", len(alpha))
	}
}

func TestSweepSummary(t *testing.T) {
	s := newTestStore(t)

	if sw, err := s.LastSweep(); err != nil || sw != nil {
		t.Fatalf("expected no sweep yet, got %+v, %v", sw, err)
	}

	start := time.Now().Add(-time.Minute)
	if err := s.RecordSweep(&Sweep{StartedAt: start, FinishedAt: time.Now(), Checked: 5, Updated: 2, Failed: 1}); err != nil {
		t.Fatalf("RecordSweep: %v", err)
	}

	sw, err := s.LastSweep()
	if err != nil {
		t.Fatalf("LastSweep: %v", err)
	}
	if sw == nil || sw.Checked != 5 || sw.Updated != 2 || sw.Failed != 1 {
		t.Errorf("unexpected sweep: %+v", sw)
	}
}
