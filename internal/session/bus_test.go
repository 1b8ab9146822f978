package session

import (
	"fmt"
	"testing"

	"github.com/datalens/collab-service/internal/domain"
)

func TestEventWindow_EvictsOldestFirst(t *testing.T) {
	w := newEventWindow(3)
	for i := 0; i < 5; i++ {
		w.append(domain.CollaborationEvent{
			Kind:     domain.EventDataLoaded,
			AuthorID: fmt.Sprintf("u%d", i),
		})
	}

	got := w.snapshot()
	if len(got) != 3 {
		t.Fatalf("window size = %d, want 3", len(got))
	}
	if got[0].AuthorID != "u2" || got[2].AuthorID != "u4" {
		t.Fatalf("window contents wrong: %+v", got)
	}
}

func TestMessageLog_TailAndSnapshotAreCopies(t *testing.T) {
	var l messageLog
	for i := 0; i < 5; i++ {
		l.append(domain.ChatMessage{ID: fmt.Sprintf("m%d", i)})
	}

	tail := l.tail(2)
	if len(tail) != 2 || tail[0].ID != "m3" || tail[1].ID != "m4" {
		t.Fatalf("tail = %+v", tail)
	}
	if got := l.tail(10); len(got) != 5 {
		t.Fatalf("oversized tail = %d, want all 5", len(got))
	}
	if got := l.tail(0); got != nil {
		t.Fatalf("zero tail = %+v, want nil", got)
	}

	snap := l.snapshot()
	snap[0].ID = "mutated"
	if l.snapshot()[0].ID != "m0" {
		t.Fatal("snapshot must not alias internal storage")
	}

	l.reset()
	if len(l.snapshot()) != 0 {
		t.Fatal("reset must clear the log")
	}
}
