package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sschepis/oboto/internal/events"
)

func idSeq() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("t-%d", n)
	}
}

func TestManager_Spawn_RunsToCompletion(t *testing.T) {
	bus := events.New()
	m := NewManager(bus, 3, nil, idSeq())

	rec := m.Spawn(context.Background(), "desc", "query", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		report(50, "halfway")
		return "done", nil
	})

	final, err := m.WaitFor(context.Background(), rec.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", final.Status)
	}
	if final.Result != "done" {
		t.Errorf("Result = %q", final.Result)
	}
	if len(final.Output) != 1 || !strings.HasSuffix(final.Output[0], "halfway") {
		t.Errorf("Output = %v, want one line stamped and ending in %q", final.Output, "halfway")
	}
	if !strings.HasPrefix(final.Output[0], "[") {
		t.Errorf("Output[0] = %q, want a leading wall-clock stamp", final.Output[0])
	}
}

func TestManager_Spawn_Failure(t *testing.T) {
	m := NewManager(events.New(), 3, nil, idSeq())
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		return "", errors.New("boom")
	})
	final, _ := m.WaitFor(context.Background(), rec.ID, 5*time.Millisecond)
	if final.Status != StatusFailed || final.Err != "boom" {
		t.Errorf("got %+v", final)
	}
}

func TestManager_Cancel_StopsTask(t *testing.T) {
	m := NewManager(events.New(), 3, nil, idSeq())
	started := make(chan struct{})
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	<-started
	if !m.Cancel(rec.ID) {
		t.Fatal("expected Cancel to succeed on a running task")
	}
	got, _ := m.Get(rec.ID)
	if got.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
}

func TestManager_Cancel_TerminalIsNoOp(t *testing.T) {
	m := NewManager(events.New(), 3, nil, idSeq())
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		return "ok", nil
	})
	m.WaitFor(context.Background(), rec.ID, 5*time.Millisecond)
	if m.Cancel(rec.ID) {
		t.Error("cancelling a completed task should be a no-op")
	}
}

func TestManager_OutputLog_CapsAtMaxLines(t *testing.T) {
	m := NewManager(events.New(), 3, nil, idSeq())
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		for i := 0; i < maxOutputLines+50; i++ {
			report(0, fmt.Sprintf("line-%d", i))
		}
		return "done", nil
	})
	final, _ := m.WaitFor(context.Background(), rec.ID, 5*time.Millisecond)
	if len(final.Output) != maxOutputLines {
		t.Errorf("Output length = %d, want %d", len(final.Output), maxOutputLines)
	}
	if !strings.HasSuffix(final.Output[len(final.Output)-1], fmt.Sprintf("line-%d", maxOutputLines+49)) {
		t.Errorf("expected most recent lines retained, got tail %q", final.Output[len(final.Output)-1])
	}
}

func TestManager_Progress_ClampedToRange(t *testing.T) {
	m := NewManager(events.New(), 3, nil, idSeq())
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		report(150, "over")
		report(-10, "under")
		<-ctx.Done()
		return "", ctx.Err()
	})

	time.Sleep(5 * time.Millisecond)
	got, _ := m.Get(rec.ID)
	if got.Progress != 0 {
		t.Errorf("Progress = %d, want clamped to 0 (last write wins)", got.Progress)
	}
	m.Cancel(rec.ID)
}

func TestManager_GetCompletedUnread_MarkRead(t *testing.T) {
	m := NewManager(events.New(), 3, nil, idSeq())
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		return "ok", nil
	})
	m.WaitFor(context.Background(), rec.ID, 5*time.Millisecond)

	unread := m.GetCompletedUnread()
	if len(unread) != 1 || unread[0].ID != rec.ID {
		t.Fatalf("unread = %+v", unread)
	}

	m.MarkRead(rec.ID)
	if unread2 := m.GetCompletedUnread(); len(unread2) != 0 {
		t.Errorf("expected no unread after MarkRead, got %+v", unread2)
	}
}

func TestManager_CleanupOld_RemovesOldTerminal(t *testing.T) {
	m := NewManager(events.New(), 3, nil, idSeq())
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		return "ok", nil
	})
	m.WaitFor(context.Background(), rec.ID, 5*time.Millisecond)

	removed := m.CleanupOld(-time.Hour) // cutoff in the future relative to CompletedAt
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := m.Get(rec.ID); ok {
		t.Error("expected task removed")
	}
}

func TestManager_PublishesLifecycleEvents(t *testing.T) {
	bus := events.New()
	var seen []string
	bus.Subscribe(events.TopicTaskSpawned, func(any) { seen = append(seen, "spawned") })
	bus.Subscribe(events.TopicTaskStarted, func(any) { seen = append(seen, "started") })
	bus.Subscribe(events.TopicTaskCompleted, func(any) { seen = append(seen, "completed") })

	m := NewManager(bus, 3, nil, idSeq())
	rec := m.Spawn(context.Background(), "d", "q", "", 0, func(ctx context.Context, report func(int, string)) (string, error) {
		return "ok", nil
	})
	m.WaitFor(context.Background(), rec.ID, 5*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if len(seen) != 3 || seen[0] != "spawned" || seen[1] != "started" || seen[2] != "completed" {
		t.Errorf("seen = %v", seen)
	}
}
