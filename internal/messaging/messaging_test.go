package messaging

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/taskboard/project/internal/contracts"
)

func TestSubjects_ShardTokenStable(t *testing.T) {
	a := UserEventSubject("u1")
	b := UserEventSubject("u1")
	if a != b {
		t.Fatalf("subject not stable: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "board.event.") || !strings.HasSuffix(a, ".user.u1") {
		t.Fatalf("unexpected subject: %q", a)
	}
	if got := UserEventWildcard("u1"); got != "board.event.*.user.u1" {
		t.Fatalf("unexpected wildcard: %q", got)
	}
	if got := TaskEventWildcard("t1"); got != "board.event.*.task.t1" {
		t.Fatalf("unexpected wildcard: %q", got)
	}
}

func TestEventPublisher_ToUsersDeduplicates(t *testing.T) {
	var subjects []string
	p := NewEventPublisher(func(subject string, payload []byte) error {
		subjects = append(subjects, subject)
		return nil
	})
	p.Now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }

	event := contracts.Event{Name: contracts.EventTaskUpdated, TaskID: "t1"}
	if err := p.ToUsers(event, []string{"u1", "u2", "u1", ""}); err != nil {
		t.Fatalf("ToUsers error: %v", err)
	}
	if len(subjects) != 2 {
		t.Fatalf("expected 2 publishes, got %d: %v", len(subjects), subjects)
	}
	if subjects[0] != UserEventSubject("u1") || subjects[1] != UserEventSubject("u2") {
		t.Fatalf("unexpected subjects: %v", subjects)
	}
}

func TestEventPublisher_StampsEmittedAt(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	var payload []byte
	p := NewEventPublisher(func(_ string, b []byte) error {
		payload = b
		return nil
	})
	p.Now = func() time.Time { return now }

	if err := p.ToTask(contracts.Event{Name: contracts.EventCommentAdded, TaskID: "t1"}, "t1"); err != nil {
		t.Fatalf("ToTask error: %v", err)
	}
	var decoded contracts.Event
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !decoded.EmittedAt.Equal(now) {
		t.Fatalf("expected EmittedAt %v, got %v", now, decoded.EmittedAt)
	}
}
