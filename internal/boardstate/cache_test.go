package boardstate

import (
	"errors"
	"testing"
	"time"

	"github.com/taskboard/project/internal/contracts"
)

func task(id, title, status string) contracts.Task {
	return contracts.Task{ID: id, Title: title, Status: status, Priority: contracts.PriorityMedium}
}

func ids(tasks []contracts.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCache_PartitionInvariant(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	c.Upsert(task("t2", "two", contracts.StatusInProgress))
	c.Upsert(task("t3", "three", contracts.StatusTodo))
	c.Upsert(task("t4", "four", contracts.StatusDone))

	// Every task appears in exactly one column, and the columns together
	// hold the same set as the flat view.
	seen := map[string]int{}
	total := 0
	for _, column := range c.ByStatus() {
		for _, tk := range column {
			seen[tk.ID]++
			total++
		}
	}
	flat := c.Flat()
	if total != len(flat) {
		t.Fatalf("columns hold %d tasks, flat holds %d", total, len(flat))
	}
	for _, tk := range flat {
		if seen[tk.ID] != 1 {
			t.Fatalf("task %s appears %d times across columns", tk.ID, seen[tk.ID])
		}
	}
}

func TestCache_UpsertUnknownStatusFoldsIntoTodo(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusDone))
	c.Upsert(task("t2", "two", "archived"))

	got, ok := c.Get("t2")
	if !ok || got.Status != contracts.StatusTodo {
		t.Fatalf("unknown status not folded into todo: %+v", got)
	}

	// A malformed push must not leave a task visible in the flat view but
	// absent from every column.
	total := 0
	for _, column := range c.ByStatus() {
		total += len(column)
	}
	if flat := c.Flat(); total != len(flat) {
		t.Fatalf("columns hold %d tasks, flat holds %d", total, len(flat))
	}
	if !equalIDs(ids(c.ByStatus()[contracts.StatusTodo]), []string{"t2"}) {
		t.Fatalf("todo column: %v", ids(c.ByStatus()[contracts.StatusTodo]))
	}
}

func TestCache_PatchUnknownStatusFoldsIntoTodo(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusDone))

	bogus := "archived"
	patched, err := c.Patch("t1", TaskPatch{Status: &bogus})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if patched.Status != contracts.StatusTodo {
		t.Fatalf("status %q after patch", patched.Status)
	}
	if !equalIDs(ids(c.ByStatus()[contracts.StatusTodo]), []string{"t1"}) {
		t.Fatalf("todo column: %v", ids(c.ByStatus()[contracts.StatusTodo]))
	}
	if len(c.ByStatus()[contracts.StatusDone]) != 0 {
		t.Fatal("task still in done column")
	}
}

func TestCache_UpsertKeepsPositionWhenStatusUnchanged(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	c.Upsert(task("t2", "two", contracts.StatusTodo))
	c.Upsert(task("t3", "three", contracts.StatusTodo))

	c.Upsert(task("t2", "two renamed", contracts.StatusTodo))

	got := ids(c.ByStatus()[contracts.StatusTodo])
	if !equalIDs(got, []string{"t1", "t2", "t3"}) {
		t.Fatalf("column order changed: %v", got)
	}
	updated, _ := c.Get("t2")
	if updated.Title != "two renamed" {
		t.Fatalf("record not replaced: %+v", updated)
	}
}

func TestCache_UpsertStatusChangeMovesColumn(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	c.Upsert(task("t2", "two", contracts.StatusTodo))

	c.Upsert(task("t1", "one", contracts.StatusDone))

	byStatus := c.ByStatus()
	if got := ids(byStatus[contracts.StatusTodo]); !equalIDs(got, []string{"t2"}) {
		t.Fatalf("source column: %v", got)
	}
	if got := ids(byStatus[contracts.StatusDone]); !equalIDs(got, []string{"t1"}) {
		t.Fatalf("dest column: %v", got)
	}
}

func TestCache_PatchNeverErasesAbsentFields(t *testing.T) {
	c := NewCache()
	due := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	full := task("t1", "one", contracts.StatusTodo)
	full.Description = "keep me"
	full.DueDate = &due
	full.Assignees = []contracts.User{{ID: "u1", Name: "Alice"}}
	c.Upsert(full)

	title := "renamed"
	got, err := c.Patch("t1", TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("Patch error: %v", err)
	}
	if got.Title != "renamed" || got.Description != "keep me" {
		t.Fatalf("patch erased fields: %+v", got)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Fatalf("due date lost: %+v", got.DueDate)
	}
	if len(got.Assignees) != 1 {
		t.Fatalf("assignees lost: %+v", got.Assignees)
	}
}

func TestCache_PatchAssigneesAndTeamExclusive(t *testing.T) {
	c := NewCache()
	tk := task("t1", "one", contracts.StatusTodo)
	tk.Assignees = []contracts.User{{ID: "u1"}}
	c.Upsert(tk)

	got, err := c.Patch("t1", TaskPatch{Team: &contracts.Team{ID: "g1", Name: "Core"}})
	if err != nil {
		t.Fatalf("Patch error: %v", err)
	}
	if got.Assignees != nil {
		t.Fatalf("assignees survived team assignment: %+v", got.Assignees)
	}
	if got.Team == nil || got.Team.ID != "g1" {
		t.Fatalf("team not set: %+v", got.Team)
	}

	got, err = c.Patch("t1", TaskPatch{Assignees: []contracts.User{{ID: "u2"}}})
	if err != nil {
		t.Fatalf("Patch error: %v", err)
	}
	if got.Team != nil {
		t.Fatalf("team survived assignee assignment: %+v", got.Team)
	}
}

func TestCache_PatchStatusMovesColumn(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	status := contracts.StatusInProgress
	if _, err := c.Patch("t1", TaskPatch{Status: &status}); err != nil {
		t.Fatalf("Patch error: %v", err)
	}
	byStatus := c.ByStatus()
	if len(byStatus[contracts.StatusTodo]) != 0 || len(byStatus[contracts.StatusInProgress]) != 1 {
		t.Fatalf("column membership wrong after status patch")
	}
}

func TestCache_PatchMissingTask(t *testing.T) {
	c := NewCache()
	if _, err := c.Patch("nope", TaskPatch{}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCache_Remove(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	if !c.Remove("t1") {
		t.Fatal("Remove returned false")
	}
	if c.Remove("t1") {
		t.Fatal("second Remove returned true")
	}
	if c.Len() != 0 || len(c.Flat()) != 0 {
		t.Fatalf("task still present after remove")
	}
}

func TestCache_MoveSameColumnReorders(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	c.Upsert(task("t2", "two", contracts.StatusTodo))
	c.Upsert(task("t3", "three", contracts.StatusTodo))

	moved, err := c.Move(contracts.StatusTodo, 0, contracts.StatusTodo, 2)
	if err != nil {
		t.Fatalf("Move error: %v", err)
	}
	if moved.Status != contracts.StatusTodo {
		t.Fatalf("same-column move changed status: %q", moved.Status)
	}
	got := ids(c.ByStatus()[contracts.StatusTodo])
	if !equalIDs(got, []string{"t2", "t3", "t1"}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestCache_MoveAcrossColumnsSetsStatus(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	c.Upsert(task("t2", "two", contracts.StatusInProgress))

	moved, err := c.Move(contracts.StatusTodo, 0, contracts.StatusInProgress, 0)
	if err != nil {
		t.Fatalf("Move error: %v", err)
	}
	if moved.Status != contracts.StatusInProgress {
		t.Fatalf("status not rewritten: %q", moved.Status)
	}
	byStatus := c.ByStatus()
	if got := ids(byStatus[contracts.StatusInProgress]); !equalIDs(got, []string{"t1", "t2"}) {
		t.Fatalf("dest order: %v", got)
	}
	if len(byStatus[contracts.StatusTodo]) != 0 {
		t.Fatalf("source column not emptied")
	}
}

func TestCache_MoveOutOfRange(t *testing.T) {
	c := NewCache()
	c.Upsert(task("t1", "one", contracts.StatusTodo))
	if _, err := c.Move(contracts.StatusTodo, 3, contracts.StatusDone, 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	// Destination index beyond length clamps to the end.
	if _, err := c.Move(contracts.StatusTodo, 0, contracts.StatusDone, 99); err != nil {
		t.Fatalf("clamped move error: %v", err)
	}
}
