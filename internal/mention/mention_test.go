package mention

import (
	"testing"

	"github.com/taskboard/project/internal/contracts"
)

func TestCandidates_OrderProvenanceAndViewerExclusion(t *testing.T) {
	alice := contracts.User{ID: "a", Name: "Alice"}
	bob := contracts.User{ID: "b", Name: "Bob"}
	carol := contracts.User{ID: "c", Name: "Carol"}
	dave := contracts.User{ID: "d", Name: "Dave"}

	task := contracts.Task{
		Assignees: []contracts.User{alice, bob},
		CreatedBy: &dave,
	}
	team := &contracts.Team{Members: []contracts.User{bob, carol}}

	got := Candidates(task, team, "a")

	want := []Candidate{
		{ID: EveryoneID, Name: "Everyone", Kind: KindEveryone},
		{ID: "b", Name: "Bob", Kind: KindAssignee},
		{ID: "d", Name: "Dave", Kind: KindTaskCreator},
		{ID: "c", Name: "Carol", Kind: KindTeamMember},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCandidates_NoEveryoneForSingleCandidate(t *testing.T) {
	task := contracts.Task{
		Assignees: []contracts.User{{ID: "b", Name: "Bob"}},
	}
	got := Candidates(task, nil, "a")
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestCandidates_FallsBackToTaskTeam(t *testing.T) {
	task := contracts.Task{
		Team: &contracts.Team{Members: []contracts.User{{ID: "c", Name: "Carol"}}},
	}
	got := Candidates(task, nil, "a")
	if len(got) != 1 || got[0].Kind != KindTeamMember {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestDetectQuery(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		cursor int
		query  string
		ok     bool
	}{
		{"at start", "@al", 3, "al", true},
		{"after space", "hey @bo", 7, "bo", true},
		{"bare at", "hey @", 5, "", true},
		{"mid word", "mail@host", 9, "", false},
		{"whitespace after at", "@a b", 4, "", false},
		{"no at", "hello", 5, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			query, _, ok := DetectQuery(tc.text, tc.cursor)
			if ok != tc.ok || query != tc.query {
				t.Fatalf("got query=%q ok=%v, want query=%q ok=%v", query, ok, tc.query, tc.ok)
			}
		})
	}
}

func TestFilter_CaseInsensitiveSubstring(t *testing.T) {
	candidates := []Candidate{
		{ID: "1", Name: "Alice Smith"},
		{ID: "2", Name: "Bob"},
		{ID: "3", Name: "Malice"},
	}
	got := Filter(candidates, "ali")
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
	if got := Filter(candidates, ""); len(got) != 3 {
		t.Fatalf("empty query should keep everything, got %+v", got)
	}
}

func TestInsert_ReplacesQuerySpan(t *testing.T) {
	text, cursor := Insert("hey @al how", 7, "Alice Smith")
	want := "hey @Alice_Smith  how"
	if text != want {
		t.Fatalf("got %q, want %q", text, want)
	}
	wantCursor := len("hey @Alice_Smith ")
	if cursor != wantCursor {
		t.Fatalf("cursor %d, want %d", cursor, wantCursor)
	}
}

func TestInsert_NoActiveQueryLeavesTextAlone(t *testing.T) {
	text, cursor := Insert("hello", 5, "Alice")
	if text != "hello" || cursor != 5 {
		t.Fatalf("text changed without a query: %q %d", text, cursor)
	}
}
