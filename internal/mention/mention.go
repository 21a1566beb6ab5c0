package mention

import (
	"strings"
	"unicode"

	"github.com/taskboard/project/internal/contracts"
)

// Provenance labels shown next to a candidate in the picker.
const (
	KindAssignee    = "Assignee"
	KindTaskCreator = "Task Creator"
	KindTeamMember  = "Team Member"
	KindEveryone    = "Everyone"
)

// EveryoneID marks the synthetic broadcast candidate.
const EveryoneID = "everyone"

type Candidate struct {
	ID   string
	Name string
	Kind string
}

// Candidates resolves who can be mentioned on a task: assignees first, then
// the creator, then team members. A user reachable through several roles
// keeps the first provenance; the viewer never appears. With more than one
// real candidate a synthetic Everyone entry is prepended.
func Candidates(task contracts.Task, team *contracts.Team, viewerID string) []Candidate {
	if team == nil {
		team = task.Team
	}

	var out []Candidate
	seen := map[string]bool{}
	add := func(u contracts.User, kind string) {
		if u.ID == "" || u.ID == viewerID || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		out = append(out, Candidate{ID: u.ID, Name: u.Name, Kind: kind})
	}

	for _, u := range task.Assignees {
		add(u, KindAssignee)
	}
	if task.CreatedBy != nil {
		add(*task.CreatedBy, KindTaskCreator)
	}
	if team != nil {
		for _, u := range team.Members {
			add(u, KindTeamMember)
		}
	}

	if len(out) > 1 {
		out = append([]Candidate{{ID: EveryoneID, Name: "Everyone", Kind: KindEveryone}}, out...)
	}
	return out
}

// DetectQuery finds an active @-query at the cursor. The @ must sit at the
// start of the input or after whitespace, and no whitespace may appear
// between it and the cursor. Returns the query text and the index of the @.
func DetectQuery(text string, cursor int) (query string, start int, ok bool) {
	if cursor < 0 || cursor > len(text) {
		return "", 0, false
	}
	runes := []rune(text[:cursor])
	at := -1
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			break
		}
		if runes[i] == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return "", 0, false
	}
	if at > 0 && !unicode.IsSpace(runes[at-1]) {
		return "", 0, false
	}
	return string(runes[at+1:]), len(string(runes[:at])), true
}

// Filter keeps candidates whose display name contains the query,
// case-insensitively. An empty query keeps everything.
func Filter(candidates []Candidate, query string) []Candidate {
	if query == "" {
		return candidates
	}
	needle := strings.ToLower(query)
	var out []Candidate
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Insert replaces the active @query span with the chosen candidate's mention
// token (spaces become underscores) followed by a space, and returns the new
// text plus the cursor position after the inserted token.
func Insert(text string, cursor int, name string) (string, int) {
	_, start, ok := DetectQuery(text, cursor)
	if !ok {
		return text, cursor
	}
	token := "@" + strings.ReplaceAll(name, " ", "_") + " "
	updated := text[:start] + token + text[cursor:]
	return updated, start + len(token)
}
