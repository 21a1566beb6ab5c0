package thread

import (
	"sort"
	"strings"
	"time"

	"github.com/taskboard/project/internal/contracts"
)

// Thread holds the comment list of the one open task. Deleted comments stay
// in place as tombstones so positions and day grouping never shift under the
// reader.
type Thread struct {
	taskID   string
	comments []contracts.Comment
	index    map[string]int

	pinCursor int
	pinKey    string
}

func New() *Thread {
	return &Thread{index: map[string]int{}}
}

// Load replaces the baseline with a fresh fetch for one task.
func (t *Thread) Load(taskID string, comments []contracts.Comment) {
	t.taskID = taskID
	t.comments = make([]contracts.Comment, len(comments))
	copy(t.comments, comments)
	sort.SliceStable(t.comments, func(i, j int) bool {
		return t.comments[i].CreatedAt.Before(t.comments[j].CreatedAt)
	})
	t.index = make(map[string]int, len(t.comments))
	for i, c := range t.comments {
		t.index[c.ID] = i
	}
	t.resetPinCursorIfChanged()
}

// Clear empties the thread when no task is open.
func (t *Thread) Clear() {
	t.taskID = ""
	t.comments = nil
	t.index = map[string]int{}
	t.pinCursor = 0
	t.pinKey = ""
}

func (t *Thread) TaskID() string {
	return t.taskID
}

// ApplyAdded appends a pushed comment. A comment already present by ID is
// ignored, which makes the push after the actor's own POST harmless.
func (t *Thread) ApplyAdded(c contracts.Comment) bool {
	if t.taskID == "" || c.TaskID != t.taskID {
		return false
	}
	if _, exists := t.index[c.ID]; exists {
		return false
	}
	t.index[c.ID] = len(t.comments)
	t.comments = append(t.comments, c)
	t.resetPinCursorIfChanged()
	return true
}

// ApplyDeleted tombstones a comment in place.
func (t *Thread) ApplyDeleted(commentID string) bool {
	i, exists := t.index[commentID]
	if !exists {
		return false
	}
	t.comments[i].Deleted = true
	t.comments[i].Pinned = false
	t.comments[i].Text = ""
	t.resetPinCursorIfChanged()
	return true
}

// ApplyUpdated replaces a comment by ID; pin flips and edits arrive here.
func (t *Thread) ApplyUpdated(c contracts.Comment) bool {
	i, exists := t.index[c.ID]
	if !exists {
		return false
	}
	t.comments[i] = c
	t.resetPinCursorIfChanged()
	return true
}

func (t *Thread) Comments() []contracts.Comment {
	out := make([]contracts.Comment, len(t.comments))
	copy(out, t.comments)
	return out
}

func (t *Thread) Len() int {
	return len(t.comments)
}

// Pinned returns pinned comments in thread order, tombstones excluded.
func (t *Thread) Pinned() []contracts.Comment {
	var out []contracts.Comment
	for _, c := range t.comments {
		if c.Pinned && !c.Deleted {
			out = append(out, c)
		}
	}
	return out
}

// NextPin returns the pinned comment under the cursor and advances it,
// wrapping modulo the pinned count. The cursor restarts at the first pinned
// comment whenever the pinned membership changes.
func (t *Thread) NextPin() (contracts.Comment, bool) {
	pinned := t.Pinned()
	if len(pinned) == 0 {
		return contracts.Comment{}, false
	}
	if t.pinCursor >= len(pinned) {
		t.pinCursor = 0
	}
	c := pinned[t.pinCursor]
	t.pinCursor = (t.pinCursor + 1) % len(pinned)
	return c, true
}

func (t *Thread) resetPinCursorIfChanged() {
	var sb strings.Builder
	for _, c := range t.comments {
		if c.Pinned && !c.Deleted {
			sb.WriteString(c.ID)
			sb.WriteByte(0)
		}
	}
	key := sb.String()
	if key != t.pinKey {
		t.pinKey = key
		t.pinCursor = 0
	}
}

// DayGroup is one calendar-day bucket of the thread.
type DayGroup struct {
	Label    string
	Comments []contracts.Comment
}

// Groups buckets comments by calendar day ascending. The current day is
// labelled TODAY, the day before YESTERDAY, and older days get the uppercase
// full date. Days are compared in now's location.
func (t *Thread) Groups(now time.Time) []DayGroup {
	loc := now.Location()
	var groups []DayGroup
	byDay := map[string]int{}
	for _, c := range t.comments {
		day := c.CreatedAt.In(loc)
		key := day.Format("2006-01-02")
		i, exists := byDay[key]
		if !exists {
			i = len(groups)
			byDay[key] = i
			groups = append(groups, DayGroup{Label: dayLabel(day, now)})
		}
		groups[i].Comments = append(groups[i].Comments, c)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Comments[0].CreatedAt.Before(groups[j].Comments[0].CreatedAt)
	})
	for i := range groups {
		sort.SliceStable(groups[i].Comments, func(a, b int) bool {
			return groups[i].Comments[a].CreatedAt.Before(groups[i].Comments[b].CreatedAt)
		})
	}
	return groups
}

func dayLabel(day, now time.Time) string {
	y, m, d := day.Date()
	ny, nm, nd := now.Date()
	if y == ny && m == nm && d == nd {
		return "TODAY"
	}
	yy, ym, yd := now.AddDate(0, 0, -1).Date()
	if y == yy && m == ym && d == yd {
		return "YESTERDAY"
	}
	return strings.ToUpper(day.Format("02 January 2006"))
}
