package boardstate

import (
	"time"

	"github.com/taskboard/project/internal/contracts"
)

// Column is one rendered board lane.
type Column struct {
	Status string
	Count  int
	Tasks  []contracts.Task
}

// Columns derives the board view: one column per status in display order.
func Columns(c *Cache) []Column {
	byStatus := c.ByStatus()
	out := make([]Column, 0, len(contracts.Statuses()))
	for _, status := range contracts.Statuses() {
		tasks := byStatus[status]
		out = append(out, Column{Status: status, Count: len(tasks), Tasks: tasks})
	}
	return out
}

// Detail resolves the open task against the canonical cache record, so a
// push that rewrote the task is reflected without any copy held elsewhere.
func Detail(c *Cache, sel *Selection) (contracts.Task, bool) {
	id, ok := sel.Current()
	if !ok {
		return contracts.Task{}, false
	}
	return c.Get(id)
}

// Summary holds the local dashboard aggregates derived from cached tasks.
type Summary struct {
	Total    int
	Mine     int
	DueToday int
	Late     int
	Done     int
}

// Summarize computes dashboard numbers for one viewer. "Late" means past due
// and not done; "due today" compares calendar days in now's location.
func Summarize(c *Cache, viewerID string, now time.Time) Summary {
	var s Summary
	today := now.In(now.Location())
	ty, tm, td := today.Date()
	for _, task := range c.Flat() {
		s.Total++
		for _, assignee := range task.Assignees {
			if assignee.ID == viewerID {
				s.Mine++
				break
			}
		}
		if task.Status == contracts.StatusDone {
			s.Done++
			continue
		}
		if task.DueDate == nil {
			continue
		}
		due := task.DueDate.In(now.Location())
		dy, dm, dd := due.Date()
		switch {
		case dy == ty && dm == tm && dd == td:
			s.DueToday++
		case due.Before(now):
			s.Late++
		}
	}
	return s
}
