package boardstate

import (
	"errors"
	"time"

	"github.com/taskboard/project/internal/contracts"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrOutOfRange   = errors.New("position out of range")
)

// Cache is the authoritative local task store. Column order and flat order
// derive from the same internal bookkeeping, so the board view and the list
// view can never show different task sets.
type Cache struct {
	tasks   map[string]contracts.Task
	columns map[string][]string
	order   []string
}

func NewCache() *Cache {
	return &Cache{
		tasks:   map[string]contracts.Task{},
		columns: map[string][]string{},
	}
}

// Replace rebuilds the cache from a full fetch.
func (c *Cache) Replace(tasks []contracts.Task) {
	c.tasks = make(map[string]contracts.Task, len(tasks))
	c.columns = map[string][]string{}
	c.order = c.order[:0]
	for _, task := range tasks {
		c.Upsert(task)
	}
}

// Upsert inserts or fully replaces a task. A replaced task keeps its column
// position when the status is unchanged; a status change moves it to the end
// of the destination column. An unknown status is folded into the todo
// column so every cached task stays visible on the board.
func (c *Cache) Upsert(task contracts.Task) {
	task.Status = normalizeStatus(task.Status)
	existing, ok := c.tasks[task.ID]
	if !ok {
		c.tasks[task.ID] = task
		c.columns[task.Status] = append(c.columns[task.Status], task.ID)
		c.order = append(c.order, task.ID)
		return
	}
	if existing.Status != task.Status {
		c.columns[existing.Status] = removeID(c.columns[existing.Status], task.ID)
		c.columns[task.Status] = append(c.columns[task.Status], task.ID)
	}
	c.tasks[task.ID] = task
}

// TaskPatch is a partial update. Nil fields are untouched, so a patch can
// never erase data it does not mention. Setting Assignees clears the team and
// vice versa; Unassign clears both.
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *string
	Priority     *string
	DueDate      *time.Time
	Assignees    []contracts.User
	Team         *contracts.Team
	Unassign     bool
	CommentCount *int
	Links        []contracts.Link
}

func (c *Cache) Patch(id string, patch TaskPatch) (contracts.Task, error) {
	task, ok := c.tasks[id]
	if !ok {
		return contracts.Task{}, ErrTaskNotFound
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.DueDate != nil {
		due := *patch.DueDate
		task.DueDate = &due
	}
	if patch.Assignees != nil {
		task.Assignees = patch.Assignees
		task.Team = nil
	}
	if patch.Team != nil {
		task.Team = patch.Team
		task.Assignees = nil
	}
	if patch.Unassign {
		task.Assignees = nil
		task.Team = nil
	}
	if patch.CommentCount != nil {
		task.CommentCount = *patch.CommentCount
	}
	if patch.Links != nil {
		task.Links = patch.Links
	}
	if patch.Status != nil {
		if next := normalizeStatus(*patch.Status); next != task.Status {
			c.columns[task.Status] = removeID(c.columns[task.Status], id)
			task.Status = next
			c.columns[task.Status] = append(c.columns[task.Status], id)
		}
	}
	c.tasks[id] = task
	return task, nil
}

func (c *Cache) Remove(id string) bool {
	task, ok := c.tasks[id]
	if !ok {
		return false
	}
	delete(c.tasks, id)
	c.columns[task.Status] = removeID(c.columns[task.Status], id)
	c.order = removeID(c.order, id)
	return true
}

func (c *Cache) Get(id string) (contracts.Task, bool) {
	task, ok := c.tasks[id]
	return task, ok
}

func (c *Cache) Len() int {
	return len(c.tasks)
}

// ByStatus returns every board column in display order, including empty ones.
func (c *Cache) ByStatus() map[string][]contracts.Task {
	out := make(map[string][]contracts.Task, len(contracts.Statuses()))
	for _, status := range contracts.Statuses() {
		ids := c.columns[status]
		column := make([]contracts.Task, 0, len(ids))
		for _, id := range ids {
			column = append(column, c.tasks[id])
		}
		out[status] = column
	}
	return out
}

// Flat returns every task in insertion order for the list view.
func (c *Cache) Flat() []contracts.Task {
	out := make([]contracts.Task, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tasks[id])
	}
	return out
}

// Move splices a task from one column position to another. A cross-column
// move also rewrites the task's status. The destination index is clamped to
// the column length.
func (c *Cache) Move(srcStatus string, srcIndex int, dstStatus string, dstIndex int) (contracts.Task, error) {
	src := c.columns[srcStatus]
	if srcIndex < 0 || srcIndex >= len(src) {
		return contracts.Task{}, ErrOutOfRange
	}
	id := src[srcIndex]
	c.columns[srcStatus] = append(src[:srcIndex:srcIndex], src[srcIndex+1:]...)

	dst := c.columns[dstStatus]
	if dstIndex < 0 {
		dstIndex = 0
	}
	if dstIndex > len(dst) {
		dstIndex = len(dst)
	}
	dst = append(dst, "")
	copy(dst[dstIndex+1:], dst[dstIndex:])
	dst[dstIndex] = id
	c.columns[dstStatus] = dst

	task := c.tasks[id]
	if task.Status != dstStatus {
		task.Status = dstStatus
		c.tasks[id] = task
	}
	return task, nil
}

func normalizeStatus(status string) string {
	for _, known := range contracts.Statuses() {
		if known == status {
			return status
		}
	}
	return contracts.StatusTodo
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
