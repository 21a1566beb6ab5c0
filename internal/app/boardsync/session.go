package boardsync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/taskboard/project/internal/apiclient"
	"github.com/taskboard/project/internal/boardstate"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/mention"
	"github.com/taskboard/project/internal/realtime"
	"github.com/taskboard/project/internal/thread"
)

var ErrNoOpenTask = errors.New("no open task")

const fetchPageSize = 200

// API is the slice of the REST client the session consumes.
type API interface {
	ListTasks(ctx context.Context, filter apiclient.TaskFilter) (apiclient.TaskPage, error)
	UpdateTask(ctx context.Context, id string, input apiclient.TaskInput) (contracts.Task, error)
	TaskComments(ctx context.Context, taskID string) ([]contracts.Comment, error)
	CreateComment(ctx context.Context, input apiclient.CommentInput) (contracts.Comment, error)
	TogglePin(ctx context.Context, commentID string) (contracts.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
	AddLink(ctx context.Context, taskID, title, url string) ([]contracts.Link, error)
	DeleteLink(ctx context.Context, taskID, linkID string) ([]contracts.Link, error)
	Teams(ctx context.Context) ([]contracts.Team, error)
}

// PushChannel is the slice of the realtime channel the session consumes.
type PushChannel interface {
	On(event string, fn realtime.Handler)
	Connect(userID string) error
	JoinTask(taskID string) error
	LeaveTask(taskID string) error
	Closed() <-chan struct{}
}

// Session owns one user's synchronized board: the task cache, the open-task
// comment thread, the selection cell and the push subscriptions. All state
// mutations, whether user-initiated or pushed, go through the same cache and
// thread entry points.
type Session struct {
	api     API
	channel PushChannel
	userID  string

	mu        sync.Mutex
	cache     *boardstate.Cache
	thread    *thread.Thread
	selection *boardstate.Selection
	teams     []contracts.Team

	Logf func(format string, args ...any)
}

func New(api API, channel PushChannel, userID string) *Session {
	return &Session{
		api:       api,
		channel:   channel,
		userID:    userID,
		cache:     boardstate.NewCache(),
		thread:    thread.New(),
		selection: &boardstate.Selection{},
		Logf:      log.Printf,
	}
}

// Start registers the push handlers, joins the user scope and loads the
// initial board state.
func (s *Session) Start(ctx context.Context) error {
	s.channel.On(contracts.EventTaskUpdated, s.onTaskUpserted)
	s.channel.On(contracts.EventTaskAssigned, s.onTaskUpserted)
	s.channel.On(contracts.EventTaskAssignedToTeam, s.onTaskUpserted)
	s.channel.On(contracts.EventTaskUnassigned, s.onTaskRemoved)
	s.channel.On(contracts.EventTeamAdded, s.onTeamUpserted)
	s.channel.On(contracts.EventTeamUpdated, s.onTeamUpserted)
	s.channel.On(contracts.EventTeamRemoved, s.onTeamRemoved)
	s.channel.On(contracts.EventCommentAdded, s.onCommentAdded)
	s.channel.On(contracts.EventCommentUpdated, s.onCommentUpdated)
	s.channel.On(contracts.EventCommentDeleted, s.onCommentDeleted)

	if err := s.channel.Connect(s.userID); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	teams, err := s.api.Teams(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.teams = teams
	s.mu.Unlock()
	return nil
}

// Refresh replaces the cache with a full fetch. It is also the rollback path
// when an optimistic mutation is rejected remotely.
func (s *Session) Refresh(ctx context.Context) error {
	var all []contracts.Task
	page := 1
	for {
		result, err := s.api.ListTasks(ctx, apiclient.TaskFilter{Page: page, Limit: fetchPageSize})
		if err != nil {
			return err
		}
		all = append(all, result.Tasks...)
		if page >= result.TotalPages || len(result.Tasks) == 0 {
			break
		}
		page++
	}
	s.mu.Lock()
	s.cache.Replace(all)
	s.mu.Unlock()
	return nil
}

// Open switches the detail view to one task: the previous task scope is left
// synchronously, the comment baseline is fetched, and only then is the new
// scope joined. A fetch that completes after the selection moved on is
// discarded.
func (s *Session) Open(ctx context.Context, taskID string) error {
	s.mu.Lock()
	if current, ok := s.selection.Current(); ok && current != taskID {
		_ = s.channel.LeaveTask(current)
		s.thread.Clear()
	}
	token := s.selection.Set(taskID)
	s.mu.Unlock()

	comments, err := s.api.TaskComments(ctx, taskID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selection.Valid(taskID, token) {
		return nil
	}
	s.thread.Load(taskID, comments)
	return s.channel.JoinTask(taskID)
}

// CloseTask leaves the open task's scope and clears the thread.
func (s *Session) CloseTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.selection.Current(); ok {
		_ = s.channel.LeaveTask(current)
	}
	s.selection.Clear()
	s.thread.Clear()
}

// MoveTask applies a drag-and-drop splice locally first. A same-column
// reorder stays local; a cross-column move is pushed to the API, and a
// rejection rolls the board back with a full re-fetch.
func (s *Session) MoveTask(ctx context.Context, srcStatus string, srcIndex int, dstStatus string, dstIndex int) error {
	s.mu.Lock()
	task, err := s.cache.Move(srcStatus, srcIndex, dstStatus, dstIndex)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if srcStatus == dstStatus {
		return nil
	}
	if _, err := s.api.UpdateTask(ctx, task.ID, apiclient.TaskInput{Status: &dstStatus}); err != nil {
		s.Logf("move of task %s rejected, reloading board: %v", task.ID, err)
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			s.Logf("board reload failed: %v", refreshErr)
		}
		return err
	}
	return nil
}

// SetStatus is the non-drag status change (list view dropdown).
func (s *Session) SetStatus(ctx context.Context, taskID, status string) error {
	s.mu.Lock()
	_, err := s.cache.Patch(taskID, boardstate.TaskPatch{Status: &status})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := s.api.UpdateTask(ctx, taskID, apiclient.TaskInput{Status: &status}); err != nil {
		s.Logf("status change for task %s rejected, reloading board: %v", taskID, err)
		if refreshErr := s.Refresh(ctx); refreshErr != nil {
			s.Logf("board reload failed: %v", refreshErr)
		}
		return err
	}
	return nil
}

// AddComment posts to the open task and applies the created comment locally.
// The push echo that follows is deduplicated by ID inside the thread.
func (s *Session) AddComment(ctx context.Context, text, replyTo string) (contracts.Comment, error) {
	taskID, ok := s.selection.Current()
	if !ok {
		return contracts.Comment{}, ErrNoOpenTask
	}
	created, err := s.api.CreateComment(ctx, apiclient.CommentInput{TaskID: taskID, Text: text, ReplyTo: replyTo})
	if err != nil {
		return contracts.Comment{}, err
	}
	s.mu.Lock()
	if s.thread.ApplyAdded(created) {
		s.bumpCommentCountLocked(taskID, 1)
	}
	s.mu.Unlock()
	return created, nil
}

// TogglePin flips the pin optimistically and reconciles with the server's
// comment record; a rejection reloads the thread baseline.
func (s *Session) TogglePin(ctx context.Context, commentID string) error {
	s.mu.Lock()
	for _, c := range s.thread.Comments() {
		if c.ID == commentID {
			c.Pinned = !c.Pinned
			s.thread.ApplyUpdated(c)
			break
		}
	}
	s.mu.Unlock()

	updated, err := s.api.TogglePin(ctx, commentID)
	if err != nil {
		s.reloadThread(ctx)
		return err
	}
	s.mu.Lock()
	s.thread.ApplyUpdated(updated)
	s.mu.Unlock()
	return nil
}

// DeleteComment tombstones optimistically; a rejection reloads the thread.
func (s *Session) DeleteComment(ctx context.Context, commentID string) error {
	s.mu.Lock()
	applied := s.thread.ApplyDeleted(commentID)
	taskID := s.thread.TaskID()
	s.mu.Unlock()

	if err := s.api.DeleteComment(ctx, commentID); err != nil {
		s.reloadThread(ctx)
		return err
	}
	if applied {
		s.mu.Lock()
		s.bumpCommentCountLocked(taskID, -1)
		s.mu.Unlock()
	}
	return nil
}

// AddLink attaches a link to a task and patches the cached record with the
// authoritative list the server returns.
func (s *Session) AddLink(ctx context.Context, taskID, title, url string) error {
	links, err := s.api.AddLink(ctx, taskID, title, url)
	if err != nil {
		return err
	}
	s.mu.Lock()
	_, err = s.cache.Patch(taskID, boardstate.TaskPatch{Links: links})
	s.mu.Unlock()
	return err
}

func (s *Session) DeleteLink(ctx context.Context, taskID, linkID string) error {
	links, err := s.api.DeleteLink(ctx, taskID, linkID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	_, err = s.cache.Patch(taskID, boardstate.TaskPatch{Links: links})
	s.mu.Unlock()
	return err
}

// Board returns the column view.
func (s *Session) Board() []boardstate.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	return boardstate.Columns(s.cache)
}

// Tasks returns the flat list view.
func (s *Session) Tasks() []contracts.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Flat()
}

// OpenTask resolves the open task against the canonical cache record.
func (s *Session) OpenTask() (contracts.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return boardstate.Detail(s.cache, s.selection)
}

// Comments returns the open thread grouped by calendar day.
func (s *Session) Comments(now time.Time) []thread.DayGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread.Groups(now)
}

// NextPin advances the pinned-comment cycle of the open thread.
func (s *Session) NextPin() (contracts.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread.NextPin()
}

// Summary computes the local dashboard numbers for this user.
func (s *Session) Summary(now time.Time) boardstate.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return boardstate.Summarize(s.cache, s.userID, now)
}

func (s *Session) Teams() []contracts.Team {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Team, len(s.teams))
	copy(out, s.teams)
	return out
}

// MentionCandidates resolves who can be mentioned on the open task.
func (s *Session) MentionCandidates() ([]mention.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := boardstate.Detail(s.cache, s.selection)
	if !ok {
		return nil, ErrNoOpenTask
	}
	var team *contracts.Team
	if task.Team != nil {
		for i := range s.teams {
			if s.teams[i].ID == task.Team.ID {
				team = &s.teams[i]
				break
			}
		}
	}
	return mention.Candidates(task, team, s.userID), nil
}

func (s *Session) reloadThread(ctx context.Context) {
	taskID, ok := s.selection.Current()
	if !ok {
		return
	}
	comments, err := s.api.TaskComments(ctx, taskID)
	if err != nil {
		s.Logf("thread reload for task %s failed: %v", taskID, err)
		return
	}
	s.mu.Lock()
	if current, ok := s.selection.Current(); ok && current == taskID {
		s.thread.Load(taskID, comments)
	}
	s.mu.Unlock()
}

func (s *Session) bumpCommentCountLocked(taskID string, delta int) {
	task, ok := s.cache.Get(taskID)
	if !ok {
		return
	}
	count := task.CommentCount + delta
	if count < 0 {
		count = 0
	}
	_, _ = s.cache.Patch(taskID, boardstate.TaskPatch{CommentCount: &count})
}

func (s *Session) onTaskUpserted(ev contracts.Event) {
	if ev.Task == nil {
		return
	}
	s.mu.Lock()
	s.cache.Upsert(*ev.Task)
	s.mu.Unlock()
}

func (s *Session) onTaskRemoved(ev contracts.Event) {
	id := ev.TaskID
	if id == "" && ev.Task != nil {
		id = ev.Task.ID
	}
	if id == "" {
		return
	}
	s.mu.Lock()
	s.cache.Remove(id)
	if current, ok := s.selection.Current(); ok && current == id {
		_ = s.channel.LeaveTask(id)
		s.selection.Clear()
		s.thread.Clear()
	}
	s.mu.Unlock()
}

func (s *Session) onTeamUpserted(ev contracts.Event) {
	if ev.Team == nil {
		return
	}
	s.mu.Lock()
	replaced := false
	for i := range s.teams {
		if s.teams[i].ID == ev.Team.ID {
			s.teams[i] = *ev.Team
			replaced = true
			break
		}
	}
	if !replaced {
		s.teams = append(s.teams, *ev.Team)
	}
	s.mu.Unlock()
}

func (s *Session) onTeamRemoved(ev contracts.Event) {
	id := ev.TeamID
	if id == "" && ev.Team != nil {
		id = ev.Team.ID
	}
	s.mu.Lock()
	for i := range s.teams {
		if s.teams[i].ID == id {
			s.teams = append(s.teams[:i], s.teams[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *Session) onCommentAdded(ev contracts.Event) {
	if ev.Comment == nil {
		return
	}
	s.mu.Lock()
	if s.thread.ApplyAdded(*ev.Comment) {
		s.bumpCommentCountLocked(ev.Comment.TaskID, 1)
	}
	s.mu.Unlock()
}

func (s *Session) onCommentUpdated(ev contracts.Event) {
	if ev.Comment == nil {
		return
	}
	s.mu.Lock()
	s.thread.ApplyUpdated(*ev.Comment)
	s.mu.Unlock()
}

func (s *Session) onCommentDeleted(ev contracts.Event) {
	s.mu.Lock()
	if ev.TaskID == "" || ev.TaskID == s.thread.TaskID() {
		if s.thread.ApplyDeleted(ev.CommentID) {
			s.bumpCommentCountLocked(s.thread.TaskID(), -1)
		}
	}
	s.mu.Unlock()
}
