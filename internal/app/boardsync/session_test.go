package boardsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskboard/project/internal/apiclient"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/realtime"
)

type fakeAPI struct {
	listTasks     func(ctx context.Context, filter apiclient.TaskFilter) (apiclient.TaskPage, error)
	updateTask    func(ctx context.Context, id string, input apiclient.TaskInput) (contracts.Task, error)
	taskComments  func(ctx context.Context, taskID string) ([]contracts.Comment, error)
	createComment func(ctx context.Context, input apiclient.CommentInput) (contracts.Comment, error)
	togglePin     func(ctx context.Context, commentID string) (contracts.Comment, error)
	deleteComment func(ctx context.Context, commentID string) error
	addLink       func(ctx context.Context, taskID, title, url string) ([]contracts.Link, error)
	deleteLink    func(ctx context.Context, taskID, linkID string) ([]contracts.Link, error)
	teams         func(ctx context.Context) ([]contracts.Team, error)
}

func (f *fakeAPI) ListTasks(ctx context.Context, filter apiclient.TaskFilter) (apiclient.TaskPage, error) {
	if f.listTasks == nil {
		return apiclient.TaskPage{TotalPages: 1}, nil
	}
	return f.listTasks(ctx, filter)
}

func (f *fakeAPI) UpdateTask(ctx context.Context, id string, input apiclient.TaskInput) (contracts.Task, error) {
	if f.updateTask == nil {
		return contracts.Task{ID: id}, nil
	}
	return f.updateTask(ctx, id, input)
}

func (f *fakeAPI) TaskComments(ctx context.Context, taskID string) ([]contracts.Comment, error) {
	if f.taskComments == nil {
		return nil, nil
	}
	return f.taskComments(ctx, taskID)
}

func (f *fakeAPI) CreateComment(ctx context.Context, input apiclient.CommentInput) (contracts.Comment, error) {
	if f.createComment == nil {
		return contracts.Comment{ID: "created", TaskID: input.TaskID, Text: input.Text}, nil
	}
	return f.createComment(ctx, input)
}

func (f *fakeAPI) TogglePin(ctx context.Context, commentID string) (contracts.Comment, error) {
	if f.togglePin == nil {
		return contracts.Comment{ID: commentID}, nil
	}
	return f.togglePin(ctx, commentID)
}

func (f *fakeAPI) DeleteComment(ctx context.Context, commentID string) error {
	if f.deleteComment == nil {
		return nil
	}
	return f.deleteComment(ctx, commentID)
}

func (f *fakeAPI) AddLink(ctx context.Context, taskID, title, url string) ([]contracts.Link, error) {
	if f.addLink == nil {
		return nil, nil
	}
	return f.addLink(ctx, taskID, title, url)
}

func (f *fakeAPI) DeleteLink(ctx context.Context, taskID, linkID string) ([]contracts.Link, error) {
	if f.deleteLink == nil {
		return nil, nil
	}
	return f.deleteLink(ctx, taskID, linkID)
}

func (f *fakeAPI) Teams(ctx context.Context) ([]contracts.Team, error) {
	if f.teams == nil {
		return nil, nil
	}
	return f.teams(ctx)
}

type fakeChannel struct {
	handlers map[string]realtime.Handler
	joined   []string
	left     []string
	current  string
	closed   chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: map[string]realtime.Handler{}, closed: make(chan struct{})}
}

func (f *fakeChannel) On(event string, fn realtime.Handler) { f.handlers[event] = fn }
func (f *fakeChannel) Connect(userID string) error          { return nil }

func (f *fakeChannel) JoinTask(taskID string) error {
	f.joined = append(f.joined, taskID)
	f.current = taskID
	return nil
}

func (f *fakeChannel) LeaveTask(taskID string) error {
	f.left = append(f.left, taskID)
	if f.current == taskID {
		f.current = ""
	}
	return nil
}

func (f *fakeChannel) Closed() <-chan struct{} { return f.closed }

func (f *fakeChannel) emit(ev contracts.Event) {
	if fn := f.handlers[ev.Name]; fn != nil {
		fn(ev)
	}
}

func quietLogf(string, ...any) {}

func seededSession(t *testing.T, api *fakeAPI, channel *fakeChannel, tasks ...contracts.Task) *Session {
	t.Helper()
	if api.listTasks == nil {
		api.listTasks = func(context.Context, apiclient.TaskFilter) (apiclient.TaskPage, error) {
			return apiclient.TaskPage{Tasks: tasks, TotalTasks: len(tasks), TotalPages: 1}, nil
		}
	}
	s := New(api, channel, "viewer")
	s.Logf = quietLogf
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	return s
}

func boardTask(id, status string) contracts.Task {
	return contracts.Task{ID: id, Title: id, Status: status}
}

func TestSession_OpenSwitchLeavesOldScopeFirst(t *testing.T) {
	channel := newFakeChannel()
	s := seededSession(t, &fakeAPI{}, channel, boardTask("t1", contracts.StatusTodo), boardTask("t2", contracts.StatusTodo))

	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("Open t1 error: %v", err)
	}
	if err := s.Open(context.Background(), "t2"); err != nil {
		t.Fatalf("Open t2 error: %v", err)
	}

	if len(channel.left) != 1 || channel.left[0] != "t1" {
		t.Fatalf("old scope not left: %v", channel.left)
	}
	if channel.current != "t2" {
		t.Fatalf("current scope %q, want t2", channel.current)
	}

	// A straggler comment for the old task is dropped.
	channel.emit(contracts.Event{
		Name:    contracts.EventCommentAdded,
		Comment: &contracts.Comment{ID: "c9", TaskID: "t1", Text: "late"},
	})
	if groups := s.Comments(time.Now()); len(groups) != 0 {
		t.Fatalf("stale comment leaked into new thread: %+v", groups)
	}
}

func TestSession_StaleCommentFetchDiscarded(t *testing.T) {
	channel := newFakeChannel()
	release := make(chan struct{})
	api := &fakeAPI{}
	api.taskComments = func(_ context.Context, taskID string) ([]contracts.Comment, error) {
		if taskID == "t1" {
			<-release
			return []contracts.Comment{{ID: "c1", TaskID: "t1", Text: "slow"}}, nil
		}
		return nil, nil
	}
	s := seededSession(t, api, channel, boardTask("t1", contracts.StatusTodo), boardTask("t2", contracts.StatusTodo))

	done := make(chan error, 1)
	go func() { done <- s.Open(context.Background(), "t1") }()
	// Let the slow fetch start, then supersede the selection.
	time.Sleep(20 * time.Millisecond)
	if err := s.Open(context.Background(), "t2"); err != nil {
		t.Fatalf("Open t2 error: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Open t1 error: %v", err)
	}

	task, ok := s.OpenTask()
	if !ok || task.ID != "t2" {
		t.Fatalf("open task %+v, want t2", task)
	}
	for _, group := range s.Comments(time.Now()) {
		for _, c := range group.Comments {
			if c.TaskID == "t1" {
				t.Fatalf("stale fetch applied: %+v", c)
			}
		}
	}
	// The superseded load must not have re-joined t1.
	if channel.current != "t2" {
		t.Fatalf("current scope %q, want t2", channel.current)
	}
}

func TestSession_MoveTaskOptimisticThenRollbackOnRejection(t *testing.T) {
	channel := newFakeChannel()
	var refetched bool
	api := &fakeAPI{}
	calls := 0
	api.listTasks = func(context.Context, apiclient.TaskFilter) (apiclient.TaskPage, error) {
		calls++
		if calls > 1 {
			refetched = true
		}
		return apiclient.TaskPage{
			Tasks:      []contracts.Task{boardTask("t1", contracts.StatusTodo)},
			TotalTasks: 1,
			TotalPages: 1,
		}, nil
	}
	api.updateTask = func(context.Context, string, apiclient.TaskInput) (contracts.Task, error) {
		return contracts.Task{}, errors.New("rejected")
	}
	s := seededSession(t, api, channel)

	err := s.MoveTask(context.Background(), contracts.StatusTodo, 0, contracts.StatusDone, 0)
	if err == nil {
		t.Fatal("expected move rejection")
	}
	if !refetched {
		t.Fatal("rejected move did not trigger a re-fetch")
	}
	// The re-fetch restored the server's truth.
	task, _ := s.cache.Get("t1")
	if task.Status != contracts.StatusTodo {
		t.Fatalf("task status %q after rollback, want To Do", task.Status)
	}
}

func TestSession_MoveTaskSameColumnStaysLocal(t *testing.T) {
	channel := newFakeChannel()
	api := &fakeAPI{}
	api.updateTask = func(context.Context, string, apiclient.TaskInput) (contracts.Task, error) {
		t.Fatal("same-column reorder must not call the API")
		return contracts.Task{}, nil
	}
	s := seededSession(t, api, channel, boardTask("t1", contracts.StatusTodo), boardTask("t2", contracts.StatusTodo))

	if err := s.MoveTask(context.Background(), contracts.StatusTodo, 0, contracts.StatusTodo, 1); err != nil {
		t.Fatalf("MoveTask error: %v", err)
	}
	board := s.Board()
	if board[0].Tasks[0].ID != "t2" || board[0].Tasks[1].ID != "t1" {
		t.Fatalf("reorder not applied: %v", board[0].Tasks)
	}
}

func TestSession_AddCommentEchoDeduplicated(t *testing.T) {
	channel := newFakeChannel()
	s := seededSession(t, &fakeAPI{}, channel, boardTask("t1", contracts.StatusTodo))
	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	created, err := s.AddComment(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("AddComment error: %v", err)
	}

	// The server pushes the same comment back to the task scope.
	channel.emit(contracts.Event{Name: contracts.EventCommentAdded, Comment: &created})

	total := 0
	for _, group := range s.Comments(time.Now()) {
		total += len(group.Comments)
	}
	if total != 1 {
		t.Fatalf("expected 1 comment after echo, got %d", total)
	}
	task, _ := s.OpenTask()
	if task.CommentCount != 1 {
		t.Fatalf("comment count %d, want 1", task.CommentCount)
	}
}

func TestSession_TaskUnassignedClosesOpenTask(t *testing.T) {
	channel := newFakeChannel()
	s := seededSession(t, &fakeAPI{}, channel, boardTask("t1", contracts.StatusTodo))
	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	channel.emit(contracts.Event{Name: contracts.EventTaskUnassigned, TaskID: "t1"})

	if _, ok := s.OpenTask(); ok {
		t.Fatal("unassigned task still open")
	}
	if channel.current != "" {
		t.Fatalf("task scope %q still joined", channel.current)
	}
	if len(s.Tasks()) != 0 {
		t.Fatalf("task still cached: %v", s.Tasks())
	}
}

func TestSession_TeamEventsMaintainRoster(t *testing.T) {
	channel := newFakeChannel()
	s := seededSession(t, &fakeAPI{}, channel)

	channel.emit(contracts.Event{Name: contracts.EventTeamAdded, Team: &contracts.Team{ID: "g1", Name: "Core"}})
	channel.emit(contracts.Event{Name: contracts.EventTeamUpdated, Team: &contracts.Team{ID: "g1", Name: "Core v2"}})
	if teams := s.Teams(); len(teams) != 1 || teams[0].Name != "Core v2" {
		t.Fatalf("unexpected teams: %+v", teams)
	}
	channel.emit(contracts.Event{Name: contracts.EventTeamRemoved, TeamID: "g1"})
	if teams := s.Teams(); len(teams) != 0 {
		t.Fatalf("team not removed: %+v", teams)
	}
}

func TestSession_MentionCandidatesForOpenTask(t *testing.T) {
	channel := newFakeChannel()
	task := boardTask("t1", contracts.StatusTodo)
	task.Assignees = []contracts.User{{ID: "viewer", Name: "Me"}, {ID: "b", Name: "Bob"}}
	task.CreatedBy = &contracts.User{ID: "d", Name: "Dave"}
	s := seededSession(t, &fakeAPI{}, channel, task)
	if err := s.Open(context.Background(), "t1"); err != nil {
		t.Fatalf("Open error: %v", err)
	}

	got, err := s.MentionCandidates()
	if err != nil {
		t.Fatalf("MentionCandidates error: %v", err)
	}
	// Everyone + Bob (assignee) + Dave (creator); the viewer is excluded.
	if len(got) != 3 || got[0].Name != "Everyone" || got[1].ID != "b" || got[2].ID != "d" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}
