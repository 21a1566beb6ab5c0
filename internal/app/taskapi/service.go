package taskapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/messaging"
	"github.com/taskboard/project/internal/platform/auth"
)

var (
	ErrTitleRequired       = errors.New("title is required")
	ErrDescriptionRequired = errors.New("description is required")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrAssigneesAndTeam    = errors.New("task cannot have both assignees and a team")
	ErrTeamHasNoMembers    = errors.New("team has no members")
	ErrForbidden           = errors.New("insufficient permissions for this action")
	ErrTextRequired        = errors.New("comment text is required")
	ErrLinkFieldsRequired  = errors.New("link title and url are required")
)

// TeamDirectory resolves team rosters during validation and event fan-out.
// The identity repository satisfies it.
type TeamDirectory interface {
	GetTeam(ctx context.Context, teamID string) (contracts.Team, error)
}

// TaskInput is a create or partial-update request. Nil pointers leave the
// stored value unchanged on update; AssigneeIDs and TeamID are mutually
// exclusive when set.
type TaskInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	AssigneeIDs []string   `json:"assignee_ids"`
	TeamID      *string    `json:"team_id"`
}

type CommentInput struct {
	TaskID  string `json:"task_id"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to"`
}

type Page struct {
	Tasks      []contracts.Task `json:"tasks"`
	TotalTasks int              `json:"totalTasks"`
	TotalPages int              `json:"totalPages"`
}

type Service struct {
	Repo   Repository
	Teams  TeamDirectory
	Events *messaging.EventPublisher
	NewID  func() string
	Now    func() time.Time
}

func NewService(repo Repository, teams TeamDirectory, events *messaging.EventPublisher) *Service {
	return &Service{
		Repo:   repo,
		Teams:  teams,
		Events: events,
		NewID:  nuid.Next,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// ListTasks applies the viewer's visibility: admins and managers see every
// task, plain users only what they created or are assigned to.
func (s *Service) ListTasks(ctx context.Context, actor auth.Claims, filter Filter) (Page, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Status != "" && !contracts.IsValidStatus(filter.Status) {
		return Page{}, ErrInvalidStatus
	}
	if filter.Priority != "" && !contracts.IsValidPriority(filter.Priority) {
		return Page{}, ErrInvalidPriority
	}
	if !auth.IsManagerRole(actor.Role) {
		filter.ViewerID = actor.Subject
	}

	tasks, total, err := s.Repo.ListTasks(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	totalPages := (total + filter.Limit - 1) / filter.Limit
	if totalPages == 0 {
		totalPages = 1
	}
	return Page{Tasks: tasks, TotalTasks: total, TotalPages: totalPages}, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (contracts.Task, error) {
	return s.Repo.GetTask(ctx, taskID)
}

func (s *Service) CreateTask(ctx context.Context, actor auth.Claims, input TaskInput) (contracts.Task, error) {
	if !auth.IsManagerRole(actor.Role) {
		return contracts.Task{}, ErrForbidden
	}
	title := deref(input.Title)
	description := deref(input.Description)
	if strings.TrimSpace(title) == "" {
		return contracts.Task{}, ErrTitleRequired
	}
	if strings.TrimSpace(description) == "" {
		return contracts.Task{}, ErrDescriptionRequired
	}
	status := deref(input.Status)
	if status == "" {
		status = contracts.StatusTodo
	}
	if !contracts.IsValidStatus(status) {
		return contracts.Task{}, ErrInvalidStatus
	}
	priority := deref(input.Priority)
	if priority == "" {
		priority = contracts.PriorityMedium
	}
	if !contracts.IsValidPriority(priority) {
		return contracts.Task{}, ErrInvalidPriority
	}
	teamID := deref(input.TeamID)
	if err := s.validateAssignment(ctx, input.AssigneeIDs, teamID); err != nil {
		return contracts.Task{}, err
	}

	now := s.Now()
	task := contracts.Task{
		ID:          s.NewID(),
		Title:       strings.TrimSpace(title),
		Description: description,
		Status:      status,
		Priority:    priority,
		DueDate:     input.DueDate,
		CreatedBy:   &contracts.User{ID: actor.Subject},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.CreateTask(ctx, task, input.AssigneeIDs, teamID); err != nil {
		return contracts.Task{}, err
	}
	created, err := s.Repo.GetTask(ctx, task.ID)
	if err != nil {
		return contracts.Task{}, err
	}

	s.publishAssignment(created, actor.Subject, nil)
	return created, nil
}

func (s *Service) UpdateTask(ctx context.Context, actor auth.Claims, taskID string, input TaskInput) (contracts.Task, error) {
	previous, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return contracts.Task{}, err
	}
	if !auth.IsManagerRole(actor.Role) {
		// Plain users may only move their own tasks between columns.
		if !statusOnlyInput(input) || !isAffected(previous, actor.Subject) {
			return contracts.Task{}, ErrForbidden
		}
	}

	updated := previous
	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return contracts.Task{}, ErrTitleRequired
		}
		updated.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		if strings.TrimSpace(*input.Description) == "" {
			return contracts.Task{}, ErrDescriptionRequired
		}
		updated.Description = *input.Description
	}
	if input.Status != nil {
		if !contracts.IsValidStatus(*input.Status) {
			return contracts.Task{}, ErrInvalidStatus
		}
		updated.Status = *input.Status
	}
	if input.Priority != nil {
		if !contracts.IsValidPriority(*input.Priority) {
			return contracts.Task{}, ErrInvalidPriority
		}
		updated.Priority = *input.Priority
	}
	if input.DueDate != nil {
		updated.DueDate = input.DueDate
	}

	assigneeIDs := userIDs(previous.Assignees)
	teamID := ""
	if previous.Team != nil {
		teamID = previous.Team.ID
	}
	if input.AssigneeIDs != nil {
		if err := s.validateAssignment(ctx, input.AssigneeIDs, ""); err != nil {
			return contracts.Task{}, err
		}
		assigneeIDs = input.AssigneeIDs
		teamID = ""
	}
	if input.TeamID != nil {
		if *input.TeamID != "" {
			if input.AssigneeIDs != nil && len(input.AssigneeIDs) > 0 {
				return contracts.Task{}, ErrAssigneesAndTeam
			}
			if err := s.validateAssignment(ctx, nil, *input.TeamID); err != nil {
				return contracts.Task{}, err
			}
			assigneeIDs = nil
		}
		teamID = *input.TeamID
	}

	updated.UpdatedAt = s.Now()
	if err := s.Repo.UpdateTask(ctx, updated, assigneeIDs, teamID); err != nil {
		return contracts.Task{}, err
	}
	result, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return contracts.Task{}, err
	}

	s.publishAssignment(result, actor.Subject, &previous)
	return result, nil
}

func (s *Service) DeleteTask(ctx context.Context, actor auth.Claims, taskID string) error {
	if !auth.IsManagerRole(actor.Role) {
		return ErrForbidden
	}
	task, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.publish(contracts.Event{
		Name:    contracts.EventTaskUnassigned,
		Message: "Task " + task.Title + " was deleted",
		TaskID:  taskID,
		ActorID: actor.Subject,
	}, affectedUserIDs(task))
	return nil
}

func (s *Service) AddLink(ctx context.Context, actor auth.Claims, taskID, title, url string) ([]contracts.Link, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(url) == "" {
		return nil, ErrLinkFieldsRequired
	}
	link := contracts.Link{ID: s.NewID(), Title: strings.TrimSpace(title), URL: strings.TrimSpace(url)}
	if err := s.Repo.AddLink(ctx, taskID, link); err != nil {
		return nil, err
	}
	return s.linksChanged(ctx, actor, taskID)
}

func (s *Service) DeleteLink(ctx context.Context, actor auth.Claims, taskID, linkID string) ([]contracts.Link, error) {
	if err := s.Repo.DeleteLink(ctx, taskID, linkID); err != nil {
		return nil, err
	}
	return s.linksChanged(ctx, actor, taskID)
}

func (s *Service) linksChanged(ctx context.Context, actor auth.Claims, taskID string) ([]contracts.Link, error) {
	task, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.publish(contracts.Event{
		Name:    contracts.EventTaskUpdated,
		Message: "Task " + task.Title + " was updated",
		Task:    &task,
		ActorID: actor.Subject,
	}, affectedUserIDs(task))
	return task.Links, nil
}

func (s *Service) ListComments(ctx context.Context, taskID string) ([]contracts.Comment, error) {
	if _, err := s.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.Repo.ListComments(ctx, taskID)
}

func (s *Service) CreateComment(ctx context.Context, actor auth.Claims, input CommentInput) (contracts.Comment, error) {
	if strings.TrimSpace(input.Text) == "" {
		return contracts.Comment{}, ErrTextRequired
	}
	if _, err := s.Repo.GetTask(ctx, input.TaskID); err != nil {
		return contracts.Comment{}, err
	}

	comment := contracts.Comment{
		ID:        s.NewID(),
		TaskID:    input.TaskID,
		User:      &contracts.User{ID: actor.Subject, Name: actor.Name},
		Text:      input.Text,
		CreatedAt: s.Now(),
	}
	if input.ReplyTo != "" {
		quoted, err := s.Repo.GetComment(ctx, input.ReplyTo)
		if err != nil {
			return contracts.Comment{}, err
		}
		comment.ReplyTo = &contracts.CommentRef{ID: quoted.ID, Text: quoted.Text, User: quoted.User}
	}
	if err := s.Repo.CreateComment(ctx, comment); err != nil {
		return contracts.Comment{}, err
	}
	created, err := s.Repo.GetComment(ctx, comment.ID)
	if err != nil {
		// The row was written; fall back to the input form.
		created = comment
	}

	s.publishToTask(contracts.Event{
		Name:    contracts.EventCommentAdded,
		Message: actor.Name + " commented",
		Comment: &created,
		TaskID:  input.TaskID,
		ActorID: actor.Subject,
	}, input.TaskID)
	return created, nil
}

func (s *Service) TogglePin(ctx context.Context, actor auth.Claims, commentID string) (contracts.Comment, error) {
	comment, err := s.Repo.GetComment(ctx, commentID)
	if err != nil {
		return contracts.Comment{}, err
	}
	if err := s.Repo.SetCommentPinned(ctx, commentID, !comment.Pinned); err != nil {
		return contracts.Comment{}, err
	}
	comment.Pinned = !comment.Pinned

	s.publishToTask(contracts.Event{
		Name:    contracts.EventCommentUpdated,
		Message: "Comment pin changed",
		Comment: &comment,
		TaskID:  comment.TaskID,
		ActorID: actor.Subject,
	}, comment.TaskID)
	return comment, nil
}

func (s *Service) DeleteComment(ctx context.Context, actor auth.Claims, commentID string) error {
	comment, err := s.Repo.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	author := comment.User != nil && comment.User.ID == actor.Subject
	if !author && !auth.IsManagerRole(actor.Role) {
		return ErrForbidden
	}
	if err := s.Repo.SoftDeleteComment(ctx, commentID); err != nil {
		return err
	}

	s.publishToTask(contracts.Event{
		Name:      contracts.EventCommentDeleted,
		Message:   "Comment deleted",
		CommentID: commentID,
		TaskID:    comment.TaskID,
		ActorID:   actor.Subject,
	}, comment.TaskID)
	return nil
}

// DashboardStats maps raw counts to the dashboard payload; trends are the
// delta between the current and previous 7-day windows.
func (s *Service) DashboardStats(ctx context.Context) (contracts.DashboardStats, error) {
	counts, err := s.Repo.CountStats(ctx, s.Now())
	if err != nil {
		return contracts.DashboardStats{}, err
	}
	return contracts.DashboardStats{
		TotalUsers:        counts.TotalUsers,
		TotalTasks:        contracts.StatValue{Value: counts.TotalTasks, Trend: counts.TasksThisWindow - counts.TasksPrevWindow},
		PendingTasks:      contracts.StatValue{Value: counts.PendingTasks, Trend: counts.PendingThisWindow - counts.PendingPrevWindow},
		CompletedTasks:    contracts.StatValue{Value: counts.CompletedTasks, Trend: counts.CompletedThisWindow - counts.CompletedPrevWindow},
		ActiveTeams:       contracts.StatValue{Value: counts.ActiveTeams, Trend: counts.TeamsThisWindow - counts.TeamsPrevWindow},
		HighPriorityTasks: counts.HighPriorityTasks,
	}, nil
}

func (s *Service) validateAssignment(ctx context.Context, assigneeIDs []string, teamID string) error {
	if len(assigneeIDs) > 0 && teamID != "" {
		return ErrAssigneesAndTeam
	}
	if teamID != "" {
		team, err := s.Teams.GetTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if len(team.Members) == 0 {
			return ErrTeamHasNoMembers
		}
	}
	return nil
}

// publishAssignment fans out the right events after a create or update:
// newly assigned users get taskAssigned / taskAssignedToTeam, users who lost
// the task get taskUnassigned, everyone still on it gets taskUpdated.
func (s *Service) publishAssignment(task contracts.Task, actorID string, previous *contracts.Task) {
	current := affectedUserIDs(task)
	currentSet := toSet(current)

	var before []string
	if previous != nil {
		before = affectedUserIDs(*previous)
	}
	beforeSet := toSet(before)

	var added, kept, removed []string
	for _, id := range current {
		if beforeSet[id] {
			kept = append(kept, id)
		} else {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !currentSet[id] {
			removed = append(removed, id)
		}
	}

	if len(added) > 0 {
		name := contracts.EventTaskAssigned
		message := "You have been assigned: " + task.Title
		if task.Team != nil {
			name = contracts.EventTaskAssignedToTeam
			message = "Your team was assigned: " + task.Title
		}
		s.publish(contracts.Event{Name: name, Message: message, Task: &task, ActorID: actorID}, added)
	}
	if len(removed) > 0 {
		s.publish(contracts.Event{
			Name:    contracts.EventTaskUnassigned,
			Message: "You are no longer on: " + task.Title,
			TaskID:  task.ID,
			ActorID: actorID,
		}, removed)
	}
	if previous != nil && len(kept) > 0 {
		s.publish(contracts.Event{
			Name:    contracts.EventTaskUpdated,
			Message: "Task " + task.Title + " was updated",
			Task:    &task,
			ActorID: actorID,
		}, kept)
	}
}

func (s *Service) publish(event contracts.Event, userIDs []string) {
	if s.Events == nil || len(userIDs) == 0 {
		return
	}
	_ = s.Events.ToUsers(event, userIDs)
}

func (s *Service) publishToTask(event contracts.Event, taskID string) {
	if s.Events == nil {
		return
	}
	_ = s.Events.ToTask(event, taskID)
}

// affectedUserIDs is everyone whose board shows the task: assignees, team
// members and the creator.
func affectedUserIDs(task contracts.Task) []string {
	var ids []string
	ids = append(ids, userIDs(task.Assignees)...)
	if task.Team != nil {
		ids = append(ids, userIDs(task.Team.Members)...)
	}
	if task.CreatedBy != nil {
		ids = append(ids, task.CreatedBy.ID)
	}
	return ids
}

func isAffected(task contracts.Task, userID string) bool {
	for _, id := range affectedUserIDs(task) {
		if id == userID {
			return true
		}
	}
	return false
}

func statusOnlyInput(input TaskInput) bool {
	return input.Status != nil &&
		input.Title == nil && input.Description == nil && input.Priority == nil &&
		input.DueDate == nil && input.AssigneeIDs == nil && input.TeamID == nil
}

func userIDs(users []contracts.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
