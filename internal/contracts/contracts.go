package contracts

import "time"

// Task statuses double as board column identifiers.
const (
	StatusTodo       = "To Do"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
)

const (
	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

// Statuses lists the board columns in display order.
func Statuses() []string {
	return []string{StatusTodo, StatusInProgress, StatusDone}
}

func IsValidStatus(status string) bool {
	switch status {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

func IsValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type Team struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	Members        []User `json:"members"`
}

type Link struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Task is the canonical task record shared by the API, the push channel and the
// client-side cache. Assignees and Team are mutually exclusive: at most one of
// them is set, and a task with neither is unassigned.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Assignees    []User     `json:"assignees"`
	Team         *Team      `json:"team,omitempty"`
	CreatedBy    *User      `json:"created_by,omitempty"`
	CommentCount int        `json:"comment_count"`
	Links        []Link     `json:"links"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CommentRef is the denormalized snippet of a quoted comment carried on replies.
type CommentRef struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	User *User  `json:"user,omitempty"`
}

// Comment belongs to exactly one task. Deleted comments stay in the thread as
// tombstones so positions and day grouping remain stable.
type Comment struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	User      *User       `json:"user,omitempty"`
	Text      string      `json:"text"`
	ReplyTo   *CommentRef `json:"reply_to,omitempty"`
	Pinned    bool        `json:"is_pinned"`
	Deleted   bool        `json:"is_deleted"`
	CreatedAt time.Time   `json:"created_at"`
}

// StatValue pairs a current value with its delta against the previous
// 7-day window.
type StatValue struct {
	Value int `json:"value"`
	Trend int `json:"trend"`
}

type DashboardStats struct {
	TotalUsers        int       `json:"totalUsers"`
	TotalTasks        StatValue `json:"totalTasks"`
	PendingTasks      StatValue `json:"pendingTasks"`
	CompletedTasks    StatValue `json:"completedTasks"`
	ActiveTeams       StatValue `json:"activeTeams"`
	HighPriorityTasks int       `json:"highPriorityTasks"`
}

// Domain event names delivered over the push channel. Task and team events are
// published to user scopes, comment events to the owning task's scope.
const (
	EventTaskUpdated        = "taskUpdated"
	EventTaskAssigned       = "taskAssigned"
	EventTaskUnassigned     = "taskUnassigned"
	EventTaskAssignedToTeam = "taskAssignedToTeam"
	EventTeamAdded          = "teamAdded"
	EventTeamRemoved        = "teamRemoved"
	EventTeamUpdated        = "teamUpdated"
	EventCommentAdded       = "commentAdded"
	EventCommentDeleted     = "commentDeleted"
	EventCommentUpdated     = "commentUpdated"
)

// Event is the JSON envelope carried on every push message. Message is always
// set; the entity fields are filled according to the event name.
type Event struct {
	Name      string    `json:"event"`
	Message   string    `json:"message"`
	Task      *Task     `json:"task,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Comment   *Comment  `json:"comment,omitempty"`
	CommentID string    `json:"comment_id,omitempty"`
	Team      *Team     `json:"team,omitempty"`
	TeamID    string    `json:"team_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}
