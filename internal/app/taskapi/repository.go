package taskapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/project/internal/contracts"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrCommentNotFound = errors.New("comment not found")
	ErrLinkNotFound    = errors.New("link not found")
)

// Filter narrows ListTasks. ViewerID restricts visibility to tasks the
// viewer is assigned to, created, or reaches through a team; empty means no
// restriction (admin and manager views).
type Filter struct {
	Search   string
	Status   string
	Priority string
	DueDate  string
	ViewerID string
	Page     int
	Limit    int
}

// StatCounts feeds the dashboard aggregates. Window counts cover task
// creation in the current and previous 7-day windows.
type StatCounts struct {
	TotalUsers        int
	TotalTasks        int
	PendingTasks      int
	CompletedTasks    int
	ActiveTeams       int
	HighPriorityTasks int

	TasksThisWindow     int
	TasksPrevWindow     int
	PendingThisWindow   int
	PendingPrevWindow   int
	CompletedThisWindow int
	CompletedPrevWindow int
	TeamsThisWindow     int
	TeamsPrevWindow     int
}

type Repository interface {
	EnsureSchema(ctx context.Context) error

	CreateTask(ctx context.Context, task contracts.Task, assigneeIDs []string, teamID string) error
	UpdateTask(ctx context.Context, task contracts.Task, assigneeIDs []string, teamID string) error
	DeleteTask(ctx context.Context, taskID string) error
	GetTask(ctx context.Context, taskID string) (contracts.Task, error)
	ListTasks(ctx context.Context, filter Filter) ([]contracts.Task, int, error)

	AddLink(ctx context.Context, taskID string, link contracts.Link) error
	DeleteLink(ctx context.Context, taskID, linkID string) error

	CreateComment(ctx context.Context, comment contracts.Comment) error
	GetComment(ctx context.Context, commentID string) (contracts.Comment, error)
	ListComments(ctx context.Context, taskID string) ([]contracts.Comment, error)
	SetCommentPinned(ctx context.Context, commentID string, pinned bool) error
	SoftDeleteComment(ctx context.Context, commentID string) error

	CountStats(ctx context.Context, now time.Time) (StatCounts, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  id text PRIMARY KEY,
  title text NOT NULL,
  description text NOT NULL,
  status text NOT NULL,
  priority text NOT NULL,
  due_date timestamptz,
  team_id text REFERENCES teams(id) ON DELETE SET NULL,
  created_by text NOT NULL REFERENCES users(id),
  comment_count integer NOT NULL DEFAULT 0,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const createTaskAssigneesSQL = `
CREATE TABLE IF NOT EXISTS task_assignees (
  task_id text NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  PRIMARY KEY (task_id, user_id)
)`

const createTaskLinksSQL = `
CREATE TABLE IF NOT EXISTS task_links (
  id text PRIMARY KEY,
  task_id text NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  title text NOT NULL,
  url text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createCommentsSQL = `
CREATE TABLE IF NOT EXISTS comments (
  id text PRIMARY KEY,
  task_id text NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  user_id text NOT NULL REFERENCES users(id),
  text text NOT NULL,
  reply_to_id text,
  reply_to_text text NOT NULL DEFAULT '',
  reply_to_user_id text,
  pinned boolean NOT NULL DEFAULT false,
  deleted boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createCommentsTaskIdxSQL = `
CREATE INDEX IF NOT EXISTS comments_task_created_idx ON comments (task_id, created_at)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		createTasksSQL,
		createTaskAssigneesSQL,
		createTaskLinksSQL,
		createCommentsSQL,
		createCommentsTaskIdxSQL,
	}
	for _, stmt := range stmts {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) CreateTask(ctx context.Context, task contracts.Task, assigneeIDs []string, teamID string) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var createdBy string
	if task.CreatedBy != nil {
		createdBy = task.CreatedBy.ID
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO tasks (id, title, description, status, priority, due_date, team_id, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $9)`,
		task.ID, task.Title, task.Description, task.Status, task.Priority,
		task.DueDate, teamID, createdBy, task.CreatedAt,
	); err != nil {
		return err
	}
	for _, userID := range assigneeIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			task.ID, userID,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateTask(ctx context.Context, task contracts.Task, assigneeIDs []string, teamID string) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx,
		`UPDATE tasks
		 SET title = $2, description = $3, status = $4, priority = $5,
		     due_date = $6, team_id = NULLIF($7, ''), updated_at = $8
		 WHERE id = $1`,
		task.ID, task.Title, task.Description, task.Status, task.Priority,
		task.DueDate, teamID, task.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM task_assignees WHERE task_id = $1`, task.ID); err != nil {
		return err
	}
	for _, userID := range assigneeIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_assignees (task_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			task.ID, userID,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) DeleteTask(ctx context.Context, taskID string) error {
	res, err := r.Pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

const taskColumnsSQL = `
SELECT t.id, t.title, t.description, t.status, t.priority, t.due_date,
       t.team_id, t.comment_count, t.created_at, t.updated_at,
       c.id, c.name, c.email, c.role, c.profile_picture
FROM tasks t
INNER JOIN users c ON c.id = t.created_by`

func (r *PostgresRepository) GetTask(ctx context.Context, taskID string) (contracts.Task, error) {
	row := r.Pool.QueryRow(ctx, taskColumnsSQL+` WHERE t.id = $1`, taskID)
	task, teamID, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.Task{}, ErrTaskNotFound
		}
		return contracts.Task{}, err
	}
	if err := r.hydrateTask(ctx, &task, teamID); err != nil {
		return contracts.Task{}, err
	}
	return task, nil
}

func (r *PostgresRepository) ListTasks(ctx context.Context, filter Filter) ([]contracts.Task, int, error) {
	where, args := buildTaskFilter(filter)

	var total int
	countSQL := `SELECT count(*) FROM tasks t` + where
	if err := r.Pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL := taskColumnsSQL + where + ` ORDER BY t.created_at DESC`
	if filter.Limit > 0 {
		offset := 0
		if filter.Page > 1 {
			offset = (filter.Page - 1) * filter.Limit
		}
		listSQL += fmt.Sprintf(` LIMIT %d OFFSET %d`, filter.Limit, offset)
	}

	rows, err := r.Pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := make([]contracts.Task, 0)
	teamIDs := make([]string, 0)
	for rows.Next() {
		task, teamID, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
		teamIDs = append(teamIDs, teamID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range tasks {
		if err := r.hydrateTask(ctx, &tasks[i], teamIDs[i]); err != nil {
			return nil, 0, err
		}
	}
	return tasks, total, nil
}

func buildTaskFilter(filter Filter) (string, []any) {
	clauses := []string{}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Search != "" {
		clauses = append(clauses, `t.title ILIKE `+arg("%"+filter.Search+"%"))
	}
	if filter.Status != "" {
		clauses = append(clauses, `t.status = `+arg(filter.Status))
	}
	if filter.Priority != "" {
		clauses = append(clauses, `t.priority = `+arg(filter.Priority))
	}
	if filter.DueDate != "" {
		clauses = append(clauses, `t.due_date::date = `+arg(filter.DueDate)+`::date`)
	}
	if filter.ViewerID != "" {
		viewer := arg(filter.ViewerID)
		clauses = append(clauses, `(
			t.created_by = `+viewer+`
			OR EXISTS (SELECT 1 FROM task_assignees ta WHERE ta.task_id = t.id AND ta.user_id = `+viewer+`)
			OR EXISTS (SELECT 1 FROM team_members tm WHERE tm.team_id = t.team_id AND tm.user_id = `+viewer+`)
		)`)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (contracts.Task, string, error) {
	var (
		task    contracts.Task
		teamID  *string
		creator contracts.User
	)
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&task.DueDate, &teamID, &task.CommentCount, &task.CreatedAt, &task.UpdatedAt,
		&creator.ID, &creator.Name, &creator.Email, &creator.Role, &creator.ProfilePicture,
	)
	if err != nil {
		return contracts.Task{}, "", err
	}
	task.CreatedBy = &creator
	if teamID != nil {
		return task, *teamID, nil
	}
	return task, "", nil
}

func (r *PostgresRepository) hydrateTask(ctx context.Context, task *contracts.Task, teamID string) error {
	assignees, err := r.taskAssignees(ctx, task.ID)
	if err != nil {
		return err
	}
	task.Assignees = assignees

	links, err := r.taskLinks(ctx, task.ID)
	if err != nil {
		return err
	}
	task.Links = links

	if teamID != "" {
		team, err := r.taskTeam(ctx, teamID)
		if err != nil {
			return err
		}
		task.Team = &team
	}
	return nil
}

func (r *PostgresRepository) taskAssignees(ctx context.Context, taskID string) ([]contracts.User, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT u.id, u.name, u.email, u.role, u.profile_picture
		 FROM users u
		 INNER JOIN task_assignees ta ON ta.user_id = u.id
		 WHERE ta.task_id = $1
		 ORDER BY u.name ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]contracts.User, 0)
	for rows.Next() {
		var u contracts.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ProfilePicture); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) taskLinks(ctx context.Context, taskID string) ([]contracts.Link, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, title, url FROM task_links WHERE task_id = $1 ORDER BY created_at ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]contracts.Link, 0)
	for rows.Next() {
		var l contracts.Link
		if err := rows.Scan(&l.ID, &l.Title, &l.URL); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *PostgresRepository) taskTeam(ctx context.Context, teamID string) (contracts.Team, error) {
	var team contracts.Team
	err := r.Pool.QueryRow(ctx,
		`SELECT id, name, profile_picture FROM teams WHERE id = $1`, teamID,
	).Scan(&team.ID, &team.Name, &team.ProfilePicture)
	if err != nil {
		return contracts.Team{}, err
	}
	rows, err := r.Pool.Query(ctx,
		`SELECT u.id, u.name, u.email, u.role, u.profile_picture
		 FROM users u
		 INNER JOIN team_members tm ON tm.user_id = u.id
		 WHERE tm.team_id = $1
		 ORDER BY u.name ASC`,
		teamID,
	)
	if err != nil {
		return contracts.Team{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var u contracts.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ProfilePicture); err != nil {
			return contracts.Team{}, err
		}
		team.Members = append(team.Members, u)
	}
	return team, rows.Err()
}

func (r *PostgresRepository) AddLink(ctx context.Context, taskID string, link contracts.Link) error {
	res, err := r.Pool.Exec(ctx,
		`INSERT INTO task_links (id, task_id, title, url)
		 SELECT $1, $2, $3, $4 WHERE EXISTS (SELECT 1 FROM tasks WHERE id = $2)`,
		link.ID, taskID, link.Title, link.URL,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteLink(ctx context.Context, taskID, linkID string) error {
	res, err := r.Pool.Exec(ctx,
		`DELETE FROM task_links WHERE id = $1 AND task_id = $2`, linkID, taskID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateComment(ctx context.Context, comment contracts.Comment) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var userID, replyToID, replyToText, replyToUserID string
	if comment.User != nil {
		userID = comment.User.ID
	}
	if comment.ReplyTo != nil {
		replyToID = comment.ReplyTo.ID
		replyToText = comment.ReplyTo.Text
		if comment.ReplyTo.User != nil {
			replyToUserID = comment.ReplyTo.User.ID
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO comments (id, task_id, user_id, text, reply_to_id, reply_to_text, reply_to_user_id, pinned, deleted, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10)`,
		comment.ID, comment.TaskID, userID, comment.Text,
		replyToID, replyToText, replyToUserID,
		comment.Pinned, comment.Deleted, comment.CreatedAt,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET comment_count = comment_count + 1 WHERE id = $1`,
		comment.TaskID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const commentColumnsSQL = `
SELECT c.id, c.task_id, c.text, c.reply_to_id, c.reply_to_text, c.reply_to_user_id,
       c.pinned, c.deleted, c.created_at,
       u.id, u.name, u.role, u.profile_picture
FROM comments c
INNER JOIN users u ON u.id = c.user_id`

func (r *PostgresRepository) GetComment(ctx context.Context, commentID string) (contracts.Comment, error) {
	row := r.Pool.QueryRow(ctx, commentColumnsSQL+` WHERE c.id = $1`, commentID)
	comment, err := scanComment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.Comment{}, ErrCommentNotFound
		}
		return contracts.Comment{}, err
	}
	return comment, nil
}

func (r *PostgresRepository) ListComments(ctx context.Context, taskID string) ([]contracts.Comment, error) {
	rows, err := r.Pool.Query(ctx,
		commentColumnsSQL+` WHERE c.task_id = $1 ORDER BY c.created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]contracts.Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

func scanComment(row rowScanner) (contracts.Comment, error) {
	var (
		comment       contracts.Comment
		user          contracts.User
		replyToID     *string
		replyToText   string
		replyToUserID *string
	)
	err := row.Scan(
		&comment.ID, &comment.TaskID, &comment.Text,
		&replyToID, &replyToText, &replyToUserID,
		&comment.Pinned, &comment.Deleted, &comment.CreatedAt,
		&user.ID, &user.Name, &user.Role, &user.ProfilePicture,
	)
	if err != nil {
		return contracts.Comment{}, err
	}
	comment.User = &user
	if replyToID != nil {
		ref := &contracts.CommentRef{ID: *replyToID, Text: replyToText}
		if replyToUserID != nil {
			ref.User = &contracts.User{ID: *replyToUserID}
		}
		comment.ReplyTo = ref
	}
	if comment.Deleted {
		comment.Text = ""
	}
	return comment, nil
}

func (r *PostgresRepository) SetCommentPinned(ctx context.Context, commentID string, pinned bool) error {
	res, err := r.Pool.Exec(ctx,
		`UPDATE comments SET pinned = $2 WHERE id = $1 AND NOT deleted`, commentID, pinned)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrCommentNotFound
	}
	return nil
}

func (r *PostgresRepository) SoftDeleteComment(ctx context.Context, commentID string) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var taskID string
	err = tx.QueryRow(ctx,
		`UPDATE comments SET deleted = true, pinned = false WHERE id = $1 AND NOT deleted RETURNING task_id`,
		commentID,
	).Scan(&taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCommentNotFound
		}
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET comment_count = GREATEST(comment_count - 1, 0) WHERE id = $1`, taskID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) CountStats(ctx context.Context, now time.Time) (StatCounts, error) {
	var s StatCounts
	windowStart := now.AddDate(0, 0, -7)
	prevStart := now.AddDate(0, 0, -14)

	err := r.Pool.QueryRow(ctx, `
		SELECT
		  (SELECT count(*) FROM users),
		  (SELECT count(*) FROM tasks),
		  (SELECT count(*) FROM tasks WHERE status <> $1),
		  (SELECT count(*) FROM tasks WHERE status = $1),
		  (SELECT count(*) FROM teams),
		  (SELECT count(*) FROM tasks WHERE priority = $2 AND status <> $1),
		  (SELECT count(*) FROM tasks WHERE created_at >= $3),
		  (SELECT count(*) FROM tasks WHERE created_at >= $4 AND created_at < $3),
		  (SELECT count(*) FROM tasks WHERE status <> $1 AND created_at >= $3),
		  (SELECT count(*) FROM tasks WHERE status <> $1 AND created_at >= $4 AND created_at < $3),
		  (SELECT count(*) FROM tasks WHERE status = $1 AND updated_at >= $3),
		  (SELECT count(*) FROM tasks WHERE status = $1 AND updated_at >= $4 AND updated_at < $3),
		  (SELECT count(*) FROM teams WHERE created_at >= $3),
		  (SELECT count(*) FROM teams WHERE created_at >= $4 AND created_at < $3)`,
		contracts.StatusDone, contracts.PriorityHigh, windowStart, prevStart,
	).Scan(
		&s.TotalUsers, &s.TotalTasks, &s.PendingTasks, &s.CompletedTasks,
		&s.ActiveTeams, &s.HighPriorityTasks,
		&s.TasksThisWindow, &s.TasksPrevWindow,
		&s.PendingThisWindow, &s.PendingPrevWindow,
		&s.CompletedThisWindow, &s.CompletedPrevWindow,
		&s.TeamsThisWindow, &s.TeamsPrevWindow,
	)
	return s, err
}
