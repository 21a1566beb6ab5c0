package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskboard/project/internal/contracts"
)

var ErrNotFound = errors.New("not found")

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// User is the stored identity record. The password hash never leaves this
// package; handlers expose contracts.User instead.
type User struct {
	ID             string
	Name           string
	Email          string
	PasswordHash   string
	Role           string
	ProfilePicture string
}

func (u User) Public() contracts.User {
	return contracts.User{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           u.Role,
		ProfilePicture: u.ProfilePicture,
	}
}

type RefreshToken struct {
	TokenID   string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type Repository interface {
	EnsureSchema(ctx context.Context) error

	CreateUser(ctx context.Context, user User) error
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	ListUsers(ctx context.Context) ([]contracts.User, error)

	CreateTeam(ctx context.Context, team contracts.Team) error
	UpdateTeam(ctx context.Context, team contracts.Team) error
	DeleteTeam(ctx context.Context, teamID string) error
	GetTeam(ctx context.Context, teamID string) (contracts.Team, error)
	ListTeams(ctx context.Context) ([]contracts.Team, error)

	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenID string) error
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
  id text PRIMARY KEY,
  name text NOT NULL,
  email text NOT NULL UNIQUE,
  password_hash text NOT NULL,
  role text NOT NULL DEFAULT 'user',
  profile_picture text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createTeamsSQL = `
CREATE TABLE IF NOT EXISTS teams (
  id text PRIMARY KEY,
  name text NOT NULL,
  profile_picture text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createTeamMembersSQL = `
CREATE TABLE IF NOT EXISTS team_members (
  team_id text NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  added_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (team_id, user_id)
)`

const createRefreshTokensSQL = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
  token_id text PRIMARY KEY,
  user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  token_hash text NOT NULL UNIQUE,
  expires_at timestamptz NOT NULL,
  revoked_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT now()
)`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createUsersSQL, createTeamsSQL, createTeamMembersSQL, createRefreshTokensSQL} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, profile_picture) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.ProfilePicture,
	)
	return err
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return r.findUser(ctx, `SELECT id, name, email, password_hash, role, profile_picture FROM users WHERE email = $1`, email)
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return r.findUser(ctx, `SELECT id, name, email, password_hash, role, profile_picture FROM users WHERE id = $1`, userID)
}

func (r *PostgresRepository) findUser(ctx context.Context, query, arg string) (User, error) {
	var u User
	err := r.Pool.QueryRow(ctx, query, arg).
		Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.ProfilePicture)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]contracts.User, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, name, email, role, profile_picture FROM users ORDER BY name ASC`)
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

func (r *PostgresRepository) CreateTeam(ctx context.Context, team contracts.Team) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO teams (id, name, profile_picture) VALUES ($1, $2, $3)`,
		team.ID, team.Name, team.ProfilePicture,
	); err != nil {
		return err
	}
	for _, member := range team.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO team_members (team_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			team.ID, member.ID,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateTeam(ctx context.Context, team contracts.Team) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx,
		`UPDATE teams SET name = $2, profile_picture = $3 WHERE id = $1`,
		team.ID, team.Name, team.ProfilePicture,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM team_members WHERE team_id = $1`, team.ID); err != nil {
		return err
	}
	for _, member := range team.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO team_members (team_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			team.ID, member.ID,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) DeleteTeam(ctx context.Context, teamID string) error {
	res, err := r.Pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetTeam(ctx context.Context, teamID string) (contracts.Team, error) {
	var team contracts.Team
	err := r.Pool.QueryRow(ctx,
		`SELECT id, name, profile_picture FROM teams WHERE id = $1`, teamID,
	).Scan(&team.ID, &team.Name, &team.ProfilePicture)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contracts.Team{}, ErrNotFound
		}
		return contracts.Team{}, err
	}
	members, err := r.teamMembers(ctx, teamID)
	if err != nil {
		return contracts.Team{}, err
	}
	team.Members = members
	return team, nil
}

func (r *PostgresRepository) ListTeams(ctx context.Context) ([]contracts.Team, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, name, profile_picture FROM teams ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]contracts.Team, 0)
	for rows.Next() {
		var team contracts.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.ProfilePicture); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range teams {
		members, err := r.teamMembers(ctx, teams[i].ID)
		if err != nil {
			return nil, err
		}
		teams[i].Members = members
	}
	return teams, nil
}

func (r *PostgresRepository) teamMembers(ctx context.Context, teamID string) ([]contracts.User, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT u.id, u.name, u.email, u.role, u.profile_picture
		 FROM users u
		 INNER JOIN team_members tm ON tm.user_id = u.id
		 WHERE tm.team_id = $1
		 ORDER BY u.name ASC`,
		teamID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]contracts.User, 0)
	for rows.Next() {
		var u contracts.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ProfilePicture); err != nil {
			return nil, err
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

func (r *PostgresRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token_id, user_id, token_hash, expires_at) VALUES ($1, $2, $3, $4)`,
		token.TokenID, token.UserID, token.TokenHash, token.ExpiresAt,
	)
	return err
}

func (r *PostgresRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var rt RefreshToken
	err := r.Pool.QueryRow(ctx,
		`SELECT token_id, user_id, token_hash, expires_at, revoked_at
		 FROM refresh_tokens
		 WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > now()`,
		tokenHash,
	).Scan(&rt.TokenID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return rt, nil
}

func (r *PostgresRepository) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	_, err := r.Pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = now() WHERE token_id = $1`,
		tokenID,
	)
	return err
}
