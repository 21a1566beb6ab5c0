package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/messaging"
	"github.com/taskboard/project/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidName         = errors.New("name is required")
	ErrInvalidEmail        = errors.New("email is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrTeamNameRequired    = errors.New("team name is required")
	ErrTeamNeedsMembers    = errors.New("team must have at least one member")
	ErrForbidden           = errors.New("insufficient permissions for this action")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

type AuthResponse struct {
	Token        string         `json:"token"`
	RefreshToken string         `json:"refresh_token"`
	User         contracts.User `json:"user"`
}

type TeamInput struct {
	Name           string   `json:"name"`
	ProfilePicture string   `json:"profile_picture"`
	MemberIDs      []string `json:"member_ids"`
}

type Service struct {
	Repo       Repository
	AuthToken  auth.Manager
	Events     *messaging.EventPublisher
	NewID      func() string
	RefreshTTL time.Duration
	Now        func() time.Time
}

func NewService(repo Repository, tokenManager auth.Manager, events *messaging.EventPublisher) *Service {
	return &Service{
		Repo:       repo,
		AuthToken:  tokenManager,
		Events:     events,
		NewID:      nuid.Next,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	default:
		return false
	}
}

// CanManageTasks reports whether the role may create, edit or delete tasks
// and teams. Plain users only move their own work and comment.
func CanManageTasks(role string) bool {
	return auth.IsManagerRole(role)
}

func (s *Service) Register(ctx context.Context, name, email, password string) (AuthResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AuthResponse{}, ErrInvalidName
	}
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return AuthResponse{}, ErrInvalidEmail
	}
	if len(strings.TrimSpace(password)) < 8 {
		return AuthResponse{}, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleUser,
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u)
}

// Refresh rotates the refresh token: the presented token is revoked before a
// new session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResponse{}, ErrRefreshTokenMissing
	}

	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidRefreshToken
		}
		return AuthResponse{}, err
	}
	if err := s.Repo.RevokeRefreshToken(ctx, session.TokenID); err != nil {
		return AuthResponse{}, err
	}

	u, err := s.Repo.FindUserByID(ctx, session.UserID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrRefreshTokenMissing
	}
	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.Repo.RevokeRefreshToken(ctx, session.TokenID)
}

func (s *Service) ListUsers(ctx context.Context) ([]contracts.User, error) {
	return s.Repo.ListUsers(ctx)
}

func (s *Service) ListTeams(ctx context.Context) ([]contracts.Team, error) {
	return s.Repo.ListTeams(ctx)
}

func (s *Service) GetTeam(ctx context.Context, teamID string) (contracts.Team, error) {
	return s.Repo.GetTeam(ctx, teamID)
}

func (s *Service) CreateTeam(ctx context.Context, actor auth.Claims, input TeamInput) (contracts.Team, error) {
	if !CanManageTasks(actor.Role) {
		return contracts.Team{}, ErrForbidden
	}
	members, err := s.resolveTeamInput(ctx, input)
	if err != nil {
		return contracts.Team{}, err
	}

	team := contracts.Team{
		ID:             s.NewID(),
		Name:           strings.TrimSpace(input.Name),
		ProfilePicture: input.ProfilePicture,
		Members:        members,
	}
	if err := s.Repo.CreateTeam(ctx, team); err != nil {
		return contracts.Team{}, err
	}

	s.publishTeamEvent(contracts.Event{
		Name:    contracts.EventTeamAdded,
		Message: "You were added to team " + team.Name,
		Team:    &team,
		ActorID: actor.Subject,
	}, memberIDs(team.Members))
	return team, nil
}

func (s *Service) UpdateTeam(ctx context.Context, actor auth.Claims, teamID string, input TeamInput) (contracts.Team, error) {
	if !CanManageTasks(actor.Role) {
		return contracts.Team{}, ErrForbidden
	}
	previous, err := s.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return contracts.Team{}, err
	}
	members, err := s.resolveTeamInput(ctx, input)
	if err != nil {
		return contracts.Team{}, err
	}

	team := contracts.Team{
		ID:             teamID,
		Name:           strings.TrimSpace(input.Name),
		ProfilePicture: input.ProfilePicture,
		Members:        members,
	}
	if err := s.Repo.UpdateTeam(ctx, team); err != nil {
		return contracts.Team{}, err
	}

	// Former members hear about the change too, so their rosters shrink.
	audience := append(memberIDs(previous.Members), memberIDs(team.Members)...)
	s.publishTeamEvent(contracts.Event{
		Name:    contracts.EventTeamUpdated,
		Message: "Team " + team.Name + " was updated",
		Team:    &team,
		ActorID: actor.Subject,
	}, audience)
	return team, nil
}

func (s *Service) DeleteTeam(ctx context.Context, actor auth.Claims, teamID string) error {
	if !CanManageTasks(actor.Role) {
		return ErrForbidden
	}
	team, err := s.Repo.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteTeam(ctx, teamID); err != nil {
		return err
	}

	s.publishTeamEvent(contracts.Event{
		Name:    contracts.EventTeamRemoved,
		Message: "Team " + team.Name + " was removed",
		TeamID:  teamID,
		ActorID: actor.Subject,
	}, memberIDs(team.Members))
	return nil
}

func (s *Service) resolveTeamInput(ctx context.Context, input TeamInput) ([]contracts.User, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, ErrTeamNameRequired
	}
	if len(input.MemberIDs) == 0 {
		return nil, ErrTeamNeedsMembers
	}
	members := make([]contracts.User, 0, len(input.MemberIDs))
	seen := map[string]bool{}
	for _, id := range input.MemberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		u, err := s.Repo.FindUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		members = append(members, u.Public())
	}
	return members, nil
}

func (s *Service) publishTeamEvent(event contracts.Event, userIDs []string) {
	if s.Events == nil {
		return
	}
	_ = s.Events.ToUsers(event, userIDs)
}

func memberIDs(members []contracts.User) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}

func (s *Service) issueSession(ctx context.Context, user User) (AuthResponse, error) {
	accessToken, err := s.AuthToken.Sign(user.ID, user.Name, user.Role)
	if err != nil {
		return AuthResponse{}, err
	}

	refreshToken := s.NewID() + "." + s.NewID()
	session := RefreshToken{
		TokenID:   s.NewID(),
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshToken),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	}
	if err := s.Repo.CreateRefreshToken(ctx, session); err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		User:         user.Public(),
	}, nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func NewTokenManager(secret string) auth.Manager {
	return auth.NewManager(secret, 15*time.Minute)
}
