package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskboard/project/internal/app/archiver"
	"github.com/taskboard/project/internal/app/identity"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/platform/auth"
)

type fakeIdentityRepo struct {
	users  map[string]identity.User
	teams  map[string]contracts.Team
	tokens map[string]identity.RefreshToken
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		users:  map[string]identity.User{},
		teams:  map[string]contracts.Team{},
		tokens: map[string]identity.RefreshToken{},
	}
}

func (f *fakeIdentityRepo) EnsureSchema(context.Context) error { return nil }

func (f *fakeIdentityRepo) CreateUser(_ context.Context, user identity.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeIdentityRepo) FindUserByEmail(_ context.Context, email string) (identity.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

func (f *fakeIdentityRepo) FindUserByID(_ context.Context, userID string) (identity.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (f *fakeIdentityRepo) ListUsers(context.Context) ([]contracts.User, error) {
	var out []contracts.User
	for _, u := range f.users {
		out = append(out, u.Public())
	}
	return out, nil
}

func (f *fakeIdentityRepo) CreateTeam(_ context.Context, team contracts.Team) error {
	f.teams[team.ID] = team
	return nil
}

func (f *fakeIdentityRepo) UpdateTeam(_ context.Context, team contracts.Team) error {
	if _, ok := f.teams[team.ID]; !ok {
		return identity.ErrNotFound
	}
	f.teams[team.ID] = team
	return nil
}

func (f *fakeIdentityRepo) DeleteTeam(_ context.Context, teamID string) error {
	delete(f.teams, teamID)
	return nil
}

func (f *fakeIdentityRepo) GetTeam(_ context.Context, teamID string) (contracts.Team, error) {
	team, ok := f.teams[teamID]
	if !ok {
		return contracts.Team{}, identity.ErrNotFound
	}
	return team, nil
}

func (f *fakeIdentityRepo) ListTeams(context.Context) ([]contracts.Team, error) {
	var out []contracts.Team
	for _, team := range f.teams {
		out = append(out, team)
	}
	return out, nil
}

func (f *fakeIdentityRepo) CreateRefreshToken(_ context.Context, token identity.RefreshToken) error {
	f.tokens[token.TokenID] = token
	return nil
}

func (f *fakeIdentityRepo) FindRefreshTokenByHash(_ context.Context, hash string) (identity.RefreshToken, error) {
	for _, token := range f.tokens {
		if token.TokenHash == hash && token.RevokedAt == nil {
			return token, nil
		}
	}
	return identity.RefreshToken{}, identity.ErrNotFound
}

func (f *fakeIdentityRepo) RevokeRefreshToken(_ context.Context, tokenID string) error {
	token, ok := f.tokens[tokenID]
	if !ok {
		return identity.ErrNotFound
	}
	now := time.Now()
	token.RevokedAt = &now
	f.tokens[tokenID] = token
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Service, auth.Manager) {
	t.Helper()
	repo := newFakeRepo()
	repo.users["u1"] = contracts.User{ID: "u1", Name: "Alice"}
	taskSvc, _ := newTestService(repo)

	identityRepo := newFakeIdentityRepo()
	identitySvc := identity.NewService(identityRepo, auth.NewManager("test-secret", time.Hour), nil)

	handler := NewHandler(taskSvc, identitySvc, "")
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return srv, taskSvc, identitySvc.AuthToken
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

type fakeActivityLogStore struct {
	entries   []archiver.Entry
	gotFilter archiver.ListFilter
}

func (f *fakeActivityLogStore) ListEntries(_ context.Context, filter archiver.ListFilter) ([]archiver.Entry, int, error) {
	f.gotFilter = filter
	return f.entries, len(f.entries), nil
}

func TestRouter_ActivityLogEndpoint(t *testing.T) {
	repo := newFakeRepo()
	taskSvc, _ := newTestService(repo)
	identityRepo := newFakeIdentityRepo()
	identitySvc := identity.NewService(identityRepo, auth.NewManager("test-secret", time.Hour), nil)

	logs := &fakeActivityLogStore{entries: []archiver.Entry{
		{EventSeq: 7, EventName: contracts.EventTaskAssigned, TaskID: "t1", ActorID: "mgr"},
	}}
	handler := NewHandler(taskSvc, identitySvc, "")
	handler.ActivityLogs = logs
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	tokens := identitySvc.AuthToken

	userToken, err := tokens.Sign("u1", "Alice", "user")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/activity-logs", userToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("plain user status %d, want 403", resp.StatusCode)
	}

	managerToken, err := tokens.Sign("mgr", "Manager", "manager")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/activity-logs?event=taskAssigned&taskId=t1&page=2", managerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manager status %d, want 200", resp.StatusCode)
	}
	var page struct {
		Logs       []archiver.Entry `json:"logs"`
		TotalLogs  int              `json:"totalLogs"`
		TotalPages int              `json:"totalPages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	resp.Body.Close()
	if page.TotalLogs != 1 || len(page.Logs) != 1 || page.Logs[0].EventName != contracts.EventTaskAssigned {
		t.Fatalf("unexpected page: %+v", page)
	}
	want := archiver.ListFilter{EventName: "taskAssigned", TaskID: "t1", Page: 2, Limit: 50}
	if logs.gotFilter != want {
		t.Fatalf("filter %+v, want %+v", logs.gotFilter, want)
	}
}

func TestRouter_RequiresBearerToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/tasks")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected error field in body")
	}
}

func TestRouter_TaskLifecycle(t *testing.T) {
	srv, _, tokens := newTestServer(t)
	managerToken, err := tokens.Sign("mgr", "Manager", "manager")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", managerToken, map[string]any{
		"title":        "Ship release",
		"description":  "cut and tag",
		"assignee_ids": []string{"u1"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d, want 201", resp.StatusCode)
	}
	var created contracts.Task
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	resp.Body.Close()
	if created.Status != contracts.StatusTodo || len(created.Assignees) != 1 {
		t.Fatalf("unexpected task: %+v", created)
	}

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/tasks/"+created.ID, managerToken, map[string]any{
		"status": contracts.StatusInProgress,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status %d, want 200", resp.StatusCode)
	}
	var updated contracts.Task
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	resp.Body.Close()
	if updated.Status != contracts.StatusInProgress {
		t.Fatalf("status %q after move", updated.Status)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?limit=10", managerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d, want 200", resp.StatusCode)
	}
	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	resp.Body.Close()
	if page.TotalTasks != 1 || len(page.Tasks) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/tasks/"+created.ID, managerToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d, want 204", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+created.ID, managerToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status %d, want 404", resp.StatusCode)
	}
}

func TestRouter_PlainUserCannotCreateTasks(t *testing.T) {
	srv, _, tokens := newTestServer(t)
	userToken, err := tokens.Sign("u1", "Alice", "user")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", userToken, map[string]any{
		"title": "nope", "description": "nope",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
}

func TestRouter_CommentEndpoints(t *testing.T) {
	srv, _, tokens := newTestServer(t)
	managerToken, err := tokens.Sign("mgr", "Manager", "manager")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", managerToken, map[string]any{
		"title": "Ship", "description": "d",
	})
	var task contracts.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/comments", managerToken, map[string]any{
		"task_id": task.ID, "text": "first",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("comment status %d, want 201", resp.StatusCode)
	}
	var comment contracts.Comment
	if err := json.NewDecoder(resp.Body).Decode(&comment); err != nil {
		t.Fatalf("decode comment: %v", err)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/comments/"+comment.ID+"/pin", managerToken, nil)
	var pinned contracts.Comment
	if err := json.NewDecoder(resp.Body).Decode(&pinned); err != nil {
		t.Fatalf("decode pinned: %v", err)
	}
	resp.Body.Close()
	if !pinned.Pinned {
		t.Fatal("comment not pinned")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/comments/task/"+task.ID, managerToken, nil)
	var comments []contracts.Comment
	if err := json.NewDecoder(resp.Body).Decode(&comments); err != nil {
		t.Fatalf("decode comments: %v", err)
	}
	resp.Body.Close()
	if len(comments) != 1 || !comments[0].Pinned {
		t.Fatalf("unexpected comments: %+v", comments)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/comments/"+comment.ID, managerToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d, want 204", resp.StatusCode)
	}
}
