package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskboard/project/internal/contracts"
)

func TestClient_ListTasksSendsFiltersAndToken(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(TaskPage{
			Tasks:      []contracts.Task{{ID: "t1", Title: "one"}},
			TotalTasks: 1,
			TotalPages: 1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Token = "tok"
	page, err := c.ListTasks(context.Background(), TaskFilter{Status: "To Do", Page: 2, Limit: 10})
	if err != nil {
		t.Fatalf("ListTasks error: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	if gotQuery != "limit=10&page=2&status=To+Do" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if len(page.Tasks) != 1 || page.TotalTasks != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrValidation},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrServer},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
		}))
		c := New(srv.URL)
		_, err := c.GetTask(context.Background(), "t1")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestClient_CreateCommentRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/comments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var input CommentInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode input: %v", err)
		}
		_ = json.NewEncoder(w).Encode(contracts.Comment{ID: "c1", TaskID: input.TaskID, Text: input.Text})
	}))
	defer srv.Close()

	c := New(srv.URL)
	comment, err := c.CreateComment(context.Background(), CommentInput{TaskID: "t1", Text: "hello"})
	if err != nil {
		t.Fatalf("CreateComment error: %v", err)
	}
	if comment.ID != "c1" || comment.TaskID != "t1" {
		t.Fatalf("unexpected comment: %+v", comment)
	}
}

func TestClient_DeleteLinkReturnsRemainingLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/v1/tasks/t1/links/l2" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string][]contracts.Link{
			"links": {{ID: "l1", Title: "docs", URL: "https://example.com"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	links, err := c.DeleteLink(context.Background(), "t1", "l2")
	if err != nil {
		t.Fatalf("DeleteLink error: %v", err)
	}
	if len(links) != 1 || links[0].ID != "l1" {
		t.Fatalf("unexpected links: %+v", links)
	}
}

func TestClient_ListActivityLogsSendsFilters(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/activity-logs" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(ActivityLogPage{
			Logs:       []ActivityLog{{EventSeq: 3, Event: "taskAssigned", TaskID: "t1"}},
			TotalLogs:  1,
			TotalPages: 1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	page, err := c.ListActivityLogs(context.Background(), ActivityLogFilter{Event: "taskAssigned", TaskID: "t1", Limit: 20})
	if err != nil {
		t.Fatalf("ListActivityLogs error: %v", err)
	}
	if gotQuery != "event=taskAssigned&limit=20&taskId=t1" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if len(page.Logs) != 1 || page.Logs[0].Event != "taskAssigned" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestClient_LoginSetsNoTokenAutomatically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Session{Token: "tok", RefreshToken: "ref", User: contracts.User{ID: "u1"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	sess, err := c.Login(context.Background(), "a@example.com", "pw")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if sess.Token != "tok" || sess.User.ID != "u1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	// Callers decide when to adopt the token.
	if c.Token != "" {
		t.Fatalf("client adopted token on its own: %q", c.Token)
	}
}
