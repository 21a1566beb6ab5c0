package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/a-h/templ"
	"github.com/taskboard/project/internal/apiclient"
	"github.com/taskboard/project/internal/app/boardsync"
	"github.com/taskboard/project/internal/boardstate"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/platform/env"
	"github.com/taskboard/project/internal/realtime"
	"github.com/taskboard/project/internal/thread"
	"github.com/taskboard/project/services/frontend"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientAddr := env.String("CLIENT_ADDR", env.DefaultClientAddr)
	apiURL := env.String("API_URL", "http://localhost:8080")
	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	email := env.String("LOGIN_EMAIL", "")
	password := env.String("LOGIN_PASSWORD", "")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	if email == "" || password == "" {
		log.Fatal("LOGIN_EMAIL and LOGIN_PASSWORD are required")
	}

	api := apiclient.New(apiURL)
	login, err := api.Login(runCtx, email, password)
	if err != nil {
		log.Fatal(err)
	}
	api.Token = login.Token

	channel, err := realtime.Dial(natsURL)
	if err != nil {
		log.Fatal(err)
	}
	defer channel.Close()

	session := boardsync.New(api, channel, login.User.ID)
	if err := session.Start(runCtx); err != nil {
		log.Fatal(err)
	}

	go func() {
		select {
		case <-channel.Closed():
			log.Print("push channel closed after reconnect attempts were exhausted")
			stop()
		case <-runCtx.Done():
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/", templ.Handler(frontend.BoardPage()))
	mux.Handle("/static/", http.StripPrefix("/static/", frontend.StaticHandler()))

	mux.HandleFunc("/ui/board", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		now := time.Now()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(renderSummary(session.Summary(now))))
		_, _ = w.Write([]byte(renderBoard(session.Board())))
		if open, ok := session.OpenTask(); ok {
			_, _ = w.Write([]byte(renderThread(open, session.Comments(now))))
		}
	})

	mux.HandleFunc("/state.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		now := time.Now()
		state := map[string]any{
			"user":    login.User,
			"columns": session.Board(),
			"summary": session.Summary(now),
			"teams":   session.Teams(),
		}
		if open, ok := session.OpenTask(); ok {
			state["openTask"] = open
			state["comments"] = session.Comments(now)
		}
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("/api/v1/board/open", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskID string `json:"task_id"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		if req.TaskID == "" {
			session.CloseTask()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := session.Open(r.Context(), req.TaskID); err != nil {
			http.Error(w, err.Error(), apiStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/v1/board/move", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SrcStatus string `json:"src_status"`
			SrcIndex  int    `json:"src_index"`
			DstStatus string `json:"dst_status"`
			DstIndex  int    `json:"dst_index"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		if err := session.MoveTask(r.Context(), req.SrcStatus, req.SrcIndex, req.DstStatus, req.DstIndex); err != nil {
			http.Error(w, err.Error(), apiStatus(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/v1/board/comments", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text    string `json:"text"`
			ReplyTo string `json:"reply_to"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		comment, err := session.AddComment(r.Context(), req.Text, req.ReplyTo)
		if err != nil {
			http.Error(w, err.Error(), apiStatus(err))
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	})

	server := &http.Server{
		Addr:              clientAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Board client listening on %s\n", clientAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("board-client graceful shutdown failed: %v", err)
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return false
	}
	return true
}

func apiStatus(err error) int {
	switch {
	case errors.Is(err, apiclient.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apiclient.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apiclient.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apiclient.ErrNotFound), errors.Is(err, boardstate.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, boardsync.ErrNoOpenTask), errors.Is(err, boardstate.ErrOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func renderSummary(summary boardstate.Summary) string {
	var sb strings.Builder
	sb.WriteString(`<section id="summary"><div class="summary">`)
	fmt.Fprintf(&sb, `<span>%d tasks</span>`, summary.Total)
	fmt.Fprintf(&sb, `<span>%d mine</span>`, summary.Mine)
	fmt.Fprintf(&sb, `<span>%d due today</span>`, summary.DueToday)
	fmt.Fprintf(&sb, `<span>%d late</span>`, summary.Late)
	fmt.Fprintf(&sb, `<span>%d done</span>`, summary.Done)
	sb.WriteString(`</div></section>`)
	return sb.String()
}

func renderBoard(columns []boardstate.Column) string {
	var sb strings.Builder
	sb.WriteString(`<section id="board" class="board">`)
	for _, column := range columns {
		sb.WriteString(`<div class="column"><h2>`)
		sb.WriteString(html.EscapeString(column.Status))
		fmt.Fprintf(&sb, ` (%d)</h2>`, column.Count)
		for _, task := range column.Tasks {
			sb.WriteString(renderCard(task))
		}
		sb.WriteString(`</div>`)
	}
	sb.WriteString(`</section>`)
	return sb.String()
}

func renderCard(task contracts.Task) string {
	var sb strings.Builder
	sb.WriteString(`<div class="card" data-task-id="`)
	sb.WriteString(html.EscapeString(task.ID))
	sb.WriteString(`"><div class="title">`)
	sb.WriteString(html.EscapeString(task.Title))
	sb.WriteString(`</div><div class="meta">`)
	sb.WriteString(`<span class="badge `)
	sb.WriteString(html.EscapeString(strings.ToLower(task.Priority)))
	sb.WriteString(`">`)
	sb.WriteString(html.EscapeString(task.Priority))
	sb.WriteString(`</span>`)

	if task.Team != nil {
		sb.WriteString(` <span>` + html.EscapeString(task.Team.Name) + `</span>`)
	} else if len(task.Assignees) > 0 {
		names := make([]string, 0, len(task.Assignees))
		for _, assignee := range task.Assignees {
			names = append(names, assignee.Name)
		}
		sb.WriteString(` <span>` + html.EscapeString(strings.Join(names, ", ")) + `</span>`)
	}
	if task.DueDate != nil {
		sb.WriteString(` <span>due ` + html.EscapeString(task.DueDate.Format("02 Jan")) + `</span>`)
	}
	if task.CommentCount > 0 {
		fmt.Fprintf(&sb, ` <span>%d comments</span>`, task.CommentCount)
	}
	sb.WriteString(`</div></div>`)
	return sb.String()
}

func renderThread(task contracts.Task, groups []thread.DayGroup) string {
	var sb strings.Builder
	sb.WriteString(`<aside id="thread" class="thread"><h2>`)
	sb.WriteString(html.EscapeString(task.Title))
	sb.WriteString(`</h2>`)
	for _, group := range groups {
		sb.WriteString(`<div class="day">`)
		sb.WriteString(html.EscapeString(group.Label))
		sb.WriteString(`</div>`)
		for _, comment := range group.Comments {
			class := "comment"
			if comment.Pinned {
				class += " pinned"
			}
			if comment.Deleted {
				class += " deleted"
			}
			sb.WriteString(`<div class="` + class + `">`)
			if comment.User != nil {
				sb.WriteString(`<div class="author">` + html.EscapeString(comment.User.Name) + `</div>`)
			}
			if comment.Deleted {
				sb.WriteString(`<div>Comment deleted</div>`)
			} else {
				sb.WriteString(`<div>` + html.EscapeString(comment.Text) + `</div>`)
			}
			sb.WriteString(`</div>`)
		}
	}
	sb.WriteString(`</aside>`)
	return sb.String()
}
