package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/taskboard/project/internal/apiclient"
	"github.com/taskboard/project/internal/contracts"
	"github.com/taskboard/project/internal/platform/env"
	"github.com/taskboard/project/internal/platform/metrics"
	"github.com/taskboard/project/internal/realtime"
)

type config struct {
	APIBase                 string
	NATSURL                 string
	Users                   int
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	Password                string
	EnablePush              bool
	ManagerEmail            string
	ManagerPassword         string
}

type simulatedUser struct {
	Index  int
	Email  string
	UserID string
	API    *apiclient.Client

	mu       sync.Mutex
	taskIDs  []string
	comments []string
}

type runner struct {
	cfg     config
	runID   string
	manager *apiclient.Client

	actionsSuccess atomic.Int64
	actionsError   atomic.Int64
	activeVUs      atomic.Int64
	activePush     atomic.Int64
}

var (
	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "taskboard_loadgen_actions_total",
		Help: "User actions executed by the load generator.",
	}, []string{"action", "outcome"})

	pushEventsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "taskboard_loadgen_push_events_total",
		Help: "Push events received over the board channel.",
	}, []string{"event"})

	virtualUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "taskboard_loadgen_virtual_users",
		Help: "Current number of active virtual users sending actions.",
	})

	pushConnectedGauge = metrics.NewGauge(metrics.Opts{
		Name: "taskboard_loadgen_push_connected_users",
		Help: "Current number of users with a live push channel.",
	})
)

func init() {
	metrics.Default.MustRegister(actionsTotal, pushEventsTotal, virtualUsersGauge, pushConnectedGauge)
}

func main() {
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}
	if cfg.ManagerEmail == "" || cfg.ManagerPassword == "" {
		log.Fatal("LOADGEN_MANAGER_EMAIL and LOADGEN_MANAGER_PASSWORD are required: tasks are seeded through a manager account")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
	}

	if err := r.waitForAPI(ctx); err != nil {
		log.Fatalf("dependency readiness failed: %v", err)
	}

	manager := apiclient.New(cfg.APIBase)
	manager.HTTP.Timeout = cfg.RequestTimeout
	login, err := manager.Login(ctx, cfg.ManagerEmail, cfg.ManagerPassword)
	if err != nil {
		log.Fatalf("manager login failed: %v", err)
	}
	manager.Token = login.Token
	r.manager = manager

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		log.Fatal("failed to initialize any users")
	}
	log.Printf("load generator initialized: users=%d duration=%s push=%v rate_per_user=%.2f req/s",
		len(users), cfg.Duration.String(), cfg.EnablePush, cfg.ActionsPerUserPerSecond)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for idx := range users {
		user := users[idx]
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load test complete: success_actions=%d error_actions=%d",
		r.actionsSuccess.Load(), r.actionsError.Load())
}

func loadConfig() config {
	return config{
		APIBase:                 strings.TrimRight(env.String("LOADGEN_API_BASE", "http://api-server:8080"), "/"),
		NATSURL:                 env.String("NATS_URL", env.DefaultNATSURL),
		Users:                   env.Int("LOADGEN_USERS", 100),
		SetupConcurrency:        env.Int("LOADGEN_SETUP_CONCURRENCY", 20),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerUserPerSecond: floatEnv("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.3),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
		Password:                env.String("LOADGEN_PASSWORD", "load-test-pass-123"),
		EnablePush:              boolEnv("LOADGEN_ENABLE_PUSH", true),
		ManagerEmail:            env.String("LOADGEN_MANAGER_EMAIL", ""),
		ManagerPassword:         env.String("LOADGEN_MANAGER_PASSWORD", ""),
	}
}

func (r *runner) waitForAPI(ctx context.Context) error {
	wait := r.cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}

	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		} else {
			lastErr = err
		}
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return fmt.Errorf("api-server not ready: %w", lastErr)
}

func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	type setupResult struct {
		user *simulatedUser
		err  error
	}

	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	results := make(chan setupResult, r.cfg.Users)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Users; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			user, err := r.setupSingleUser(ctx, idx)
			results <- setupResult{user: user, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	users := make([]*simulatedUser, 0, r.cfg.Users)
	failures := 0
	for result := range results {
		if result.err != nil {
			failures++
			log.Printf("user setup failed: %v", result.err)
			continue
		}
		users = append(users, result.user)
	}
	log.Printf("user setup complete: success=%d failed=%d", len(users), failures)
	return users
}

func (r *runner) setupSingleUser(ctx context.Context, idx int) (*simulatedUser, error) {
	user := &simulatedUser{
		Index: idx,
		Email: fmt.Sprintf("load-%s-%04d@loadtest.local", r.runID, idx),
		API:   apiclient.New(r.cfg.APIBase),
	}
	user.API.HTTP.Timeout = r.cfg.RequestTimeout

	session, err := user.API.Register(ctx, fmt.Sprintf("Load User %04d", idx), user.Email, r.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", user.Email, err)
	}
	user.API.Token = session.Token
	user.UserID = session.User.ID

	// Plain users cannot create tasks; the manager seeds one per user.
	title := fmt.Sprintf("Load Task %04d", idx)
	description := "Seeded by the load generator"
	task, err := r.manager.CreateTask(ctx, apiclient.TaskInput{
		Title:       &title,
		Description: &description,
		AssigneeIDs: []string{user.UserID},
	})
	if err != nil {
		return nil, fmt.Errorf("seed task for %s: %w", user.Email, err)
	}
	user.addTask(task.ID)

	return user, nil
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 && r.cfg.Users > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(r.cfg.Users)) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if r.cfg.EnablePush {
		go r.runPushLoop(ctx, user)
	}

	virtualUsersGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.ActionsPerUserPerSecond)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	initialJitter := time.Duration(rng.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	taskID, hasTask := user.randomTask(rng)
	if !hasTask {
		return
	}
	commentID, hasComment := user.randomComment(rng)

	choice := rng.Float64()
	switch {
	case choice < 0.45:
		r.addComment(ctx, user, rng, taskID)
	case choice < 0.80:
		r.moveTask(ctx, user, rng, taskID)
	case hasComment && choice < 0.92:
		r.togglePin(ctx, user, commentID)
	case hasComment:
		r.deleteComment(ctx, user, commentID)
	default:
		r.addComment(ctx, user, rng, taskID)
	}
}

func (r *runner) addComment(ctx context.Context, user *simulatedUser, rng *rand.Rand, taskID string) {
	comment, err := user.API.CreateComment(ctx, apiclient.CommentInput{
		TaskID: taskID,
		Text:   fmt.Sprintf("Load comment %d", rng.Intn(1_000_000)),
	})
	if err != nil {
		r.recordAction("comment", false)
		return
	}
	user.addComment(comment.ID)
	r.recordAction("comment", true)
}

func (r *runner) moveTask(ctx context.Context, user *simulatedUser, rng *rand.Rand, taskID string) {
	statuses := contracts.Statuses()
	status := statuses[rng.Intn(len(statuses))]
	_, err := user.API.UpdateTask(ctx, taskID, apiclient.TaskInput{Status: &status})
	if err != nil {
		r.recordAction("move", false)
		return
	}
	r.recordAction("move", true)
}

func (r *runner) togglePin(ctx context.Context, user *simulatedUser, commentID string) {
	if _, err := user.API.TogglePin(ctx, commentID); err != nil {
		r.recordAction("pin", false)
		return
	}
	r.recordAction("pin", true)
}

func (r *runner) deleteComment(ctx context.Context, user *simulatedUser, commentID string) {
	if err := user.API.DeleteComment(ctx, commentID); err != nil {
		r.recordAction("delete_comment", false)
		return
	}
	user.removeComment(commentID)
	r.recordAction("delete_comment", true)
}

func (r *runner) recordAction(action string, ok bool) {
	if ok {
		actionsTotal.Inc(action, "success")
		r.actionsSuccess.Add(1)
		return
	}
	actionsTotal.Inc(action, "error")
	r.actionsError.Add(1)
}

func (r *runner) runPushLoop(ctx context.Context, user *simulatedUser) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.connectPush(ctx, user)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("push reconnect user=%s err=%v", user.Email, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(1200 * time.Millisecond):
		}
	}
}

func (r *runner) connectPush(ctx context.Context, user *simulatedUser) error {
	channel, err := realtime.Dial(r.cfg.NATSURL)
	if err != nil {
		return err
	}
	defer channel.Close()

	for _, event := range []string{
		contracts.EventTaskUpdated,
		contracts.EventTaskAssigned,
		contracts.EventTaskUnassigned,
		contracts.EventTaskAssignedToTeam,
		contracts.EventTeamAdded,
		contracts.EventTeamUpdated,
		contracts.EventTeamRemoved,
	} {
		name := event
		channel.On(name, func(contracts.Event) {
			pushEventsTotal.Inc(name)
		})
	}
	if err := channel.Connect(user.UserID); err != nil {
		return err
	}

	pushConnectedGauge.Inc()
	r.activePush.Add(1)
	defer pushConnectedGauge.Dec()
	defer r.activePush.Add(-1)

	select {
	case <-ctx.Done():
		return nil
	case <-channel.Closed():
		return errors.New("push channel closed")
	}
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: success_actions=%d error_actions=%d active_vus=%d active_push=%d",
				r.actionsSuccess.Load(),
				r.actionsError.Load(),
				r.activeVUs.Load(),
				r.activePush.Load(),
			)
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load generator metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load generator metrics server failed: %v", err)
	}
}

func (u *simulatedUser) addTask(taskID string) {
	if strings.TrimSpace(taskID) == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.taskIDs = append(u.taskIDs, taskID)
}

func (u *simulatedUser) randomTask(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.taskIDs) == 0 {
		return "", false
	}
	return u.taskIDs[rng.Intn(len(u.taskIDs))], true
}

func (u *simulatedUser) addComment(commentID string) {
	if strings.TrimSpace(commentID) == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.comments = append(u.comments, commentID)
}

func (u *simulatedUser) randomComment(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.comments) == 0 {
		return "", false
	}
	return u.comments[rng.Intn(len(u.comments))], true
}

func (u *simulatedUser) removeComment(commentID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for idx, existing := range u.comments {
		if existing != commentID {
			continue
		}
		u.comments[idx] = u.comments[len(u.comments)-1]
		u.comments = u.comments[:len(u.comments)-1]
		return
	}
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func boolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
