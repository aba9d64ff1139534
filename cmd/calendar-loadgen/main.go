package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dragcal/project/internal/calendar"
	"github.com/dragcal/project/internal/logging"
	"github.com/dragcal/project/internal/platform/env"
	"github.com/dragcal/project/internal/platform/metrics"
)

type config struct {
	APIBase                 string
	Users                   int
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	Password                string
	LogLevel                string
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

type eventResponse struct {
	ID string `json:"id"`
}

type weekResponse struct {
	Week string `json:"week"`
}

type simulatedUser struct {
	Index       int
	Email       string
	Password    string
	ClientIP    string
	AccessToken string
	Scope       string

	// streaming is set while the user's grid stream is open; gestures need
	// the mounted view it holds.
	streaming atomic.Bool

	mu     sync.Mutex
	week   calendar.Date
	events []string
}

type runner struct {
	cfg       config
	runID     string
	logger    *slog.Logger
	apiClient *http.Client
	sseClient *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeVUs       atomic.Int64
	activeSSE       atomic.Int64
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "calendar_loadgen_requests_total",
		Help: "Total HTTP requests sent by the load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "calendar_loadgen_actions_total",
		Help: "User actions executed by the load generator.",
	}, []string{"action", "outcome"})

	virtualUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "calendar_loadgen_virtual_users",
		Help: "Current number of active virtual users sending actions.",
	})

	streamingUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "calendar_loadgen_streaming_users",
		Help: "Current number of virtual users with an open grid stream.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, virtualUsersGauge, streamingUsersGauge)
}

func main() {
	cfg := loadConfig()
	logger := logging.New(cfg.LogLevel).With("service", "calendar-loadgen")
	if cfg.Users <= 0 || cfg.SetupConcurrency <= 0 {
		logger.Error("LOADGEN_USERS and LOADGEN_SETUP_CONCURRENCY must be > 0")
		os.Exit(1)
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, logger)

	transport := &http.Transport{
		MaxIdleConns:        cfg.Users * 4,
		MaxIdleConnsPerHost: cfg.Users * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	r := &runner{
		cfg:       cfg,
		runID:     strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		logger:    logger,
		apiClient: &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		sseClient: &http.Client{Transport: transport},
	}

	if err := r.waitForHTTPStatus(ctx, cfg.APIBase+"/readyz", http.StatusOK, cfg.StartupWait); err != nil {
		logger.Error("calendar-api not ready", "error", err)
		os.Exit(1)
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		logger.Error("failed to initialize any users")
		os.Exit(1)
	}
	logger.Info("load generator initialized", "users", len(users), "duration", cfg.Duration.String(), "rate_per_user", cfg.ActionsPerUserPerSecond)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}

	<-ctx.Done()
	wg.Wait()
	logger.Info("load test complete", "success_requests", r.requestsSuccess.Load(), "error_requests", r.requestsError.Load())
}

func loadConfig() config {
	return config{
		APIBase:                 strings.TrimRight(env.String("LOADGEN_API_BASE", "http://calendar-api:8080"), "/"),
		Users:                   env.Int("LOADGEN_USERS", 200),
		SetupConcurrency:        env.Int("LOADGEN_SETUP_CONCURRENCY", 25),
		StartupWait:             env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                  env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerUserPerSecond: floatEnv("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.3),
		RequestTimeout:          env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             env.String("LOADGEN_METRICS_ADDR", ":9099"),
		Password:                env.String("LOADGEN_PASSWORD", "load-test-pass-123"),
		LogLevel:                env.String("LOG_LEVEL", "info"),
	}
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.apiClient.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == expectedStatus {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
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
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			user, err := r.setupSingleUser(ctx, idx)
			results <- setupResult{user: user, err: err}
		}(i)
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
			r.logger.Warn("user setup failed", "error", result.err)
			continue
		}
		users = append(users, result.user)
	}
	r.logger.Info("user setup complete", "success", len(users), "failed", failures)
	return users
}

func (r *runner) setupSingleUser(ctx context.Context, idx int) (*simulatedUser, error) {
	user := &simulatedUser{
		Index:    idx,
		Email:    fmt.Sprintf("load-%s-%04d@loadgen.test", r.runID, idx),
		Password: r.cfg.Password,
		ClientIP: fmt.Sprintf("10.0.%d.%d", 1+(idx/250), 1+(idx%250)),
	}
	credentials := map[string]string{"email": user.Email, "password": user.Password}

	var auth authResponse
	status, err := r.requestJSON(ctx, user, "sign_up", http.MethodPost, "/api/v1/auth/sign-up", credentials, &auth, http.StatusCreated, http.StatusConflict)
	if err != nil {
		return nil, fmt.Errorf("sign up %s: %w", user.Email, err)
	}
	if status == http.StatusConflict {
		if _, err := r.requestJSON(ctx, user, "sign_in", http.MethodPost, "/api/v1/auth/sign-in", credentials, &auth, http.StatusOK); err != nil {
			return nil, fmt.Errorf("sign in %s: %w", user.Email, err)
		}
	}
	if strings.TrimSpace(auth.AccessToken) == "" || auth.UserID == "" {
		return nil, fmt.Errorf("empty session for %s", user.Email)
	}
	user.AccessToken = auth.AccessToken
	user.Scope = calendar.OwnerScope(auth.UserID).Key()

	var week weekResponse
	if _, err := r.requestJSON(ctx, user, "week", http.MethodGet, user.path("/week"), nil, &week, http.StatusOK); err != nil {
		return nil, fmt.Errorf("load week for %s: %w", user.Email, err)
	}
	start, err := calendar.ParseDate(week.Week)
	if err != nil {
		return nil, fmt.Errorf("week of %s: %w", user.Email, err)
	}
	user.week = start
	return user, nil
}

func (u *simulatedUser) path(suffix string) string {
	return "/api/v1/calendars/" + url.PathEscape(u.Scope) + suffix
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Users, 1)) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	go r.runStreamLoop(ctx, user)

	virtualUsersGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = max(time.Duration(float64(time.Second)/r.cfg.ActionsPerUserPerSecond), 25*time.Millisecond)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rng.Int63n(int64(interval)))):
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
	eventID, hasEvent := user.randomEvent(rng)

	choice := rng.Float64()
	switch {
	case !hasEvent || choice < 0.40:
		r.createEvent(ctx, user, rng)
	case choice < 0.80 && user.streaming.Load():
		r.dragEvent(ctx, user, rng, eventID)
	default:
		r.editEvent(ctx, user, rng, eventID)
	}
}

func (r *runner) createEvent(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	day := user.day(rng.Intn(calendar.DaysPerWeek))
	var created eventResponse
	_, err := r.requestJSON(ctx, user, "create_event", http.MethodPost, user.path("/events"), map[string]any{
		"title":          fmt.Sprintf("Load event %d", rng.Intn(1_000_000)),
		"start_date":     day.String(),
		"start_time":     fmt.Sprintf("%02d:%02d", 7+rng.Intn(11), 15*rng.Intn(4)),
		"duration_hours": float64(1+rng.Intn(4)) / 2,
	}, &created, http.StatusCreated)
	if err != nil {
		actionsTotal.WithLabelValues("create", "error").Inc()
		return
	}
	user.addEvent(created.ID)
	actionsTotal.WithLabelValues("create", "success").Inc()
}

// dragEvent picks an event up and drops it on a random day of the week the
// stream shows.
func (r *runner) dragEvent(ctx context.Context, user *simulatedUser, rng *rand.Rand, eventID string) {
	if _, err := r.requestJSON(ctx, user, "drag_start", http.MethodPost, user.path("/drag/start"), map[string]string{
		"event_id": eventID,
	}, nil, http.StatusOK); err != nil {
		actionsTotal.WithLabelValues("drag", "error").Inc()
		return
	}
	_, err := r.requestJSON(ctx, user, "drag_drop", http.MethodPost, user.path("/drag/drop"), map[string]string{
		"date": user.day(rng.Intn(calendar.DaysPerWeek)).String(),
	}, nil, http.StatusOK)
	if err != nil {
		_, _ = r.requestJSON(ctx, user, "drag_cancel", http.MethodPost, user.path("/drag/cancel"), nil, nil, http.StatusOK, http.StatusNoContent)
		actionsTotal.WithLabelValues("drag", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("drag", "success").Inc()
}

func (r *runner) editEvent(ctx context.Context, user *simulatedUser, rng *rand.Rand, eventID string) {
	statuses := []calendar.Status{calendar.StatusPending, calendar.StatusAccepted, calendar.StatusDone}
	_, err := r.requestJSON(ctx, user, "update_event", http.MethodPatch, user.path("/events/"+url.PathEscape(eventID)), map[string]any{
		"title":  fmt.Sprintf("Updated load event %d", rng.Intn(1_000_000)),
		"status": statuses[rng.Intn(len(statuses))],
	}, nil, http.StatusOK)
	if err != nil {
		actionsTotal.WithLabelValues("update", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("update", "success").Inc()
}

func (r *runner) runStreamLoop(ctx context.Context, user *simulatedUser) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.connectAndReadStream(ctx, user); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Debug("stream reconnect", "user", user.Email, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(1200 * time.Millisecond):
		}
	}
}

func (r *runner) connectAndReadStream(ctx context.Context, user *simulatedUser) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+user.path("/stream"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Forwarded-For", user.ClientIP)

	resp, err := r.sseClient.Do(req)
	if err != nil {
		r.record("stream_open", http.MethodGet, 0, false)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.record("stream_open", http.MethodGet, resp.StatusCode, false)
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected stream status: %d", resp.StatusCode)
	}
	r.record("stream_open", http.MethodGet, resp.StatusCode, true)

	streamingUsersGauge.Inc()
	r.activeSSE.Add(1)
	user.streaming.Store(true)
	defer func() {
		user.streaming.Store(false)
		r.activeSSE.Add(-1)
		streamingUsersGauge.Dec()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	return nil
}

func (r *runner) requestJSON(ctx context.Context, user *simulatedUser, endpoint, method, path string, payload, out any, expectedStatuses ...int) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-For", user.ClientIP)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		r.record(endpoint, method, 0, false)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.record(endpoint, method, resp.StatusCode, false)
		return resp.StatusCode, err
	}
	for _, want := range expectedStatuses {
		if resp.StatusCode != want {
			continue
		}
		r.record(endpoint, method, resp.StatusCode, true)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}
	r.record(endpoint, method, resp.StatusCode, false)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) record(endpoint, method string, status int, ok bool) {
	outcome := "success"
	if ok {
		r.requestsSuccess.Add(1)
	} else {
		outcome = "error"
		r.requestsError.Add(1)
	}
	requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status), outcome).Inc()
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Info("progress",
				"success_requests", r.requestsSuccess.Load(),
				"error_requests", r.requestsError.Load(),
				"active_vus", r.activeVUs.Load(),
				"active_streams", r.activeSSE.Load(),
			)
		}
	}
}

func runMetricsServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

func (u *simulatedUser) day(offset int) calendar.Date {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.week.AddDays(offset)
}

func (u *simulatedUser) addEvent(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, id)
}

func (u *simulatedUser) randomEvent(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.events) == 0 {
		return "", false
	}
	return u.events[rng.Intn(len(u.events))], true
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

func floatEnv(key string, fallback float64) float64 {
	raw, ok := env.Lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
