package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/homecart/listsync/internal/client/stream"
	"github.com/homecart/listsync/internal/platform/auth"
	"github.com/homecart/listsync/internal/platform/env"
	"github.com/homecart/listsync/internal/platform/logger"
	"github.com/homecart/listsync/internal/platform/metrics"
)

type config struct {
	APIBase        string
	JWTSecret      string
	APIKey         string
	Households     int
	ViewersPerList int
	ItemsPerList   int
	StartupWait    time.Duration
	Duration       time.Duration
	RampUp         time.Duration
	ActionInterval time.Duration
	RequestTimeout time.Duration
	MetricsAddr    string
}

// household is one simulated household: a single list, its items, and the
// member devices viewing it.
type household struct {
	Index  int
	Client *stream.Client

	mu    sync.Mutex
	items []string
	state map[string]bool
}

type runner struct {
	cfg     config
	runID   string
	tokens  auth.Manager
	log     *logger.Logger
	api     *http.Client
	streams *http.Client

	commandsOK  atomic.Int64
	commandsErr atomic.Int64
	frames      atomic.Int64
}

var (
	commandsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_loadgen_commands_total",
		Help: "List commands sent by the load generator.",
	}, []string{"action", "outcome"})

	framesReceived = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_loadgen_frames_received_total",
		Help: "Stream frames received by load-generated viewers, by kind.",
	}, []string{"kind"})

	streamsOpen = metrics.NewGauge(metrics.Opts{
		Name: "listsync_loadgen_streams_open",
		Help: "Current number of load-generated viewers with an open stream.",
	})

	streamsEnded = metrics.NewCounterVec(metrics.Opts{
		Name: "listsync_loadgen_streams_ended_total",
		Help: "Viewer streams that ended before the run finished, by reason.",
	}, []string{"reason"})
)

func init() {
	metrics.Default.MustRegister(commandsTotal, framesReceived, streamsOpen, streamsEnded)
}

func main() {
	log, err := logger.New(env.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := loadConfig()
	if cfg.Households <= 0 {
		log.Fatal("LOADGEN_HOUSEHOLDS must be > 0")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr, log)

	conns := cfg.Households * (cfg.ViewersPerList + 1)
	transport := &http.Transport{
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		IdleConnTimeout:     90 * time.Second,
	}
	r := &runner{
		cfg:     cfg,
		runID:   strconv.FormatInt(time.Now().UTC().UnixNano(), 36),
		tokens:  auth.NewManager(cfg.JWTSecret, cfg.Duration+time.Hour),
		log:     log,
		api:     &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		streams: &http.Client{Transport: transport},
	}

	if err := r.waitReady(ctx); err != nil {
		log.Fatal("list api not ready", "error", err)
	}

	households := r.setupHouseholds(ctx)
	if len(households) == 0 {
		log.Fatal("failed to initialize any household")
	}
	log.Info("load generator initialized",
		"households", len(households),
		"viewers_per_list", cfg.ViewersPerList,
		"action_interval", cfg.ActionInterval.String(),
		"duration", cfg.Duration.String())

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for _, h := range households {
		for v := 0; v < cfg.ViewersPerList; v++ {
			wg.Add(1)
			go func(h *household, v int) {
				defer wg.Done()
				r.runViewer(ctx, h, v)
			}(h, v)
		}
		wg.Add(1)
		go func(h *household) {
			defer wg.Done()
			r.runWriter(ctx, h)
		}(h)
	}

	<-ctx.Done()
	wg.Wait()

	log.Info("load test complete",
		"commands_ok", r.commandsOK.Load(),
		"commands_failed", r.commandsErr.Load(),
		"frames_received", r.frames.Load())
}

func loadConfig() config {
	return config{
		APIBase:        env.String("LOADGEN_API_BASE", "http://list-api:8080"),
		JWTSecret:      env.String("JWT_SECRET", ""),
		APIKey:         env.String("LOADGEN_API_KEY", ""),
		Households:     env.Int("LOADGEN_HOUSEHOLDS", 50),
		ViewersPerList: env.Int("LOADGEN_VIEWERS_PER_LIST", 3),
		ItemsPerList:   env.Int("LOADGEN_ITEMS_PER_LIST", 20),
		StartupWait:    env.Duration("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:       env.Duration("LOADGEN_DURATION", 10*time.Minute),
		RampUp:         env.Duration("LOADGEN_RAMP_UP", 30*time.Second),
		ActionInterval: env.Duration("LOADGEN_ACTION_INTERVAL", 2*time.Second),
		RequestTimeout: env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:    env.String("LOADGEN_METRICS_ADDR", ":9099"),
	}
}

func (r *runner) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.api.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupHouseholds(ctx context.Context) []*household {
	out := make([]*household, 0, r.cfg.Households)
	for i := 0; i < r.cfg.Households; i++ {
		h, err := r.setupHousehold(ctx, i)
		if err != nil {
			r.log.Warn("household setup failed", "index", i, "error", err)
			continue
		}
		out = append(out, h)
	}
	return out
}

func (r *runner) setupHousehold(ctx context.Context, idx int) (*household, error) {
	householdID := fmt.Sprintf("load-%s-%04d", r.runID, idx)
	token, err := r.tokens.Sign(householdID+"-owner", householdID)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	c := &stream.Client{
		BaseURL:     r.cfg.APIBase,
		HouseholdID: householdID,
		Token:       token,
		APIKey:      r.cfg.APIKey,
		HTTP:        r.api,
	}

	listID, err := c.CreateList(ctx, fmt.Sprintf("Load list %d", idx))
	if err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}
	c.ListID = listID

	h := &household{Index: idx, Client: c, state: make(map[string]bool)}
	for i := 0; i < r.cfg.ItemsPerList; i++ {
		itemID, err := c.AddItem(ctx, fmt.Sprintf("item %d", i), 1+i%3)
		r.recordCommand("add", err)
		if err != nil {
			return nil, fmt.Errorf("add item: %w", err)
		}
		h.items = append(h.items, itemID)
	}
	return h, nil
}

// runViewer keeps one device's stream open, reopening it after a drop, and
// counts frames by kind.
func (r *runner) runViewer(ctx context.Context, h *household, viewer int) {
	if !r.rampDelay(ctx, h.Index) {
		return
	}
	viewerClient := *h.Client
	viewerClient.HTTP = r.streams

	for ctx.Err() == nil {
		err := r.consumeStream(ctx, &viewerClient)
		if ctx.Err() != nil {
			return
		}
		reason := "ended"
		if err != nil {
			reason = "error"
			r.log.Debug("viewer stream ended", "household", h.Index, "viewer", viewer, "error", err)
		}
		streamsEnded.WithLabelValues(reason).Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *runner) consumeStream(ctx context.Context, c *stream.Client) error {
	body, err := c.OpenEvents(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	streamsOpen.Inc()
	defer streamsOpen.Dec()

	dec := stream.NewDecoder(body)
	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		r.frames.Add(1)
		framesReceived.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// runWriter toggles a random item of the household's list every
// ActionInterval, with jitter.
func (r *runner) runWriter(ctx context.Context, h *household) {
	if !r.rampDelay(ctx, h.Index) || len(h.items) == 0 {
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(h.Index)))

	for {
		wait := r.cfg.ActionInterval
		if wait > 0 {
			wait = wait/2 + time.Duration(rng.Int63n(int64(wait)))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		h.mu.Lock()
		itemID := h.items[rng.Intn(len(h.items))]
		next := !h.state[itemID]
		h.mu.Unlock()

		action := "uncheck"
		if next {
			action = "check"
		}
		err := h.Client.SetChecked(ctx, itemID, next)
		if ctx.Err() != nil {
			return
		}
		r.recordCommand(action, err)
		if err != nil {
			r.log.Debug("command failed", "household", h.Index, "action", action, "error", err)
			continue
		}
		h.mu.Lock()
		h.state[itemID] = next
		h.mu.Unlock()
	}
}

func (r *runner) rampDelay(ctx context.Context, idx int) bool {
	if r.cfg.RampUp <= 0 {
		return ctx.Err() == nil
	}
	delay := time.Duration(float64(r.cfg.RampUp) / float64(max(r.cfg.Households, 1)) * float64(idx))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (r *runner) recordCommand(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.commandsErr.Add(1)
	} else {
		r.commandsOK.Add(1)
	}
	commandsTotal.WithLabelValues(action, outcome).Inc()
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.log.Info("progress",
				"commands_ok", r.commandsOK.Load(),
				"commands_failed", r.commandsErr.Load(),
				"frames_received", r.frames.Load(),
				"streams_open", streamsOpen.Value())
		}
	}
}

func runMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics server stopped", "error", err)
	}
}
