package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aster0/aster/internal/artifact"
	"github.com/aster0/aster/internal/session"
)

const (
	// DefaultMaxHops bounds mode re-invocations per request.
	DefaultMaxHops = 2

	// memoryRecallTimeout limits memory lookup per request.
	memoryRecallTimeout = 5 * time.Second

	// fallbackResponse is returned when the model produces nothing usable.
	fallbackResponse = "I couldn't generate a response. Please try rephrasing your question."
)

// Sentinel errors for router operations.
var (
	// ErrEmptyQuery indicates a blank user query.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrUnknownMode indicates a mode with no registered invoker.
	ErrUnknownMode = errors.New("no invoker registered for mode")

	// errRouted aborts a model stream when a tag confirms a new mode.
	// Control flow, never surfaced to callers.
	errRouted = errors.New("dispatch: routed to new mode")
)

// Request is one user turn entering the router.
type Request struct {
	SessionID uuid.UUID
	Query     string
	Mode      Mode // zero value means chat
}

// Chunk is one unit of streamed display output. A chunk with empty Text
// marks a mode transition so UIs can update before text arrives.
type Chunk struct {
	Text string `json:"text"`
	Mode Mode   `json:"mode"`
}

// StreamCallback receives display chunks as the response streams.
// Returning an error aborts the request.
type StreamCallback func(ctx context.Context, chunk Chunk) error

// Outcome is the final result of a routed request.
type Outcome struct {
	Text      string
	Mode      Mode // mode that produced the final answer
	Hops      int  // re-invocations performed
	Citations []session.Citation
	Artifacts []artifact.Ref
}

// Invocation is what an Invoker needs for one model call.
type Invocation struct {
	Query     string
	History   []*ai.Message
	Memories  string // formatted memory block, empty when none
	SessionID uuid.UUID
	OwnerID   string
}

// Result is an Invoker's output for one call.
type Result struct {
	Text      string
	Citations []session.Citation
	Artifacts []artifact.Ref
}

// Invoker runs one mode's model invocation. Implementations must propagate
// errors returned by the stream callback unchanged or wrapped with %w.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation, cb ai.ModelStreamCallback) (*Result, error)
}

// SessionStore is the slice of the session store the router needs.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	History(ctx context.Context, sessionID uuid.UUID, maxMessages int32) ([]*ai.Message, error)
	AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*session.Message) error
}

// MemoryRecaller retrieves a formatted memory block for prompt injection.
type MemoryRecaller interface {
	Recall(ctx context.Context, ownerID, query string, budget int) (string, error)
}

// MemoryExtractor distills durable facts from a completed turn.
type MemoryExtractor interface {
	Extract(ctx context.Context, ownerID string, sessionID uuid.UUID, userInput, response string)
}

// Config assembles a Router. Invokers, Sessions and Logger are required;
// memory is optional.
type Config struct {
	Invokers map[Mode]Invoker
	Sessions SessionStore
	Logger   *slog.Logger

	// Optional memory. Extractor requires WG for graceful shutdown.
	Memories  MemoryRecaller
	Extractor MemoryExtractor

	MaxHops int // 0 means DefaultMaxHops

	// Resilience. Zero values take defaults.
	Retry       RetryConfig
	Breaker     CircuitBreakerConfig
	RateLimiter *rate.Limiter
	Budget      TokenBudget

	// BackgroundCtx outlives requests; used for async extraction.
	BackgroundCtx context.Context //nolint:containedctx // app lifecycle, not a request context
	WG            *sync.WaitGroup
}

func (cfg Config) validate() error {
	if len(cfg.Invokers) == 0 {
		return errors.New("at least one invoker is required")
	}
	if cfg.Invokers[ModeChat] == nil {
		return errors.New("chat invoker is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Extractor != nil && cfg.WG == nil {
		return errors.New("wg is required when extractor is set")
	}
	if cfg.MaxHops < 0 {
		return errors.New("max hops must not be negative")
	}
	return nil
}

// Router runs the dispatch loop: invoke, scan the stream for mode tags,
// re-invoke under the tagged mode, bounded by the hop budget.
//
// Router is stateless across requests and safe for concurrent use.
type Router struct {
	invokers  map[Mode]Invoker
	sessions  SessionStore
	memories  MemoryRecaller
	extractor MemoryExtractor
	logger    *slog.Logger

	maxHops int
	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter
	budget  TokenBudget

	bgCtx context.Context //nolint:containedctx // app lifecycle, not a request context
	wg    *sync.WaitGroup
}

// NewRouter creates a Router from cfg.
func NewRouter(cfg Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxHops := cfg.MaxHops
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	budget := cfg.Budget
	if budget.MaxHistoryTokens == 0 {
		budget.MaxHistoryTokens = DefaultTokenBudget().MaxHistoryTokens
	}
	if budget.MaxMemoryTokens == 0 {
		budget.MaxMemoryTokens = DefaultTokenBudget().MaxMemoryTokens
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}

	return &Router{
		invokers:  cfg.Invokers,
		sessions:  cfg.Sessions,
		memories:  cfg.Memories,
		extractor: cfg.Extractor,
		logger:    cfg.Logger,
		maxHops:   maxHops,
		retry:     retry,
		breaker:   NewCircuitBreaker(cfg.Breaker),
		limiter:   limiter,
		budget:    budget,
		bgCtx:     bgCtx,
		wg:        cfg.WG,
	}, nil
}

// Run executes one user turn. If cb is non-nil the response streams through
// it; otherwise tags are detected on the complete model output. The final
// answer always comes from the last invoked mode; text preceding a tag in an
// earlier hop is discarded.
func (r *Router) Run(ctx context.Context, req Request, cb StreamCallback) (*Outcome, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeChat
	}
	if r.invokers[mode] == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}

	sess, err := r.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	history, memText, err := r.gatherContext(ctx, req.SessionID, sess.OwnerID, req.Query)
	if err != nil {
		return nil, err
	}

	query := req.Query
	hops := 0
	var res *Result

	for {
		inv := Invocation{
			Query:     query,
			History:   history,
			Memories:  memText,
			SessionID: req.SessionID,
			OwnerID:   sess.OwnerID,
		}

		canRoute := hops < r.maxHops
		var route Route
		var routed bool
		res, route, routed, err = r.invokeOnce(ctx, mode, inv, cb, canRoute)
		if err != nil {
			return nil, err
		}

		if routed && canRoute {
			hops++
			r.logger.Info("dispatching to new mode",
				"from", mode, "to", route.Mode, "hop", hops)
			mode = route.Mode
			if route.Payload != "" {
				query = route.Payload
			} else {
				query = req.Query
			}
			continue
		}
		break
	}

	text := StripTags(res.Text)
	if strings.TrimSpace(text) == "" && len(res.Artifacts) == 0 {
		r.logger.Warn("model returned empty response", "session_id", req.SessionID, "mode", mode)
		text = fallbackResponse
	}

	r.persistTurn(ctx, req, mode, text, res)
	r.scheduleExtraction(sess.OwnerID, req.SessionID, req.Query, text)

	return &Outcome{
		Text:      text,
		Mode:      mode,
		Hops:      hops,
		Citations: res.Citations,
		Artifacts: res.Artifacts,
	}, nil
}

// invokeOnce runs a single hop: one resilient invoker call with tag scanning.
// routed reports whether a mode tag was detected (streamed or in final text).
func (r *Router) invokeOnce(ctx context.Context, mode Mode, inv Invocation, cb StreamCallback, canRoute bool) (*Result, Route, bool, error) {
	invoker := r.invokers[mode]
	if invoker == nil {
		return nil, Route{}, false, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}

	var scanner *Scanner
	var modelCb ai.ModelStreamCallback
	if cb != nil {
		// Mode marker before any text, so UIs can switch immediately.
		if err := cb(ctx, Chunk{Mode: mode}); err != nil {
			return nil, Route{}, false, err
		}
		scanner = NewScanner(func(ctx context.Context, text string) error {
			return cb(ctx, Chunk{Text: text, Mode: mode})
		})
		modelCb = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				hit, err := scanner.Feed(ctx, part.Text)
				if err != nil {
					return err
				}
				if hit && canRoute {
					return errRouted
				}
			}
			return nil
		}
	}

	if err := r.breaker.Allow(); err != nil {
		r.logger.Warn("circuit breaker rejecting request", "state", r.breaker.State().String())
		return nil, Route{}, false, fmt.Errorf("service unavailable: %w", err)
	}

	res, err := r.invokeWithRetry(ctx, func(ctx context.Context) (*Result, error) {
		return invoker.Invoke(ctx, inv, modelCb)
	})

	// A stream aborted by routing is success for the breaker: the backend
	// responded, we cut it off.
	routedStream := scanner != nil && scanner.Routed()
	if routedStream && canRoute {
		r.breaker.Success()
		return &Result{}, scanner.Route(), true, nil
	}
	if err != nil && !errors.Is(err, errRouted) {
		r.breaker.Failure()
		return nil, Route{}, false, err
	}
	r.breaker.Success()

	if scanner != nil {
		if routedStream {
			// Hop budget reached: the tag is inert, the stream's own text
			// (tags stripped by the caller) is the answer.
			return res, Route{}, false, nil
		}
		route, ok, ferr := scanner.Finish(ctx)
		if ferr != nil {
			return nil, Route{}, false, ferr
		}
		return res, route, ok, nil
	}
	route, ok := FindRoute(res.Text)
	return res, route, ok, nil
}

// gatherContext loads history and recalls memories concurrently.
// Memory failures degrade to a no-memory prompt.
func (r *Router) gatherContext(ctx context.Context, sessionID uuid.UUID, ownerID, query string) ([]*ai.Message, string, error) {
	type historyResult struct {
		msgs []*ai.Message
		err  error
	}
	type memoryResult struct {
		text string
		err  error
	}

	// Buffered so goroutines never block if the caller bails early.
	historyCh := make(chan historyResult, 1)
	memoryCh := make(chan memoryResult, 1)

	go func() {
		msgs, err := r.sessions.History(ctx, sessionID, 0)
		historyCh <- historyResult{msgs, err}
	}()
	go func() {
		if r.memories == nil || ownerID == "" {
			memoryCh <- memoryResult{}
			return
		}
		recallCtx, cancel := context.WithTimeout(ctx, memoryRecallTimeout)
		defer cancel()
		text, err := r.memories.Recall(recallCtx, ownerID, query, r.budget.MaxMemoryTokens)
		memoryCh <- memoryResult{text, err}
	}()

	hr := <-historyCh
	if hr.err != nil {
		return nil, "", fmt.Errorf("loading history: %w", hr.err)
	}
	mr := <-memoryCh
	if mr.err != nil {
		r.logger.Debug("memory recall failed", "error", mr.err)
		mr.text = ""
	}

	return truncateHistory(hr.msgs, r.budget.MaxHistoryTokens), mr.text, nil
}

// persistTurn appends the user and assistant messages. Best-effort: append
// failures are logged, never returned.
func (r *Router) persistTurn(ctx context.Context, req Request, mode Mode, text string, res *Result) {
	entryMode := req.Mode
	if entryMode == "" {
		entryMode = ModeChat
	}
	messages := []*session.Message{
		{
			Role:    session.RoleUser,
			Content: []*ai.Part{ai.NewTextPart(req.Query)},
			Mode:    string(entryMode),
		},
		{
			Role:      session.RoleModel,
			Content:   []*ai.Part{ai.NewTextPart(text)},
			Mode:      string(mode),
			Citations: res.Citations,
			Artifacts: res.Artifacts,
		},
	}
	if err := r.sessions.AppendMessages(ctx, req.SessionID, messages); err != nil {
		r.logger.Warn("appending messages", "error", err, "session_id", req.SessionID)
	}
}

// scheduleExtraction runs memory extraction off the request path.
func (r *Router) scheduleExtraction(ownerID string, sessionID uuid.UUID, query, response string) {
	if r.extractor == nil || ownerID == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.extractor.Extract(r.bgCtx, ownerID, sessionID, query, response)
	}()
}
