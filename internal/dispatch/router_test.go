package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/aster0/aster/internal/log"
	"github.com/aster0/aster/internal/session"
)

// fakeSessions satisfies SessionStore with canned data and records appends.
type fakeSessions struct {
	mu       sync.Mutex
	owner    string
	history  []*ai.Message
	appended []*session.Message
	getErr   error
}

func (f *fakeSessions) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &session.Session{ID: id, OwnerID: f.owner}, nil
}

func (f *fakeSessions) History(context.Context, uuid.UUID, int32) ([]*ai.Message, error) {
	return f.history, nil
}

func (f *fakeSessions) AppendMessages(_ context.Context, _ uuid.UUID, msgs []*session.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, msgs...)
	return nil
}

// scriptedInvoker streams its text through the callback (when present) and
// records the invocations it receives.
type scriptedInvoker struct {
	text      string
	citations []session.Citation
	err       error

	mu    sync.Mutex
	calls []Invocation
}

func (si *scriptedInvoker) Invoke(ctx context.Context, inv Invocation, cb ai.ModelStreamCallback) (*Result, error) {
	si.mu.Lock()
	si.calls = append(si.calls, inv)
	si.mu.Unlock()

	if si.err != nil {
		return nil, si.err
	}
	if cb != nil {
		// Stream in small pieces to exercise tag reassembly.
		for _, piece := range splitN(si.text, 7) {
			chunk := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(piece)}}
			if err := cb(ctx, chunk); err != nil {
				return nil, err
			}
		}
	}
	return &Result{Text: si.text, Citations: si.citations}, nil
}

func (si *scriptedInvoker) callCount() int {
	si.mu.Lock()
	defer si.mu.Unlock()
	return len(si.calls)
}

func splitN(s string, n int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		end := min(n, len(runes))
		out = append(out, string(runes[:end]))
		runes = runes[end:]
	}
	return out
}

func newTestRouter(t *testing.T, invokers map[Mode]Invoker, sessions SessionStore) *Router {
	t.Helper()
	r, err := NewRouter(Config{
		Invokers: invokers,
		Sessions: sessions,
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}
	return r
}

func TestRouter_PlainChat(t *testing.T) {
	t.Parallel()

	chat := &scriptedInvoker{text: "hello there"}
	sessions := &fakeSessions{owner: "u1"}
	r := newTestRouter(t, map[Mode]Invoker{ModeChat: chat}, sessions)

	var streamed strings.Builder
	outcome, err := r.Run(context.Background(), Request{
		SessionID: uuid.New(), Query: "hi",
	}, func(_ context.Context, c Chunk) error {
		streamed.WriteString(c.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Text != "hello there" {
		t.Errorf("Text = %q", outcome.Text)
	}
	if outcome.Mode != ModeChat || outcome.Hops != 0 {
		t.Errorf("Mode = %q, Hops = %d", outcome.Mode, outcome.Hops)
	}
	if streamed.String() != "hello there" {
		t.Errorf("streamed = %q", streamed.String())
	}
	if len(sessions.appended) != 2 {
		t.Fatalf("appended %d messages, want 2", len(sessions.appended))
	}
	if sessions.appended[0].Role != session.RoleUser || sessions.appended[1].Role != session.RoleModel {
		t.Errorf("roles = %q, %q", sessions.appended[0].Role, sessions.appended[1].Role)
	}
}

func TestRouter_RoutesOnTag(t *testing.T) {
	t.Parallel()

	chat := &scriptedInvoker{text: "let me check <search>go 1.25 changes</search>"}
	search := &scriptedInvoker{
		text:      "Go 1.25 adds X [1].",
		citations: []session.Citation{{Index: 1, Title: "Release notes", URL: "https://go.dev/doc"}},
	}
	sessions := &fakeSessions{owner: "u1"}
	r := newTestRouter(t, map[Mode]Invoker{ModeChat: chat, ModeSearch: search}, sessions)

	var chunks []Chunk
	outcome, err := r.Run(context.Background(), Request{
		SessionID: uuid.New(), Query: "what's new in go?",
	}, func(_ context.Context, c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if outcome.Mode != ModeSearch || outcome.Hops != 1 {
		t.Fatalf("Mode = %q, Hops = %d; want search, 1", outcome.Mode, outcome.Hops)
	}
	if outcome.Text != "Go 1.25 adds X [1]." {
		t.Errorf("Text = %q", outcome.Text)
	}
	if len(outcome.Citations) != 1 || outcome.Citations[0].URL != "https://go.dev/doc" {
		t.Errorf("Citations = %+v", outcome.Citations)
	}

	// The refined query reaches the search invoker.
	search.mu.Lock()
	gotQuery := search.calls[0].Query
	search.mu.Unlock()
	if gotQuery != "go 1.25 changes" {
		t.Errorf("search query = %q", gotQuery)
	}

	// Tag text never appears in streamed chunks.
	for _, c := range chunks {
		if strings.Contains(c.Text, "<search>") || strings.Contains(c.Text, "</search>") {
			t.Errorf("tag leaked in chunk %q", c.Text)
		}
	}
	// A zero-text mode marker for the search hop was emitted.
	found := false
	for _, c := range chunks {
		if c.Text == "" && c.Mode == ModeSearch {
			found = true
		}
	}
	if !found {
		t.Error("no mode marker chunk for search hop")
	}

	// The persisted assistant message carries the final mode and citations.
	last := sessions.appended[len(sessions.appended)-1]
	if last.Mode != string(ModeSearch) || len(last.Citations) != 1 {
		t.Errorf("persisted message: mode=%q citations=%d", last.Mode, len(last.Citations))
	}
}

func TestRouter_EmptyPayloadReusesQuery(t *testing.T) {
	t.Parallel()

	chat := &scriptedInvoker{text: "<image></image>"}
	image := &scriptedInvoker{text: "here is your image"}
	r := newTestRouter(t, map[Mode]Invoker{ModeChat: chat, ModeImage: image}, &fakeSessions{owner: "u1"})

	_, err := r.Run(context.Background(), Request{SessionID: uuid.New(), Query: "draw a cat"}, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	image.mu.Lock()
	defer image.mu.Unlock()
	if image.calls[0].Query != "draw a cat" {
		t.Errorf("image query = %q, want original query", image.calls[0].Query)
	}
}

func TestRouter_HopBudget(t *testing.T) {
	t.Parallel()

	// Every mode keeps emitting tags; routing must stop at MaxHops and the
	// final text must be tag-free.
	loopy := &scriptedInvoker{text: "hop again <search>next</search>"}
	r := newTestRouter(t, map[Mode]Invoker{ModeChat: loopy, ModeSearch: loopy}, &fakeSessions{owner: "u1"})

	outcome, err := r.Run(context.Background(), Request{SessionID: uuid.New(), Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Hops != DefaultMaxHops {
		t.Errorf("Hops = %d, want %d", outcome.Hops, DefaultMaxHops)
	}
	if strings.Contains(outcome.Text, "<search>") {
		t.Errorf("tag leaked into final text: %q", outcome.Text)
	}
	if loopy.callCount() != DefaultMaxHops+1 {
		t.Errorf("invocations = %d, want %d", loopy.callCount(), DefaultMaxHops+1)
	}
}

func TestRouter_UnclosedTagRoutes(t *testing.T) {
	t.Parallel()

	chat := &scriptedInvoker{text: "thinking <research>distributed consensus"}
	research := &scriptedInvoker{text: "long report"}
	r := newTestRouter(t, map[Mode]Invoker{ModeChat: chat, ModeResearch: research}, &fakeSessions{owner: "u1"})

	outcome, err := r.Run(context.Background(), Request{SessionID: uuid.New(), Query: "q"},
		func(context.Context, Chunk) error { return nil })
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Mode != ModeResearch || outcome.Hops != 1 {
		t.Errorf("Mode = %q, Hops = %d", outcome.Mode, outcome.Hops)
	}
	research.mu.Lock()
	defer research.mu.Unlock()
	if research.calls[0].Query != "distributed consensus" {
		t.Errorf("research query = %q", research.calls[0].Query)
	}
}

func TestRouter_EmptyQuery(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, map[Mode]Invoker{ModeChat: &scriptedInvoker{}}, &fakeSessions{owner: "u1"})
	if _, err := r.Run(context.Background(), Request{SessionID: uuid.New(), Query: "  "}, nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Run() error = %v, want ErrEmptyQuery", err)
	}
}

func TestRouter_UnknownMode(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, map[Mode]Invoker{ModeChat: &scriptedInvoker{text: "x"}}, &fakeSessions{owner: "u1"})
	_, err := r.Run(context.Background(), Request{SessionID: uuid.New(), Query: "q", Mode: ModeSearch}, nil)
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Run() error = %v, want ErrUnknownMode", err)
	}
}

func TestRouter_EmptyResponseFallback(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, map[Mode]Invoker{ModeChat: &scriptedInvoker{text: "   "}}, &fakeSessions{owner: "u1"})
	outcome, err := r.Run(context.Background(), Request{SessionID: uuid.New(), Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if outcome.Text != fallbackResponse {
		t.Errorf("Text = %q, want fallback", outcome.Text)
	}
}

func TestRouter_InvokerFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend exploded")
	r := newTestRouter(t, map[Mode]Invoker{ModeChat: &scriptedInvoker{err: boom}}, &fakeSessions{owner: "u1"})
	if _, err := r.Run(context.Background(), Request{SessionID: uuid.New(), Query: "q"}, nil); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want wrapped %v", err, boom)
	}
}
