package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/log"
	"github.com/aster0/aster/internal/session"
)

// fakeSessions satisfies both the router's session interface and
// SessionCreator, so one fake backs the whole call path.
type fakeSessions struct {
	created   []string // owner IDs passed to Create
	createErr error
}

func (f *fakeSessions) Create(_ context.Context, ownerID, title string) (*session.Session, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, ownerID)
	return &session.Session{ID: uuid.New(), OwnerID: ownerID, Title: title}, nil
}

func (f *fakeSessions) Get(_ context.Context, id uuid.UUID) (*session.Session, error) {
	return &session.Session{ID: id, OwnerID: "mcp"}, nil
}

func (f *fakeSessions) History(context.Context, uuid.UUID, int32) ([]*ai.Message, error) {
	return nil, nil
}

func (f *fakeSessions) AppendMessages(context.Context, uuid.UUID, []*session.Message) error {
	return nil
}

// echoInvoker answers with a fixed text.
type echoInvoker struct {
	text string
}

func (e *echoInvoker) Invoke(context.Context, dispatch.Invocation, ai.ModelStreamCallback) (*dispatch.Result, error) {
	return &dispatch.Result{Text: e.text}, nil
}

func testServer(t *testing.T, sessions *fakeSessions) *Server {
	t.Helper()

	router, err := dispatch.NewRouter(dispatch.Config{
		Invokers: map[dispatch.Mode]dispatch.Invoker{
			dispatch.ModeChat:   &echoInvoker{text: "chat answer"},
			dispatch.ModeSearch: &echoInvoker{text: "search answer"},
		},
		Sessions: sessions,
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}

	s, err := NewServer(Config{
		Name:     "aster",
		Version:  "test",
		Router:   router,
		Sessions: sessions,
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	return s
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	router, err := dispatch.NewRouter(dispatch.Config{
		Invokers: map[dispatch.Mode]dispatch.Invoker{dispatch.ModeChat: &echoInvoker{}},
		Sessions: &fakeSessions{},
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}
	valid := Config{
		Name: "aster", Version: "1", Router: router,
		Sessions: &fakeSessions{}, Logger: log.NewNop(),
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Name = "" }},
		{"missing version", func(c *Config) { c.Version = "" }},
		{"missing router", func(c *Config) { c.Router = nil }},
		{"missing sessions", func(c *Config) { c.Sessions = nil }},
		{"missing logger", func(c *Config) { c.Logger = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewServer(cfg); err == nil {
				t.Error("NewServer() succeeded, want error")
			}
		})
	}

	if _, err := NewServer(valid); err != nil {
		t.Errorf("NewServer(valid) error: %v", err)
	}
}

func TestRun_NewSession(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	s := testServer(t, sessions)

	result, _, err := s.run(context.Background(), dispatch.ModeChat, QueryInput{Query: "hello"})
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}
	if result.IsError {
		t.Fatalf("run() returned tool error: %v", result.Content)
	}

	var resp toolResponse
	text := result.Content[0].(*sdk.TextContent).Text
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshaling tool response: %v", err)
	}
	if resp.Text != "chat answer" {
		t.Errorf("Text = %q, want %q", resp.Text, "chat answer")
	}
	if resp.Mode != "chat" {
		t.Errorf("Mode = %q, want %q", resp.Mode, "chat")
	}
	if _, err := uuid.Parse(resp.SessionID); err != nil {
		t.Errorf("SessionID = %q, want a UUID", resp.SessionID)
	}

	if len(sessions.created) != 1 || sessions.created[0] != DefaultOwnerID {
		t.Errorf("created sessions = %v, want one owned by %q", sessions.created, DefaultOwnerID)
	}
}

func TestRun_ExistingSession(t *testing.T) {
	t.Parallel()

	sessions := &fakeSessions{}
	s := testServer(t, sessions)
	id := uuid.New()

	result, _, err := s.run(context.Background(), dispatch.ModeSearch, QueryInput{
		Query:     "latest release",
		SessionID: id.String(),
	})
	if err != nil {
		t.Fatalf("run() error: %v", err)
	}

	var resp toolResponse
	text := result.Content[0].(*sdk.TextContent).Text
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshaling tool response: %v", err)
	}
	if resp.SessionID != id.String() {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, id)
	}
	if resp.Text != "search answer" {
		t.Errorf("Text = %q, want %q", resp.Text, "search answer")
	}
	if len(sessions.created) != 0 {
		t.Errorf("created %d sessions, want 0", len(sessions.created))
	}
}

func TestRun_ToolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   QueryInput
		wantMsg string
	}{
		{"blank query", QueryInput{Query: "  "}, "query must not be empty"},
		{"bad session id", QueryInput{Query: "hi", SessionID: "not-a-uuid"}, "invalid session ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := testServer(t, &fakeSessions{})

			result, _, err := s.run(context.Background(), dispatch.ModeChat, tt.input)
			if err != nil {
				t.Fatalf("run() error: %v", err)
			}
			if !result.IsError {
				t.Fatal("IsError = false, want true")
			}
			text := result.Content[0].(*sdk.TextContent).Text
			if !strings.Contains(text, tt.wantMsg) {
				t.Errorf("error text = %q, want substring %q", text, tt.wantMsg)
			}
		})
	}
}

func TestRun_UnknownMode(t *testing.T) {
	t.Parallel()

	s := testServer(t, &fakeSessions{})

	_, _, err := s.run(context.Background(), dispatch.ModeStudy, QueryInput{Query: "hi"})
	if err == nil {
		t.Error("run() with unregistered mode succeeded, want protocol error")
	}
}
