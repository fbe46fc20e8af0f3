// Package mcp exposes the dispatch router over the Model Context Protocol.
//
// The server speaks MCP over stdio and registers three tools — ask, search,
// and research — so MCP clients (Genkit CLI, editors, other agents) can drive
// the same dispatch loop the chat surfaces use. Tool calls run against real
// sessions: a call without a session ID gets a fresh session, and the ID is
// returned so follow-up calls can continue the conversation.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/session"
)

// DefaultOwnerID scopes sessions created by MCP clients when the config
// does not name an owner. MCP runs locally over stdio, so a single shared
// owner is the natural default.
const DefaultOwnerID = "mcp"

// SessionCreator is the slice of the session store the server needs.
type SessionCreator interface {
	Create(ctx context.Context, ownerID, title string) (*session.Session, error)
}

// Config assembles an MCP server.
type Config struct {
	Name    string
	Version string

	Router   *dispatch.Router
	Sessions SessionCreator
	Logger   *slog.Logger

	// OwnerID owns sessions created on behalf of MCP clients.
	// Empty means DefaultOwnerID.
	OwnerID string
}

func (cfg Config) validate() error {
	if cfg.Name == "" {
		return errors.New("server name is required")
	}
	if cfg.Version == "" {
		return errors.New("server version is required")
	}
	if cfg.Router == nil {
		return errors.New("router is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Server bridges MCP tool calls to the dispatch router.
type Server struct {
	mcpServer *mcp.Server
	router    *dispatch.Router
	sessions  SessionCreator
	logger    *slog.Logger
	ownerID   string
}

// NewServer creates an MCP server with the ask, search and research tools
// registered.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ownerID := cfg.OwnerID
	if ownerID == "" {
		ownerID = DefaultOwnerID
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		router:   cfg.Router,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
		ownerID:  ownerID,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run serves MCP on the given transport. Blocks until the transport closes
// or ctx is canceled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// QueryInput is the shared input shape of all three tools.
type QueryInput struct {
	Query     string `json:"query" jsonschema:"The question or task to run"`
	SessionID string `json:"sessionId,omitempty" jsonschema:"Session to continue. Omit to start a new session; the response carries the new session's ID."`
}

// toolResponse is the JSON payload returned as tool text content.
type toolResponse struct {
	Text      string             `json:"text"`
	Mode      string             `json:"mode"`
	Hops      int                `json:"hops"`
	SessionID string             `json:"sessionId"`
	Citations []session.Citation `json:"citations,omitempty"`
}

func (s *Server) registerTools() error {
	tools := []struct {
		name        string
		description string
		mode        dispatch.Mode
	}{
		{
			name:        "ask",
			description: "Ask a question. The answer may be escalated to search, research or another mode when the model decides the question needs it.",
			mode:        dispatch.ModeChat,
		},
		{
			name:        "search",
			description: "Answer a question using live web search results, with citations.",
			mode:        dispatch.ModeSearch,
		},
		{
			name:        "research",
			description: "Run a multi-page research pipeline over the question and synthesize a cited report. Slower and more thorough than search.",
			mode:        dispatch.ModeResearch,
		},
	}

	inputSchema, err := jsonschema.For[QueryInput](nil)
	if err != nil {
		return fmt.Errorf("building input schema: %w", err)
	}

	for _, t := range tools {
		mode := t.mode
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        t.name,
			Description: t.description,
			InputSchema: inputSchema,
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, any, error) {
			return s.run(ctx, mode, in)
		})
	}
	return nil
}

// run executes one tool call through the router.
//
// Input mistakes (blank query, malformed session ID) come back as tool
// results with IsError set so the client model can correct itself;
// everything else propagates as a protocol error.
func (s *Server) run(ctx context.Context, mode dispatch.Mode, in QueryInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Query) == "" {
		return errorResult("query must not be empty"), nil, nil
	}

	sessionID, result := s.resolveSession(ctx, in)
	if result != nil {
		return result, nil, nil
	}

	outcome, err := s.router.Run(ctx, dispatch.Request{
		SessionID: sessionID,
		Query:     in.Query,
		Mode:      mode,
	}, nil)
	if err != nil {
		if errors.Is(err, dispatch.ErrEmptyQuery) {
			return errorResult("query must not be empty"), nil, nil
		}
		return nil, nil, fmt.Errorf("dispatch failed: %w", err)
	}

	s.logger.Debug("mcp tool call completed",
		"mode", outcome.Mode,
		"hops", outcome.Hops,
		"session_id", sessionID,
	)

	return jsonResult(toolResponse{
		Text:      outcome.Text,
		Mode:      string(outcome.Mode),
		Hops:      outcome.Hops,
		SessionID: sessionID.String(),
		Citations: outcome.Citations,
	})
}

// resolveSession parses the caller's session ID or creates a fresh session.
// A non-nil result is a client-correctable error to return as tool output.
func (s *Server) resolveSession(ctx context.Context, in QueryInput) (uuid.UUID, *mcp.CallToolResult) {
	if in.SessionID != "" {
		id, err := uuid.Parse(in.SessionID)
		if err != nil {
			return uuid.Nil, errorResult(fmt.Sprintf("invalid session ID %q", in.SessionID))
		}
		return id, nil
	}

	sess, err := s.sessions.Create(ctx, s.ownerID, session.TruncateTitle(in.Query))
	if err != nil {
		s.logger.Error("creating session for mcp call", "error", err)
		return uuid.Nil, errorResult("could not create a session, retry the call")
	}
	return sess.ID, nil
}

// jsonResult marshals v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling tool response: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

// errorResult builds a tool-level error the client model can act on.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
