package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/aster0/aster/internal/session"
)

// FlowName is the registered name of the dispatch flow in Genkit.
const FlowName = "aster/dispatch"

// Input is the flow's request payload.
type Input struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
	Mode      string `json:"mode,omitempty"` // entry mode, defaults to chat
}

// Output is the flow's response payload.
type Output struct {
	Text      string             `json:"text"`
	Mode      string             `json:"mode"`
	Hops      int                `json:"hops"`
	SessionID string             `json:"sessionId"`
	Citations []session.Citation `json:"citations,omitempty"`
}

// Flow is the Genkit streaming flow wrapping Router.Run. Exposed for
// genkit.Handler() in the api package; the stream chunk type is Chunk.
type Flow = core.Flow[Input, Output, Chunk]

// DefineStreamingFlow panics on re-registration, so the flow is a
// package-level singleton.
var (
	flowOnce sync.Once
	flow     *Flow
)

// NewFlow returns the dispatch flow singleton, defining it on first call.
// Later calls return the existing flow and ignore the arguments.
func NewFlow(g *genkit.Genkit, router *Router) *Flow {
	flowOnce.Do(func() {
		flow = defineFlow(g, router)
	})
	return flow
}

// ResetFlowForTesting clears the singleton. Test use only.
func ResetFlowForTesting() {
	flowOnce = sync.Once{}
	flow = nil
}

func defineFlow(g *genkit.Genkit, router *Router) *Flow {
	return genkit.DefineStreamingFlow(g, FlowName,
		func(ctx context.Context, input Input, streamCb func(context.Context, Chunk) error) (Output, error) {
			sessionID, err := uuid.Parse(input.SessionID)
			if err != nil {
				return Output{SessionID: input.SessionID}, fmt.Errorf("invalid session ID: %w", err)
			}
			mode, err := ParseMode(input.Mode)
			if err != nil {
				return Output{SessionID: input.SessionID}, err
			}

			var cb StreamCallback
			if streamCb != nil {
				cb = func(ctx context.Context, chunk Chunk) error {
					return streamCb(ctx, chunk)
				}
			}

			outcome, err := router.Run(ctx, Request{
				SessionID: sessionID,
				Query:     input.Query,
				Mode:      mode,
			}, cb)
			if err != nil {
				return Output{SessionID: input.SessionID}, fmt.Errorf("dispatch failed: %w", err)
			}

			return Output{
				Text:      outcome.Text,
				Mode:      string(outcome.Mode),
				Hops:      outcome.Hops,
				SessionID: input.SessionID,
				Citations: outcome.Citations,
			}, nil
		},
	)
}
