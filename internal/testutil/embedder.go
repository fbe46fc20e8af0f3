package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/aster0/aster/internal/log"
)

// EmbedderSetup bundles the resources embedder-backed tests need.
type EmbedderSetup struct {
	Embedder ai.Embedder
	Genkit   *genkit.Genkit
	Logger   log.Logger
}

// SetupEmbedder initializes Genkit with the Google AI plugin and returns a
// real embedder. Skips the test when GEMINI_API_KEY is not set, so the
// suite stays green offline.
func SetupEmbedder(t *testing.T) *EmbedderSetup {
	t.Helper()

	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set - skipping test requiring embedder")
	}

	g := genkit.Init(context.Background(), genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		t.Fatal("initializing genkit")
	}

	embedder := googlegenai.GoogleAIEmbedder(g, "text-embedding-004")
	if embedder == nil {
		t.Fatal("embedder text-embedding-004 not found")
	}

	return &EmbedderSetup{
		Embedder: embedder,
		Genkit:   g,
		Logger:   log.NewNop(),
	}
}
