package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/aster0/aster/internal/dispatch"
)

// ProjectPlan is the structured output of the project mode.
type ProjectPlan struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Language    string        `json:"language"`
	Files       []ProjectFile `json:"files"`
	Steps       []string      `json:"steps,omitempty"`
}

// ProjectFile is one file in a project scaffold.
type ProjectFile struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// StudyPlan is the structured output of the study mode.
type StudyPlan struct {
	Goal      string      `json:"goal"`
	Duration  string      `json:"duration"`
	Stages    []StudyUnit `json:"stages"`
	Resources []string    `json:"resources,omitempty"`
}

// StudyUnit is one stage of a study plan.
type StudyUnit struct {
	Title      string   `json:"title"`
	Duration   string   `json:"duration"`
	Objectives []string `json:"objectives"`
}

const projectSystemPrompt = `You design project scaffolds. Respond with a
single JSON object matching the schema below: the project name, a short
description, the primary language, the file tree with each file's purpose,
and optional setup steps. Output only JSON, no prose, no code fences.`

const studySystemPrompt = `You design study plans. Respond with a single
JSON object matching the schema below: the learning goal, total duration,
ordered stages each with title, duration and concrete objectives, and
optional resources. Output only JSON, no prose, no code fences.`

// Structured is an invoker whose output is JSON validated against a schema,
// with one re-ask when validation fails. Output is validated before display,
// so nothing streams until the document is final.
type Structured struct {
	base
	system     string
	schemaJSON string
	resolved   *jsonschema.Resolved
}

// NewProject creates the project-scaffold invoker.
func NewProject(g *genkit.Genkit, model string, opts Options, logger *slog.Logger) (*Structured, error) {
	return newStructured[ProjectPlan](g, model, opts, projectSystemPrompt, logger)
}

// NewStudy creates the study-plan invoker.
func NewStudy(g *genkit.Genkit, model string, opts Options, logger *slog.Logger) (*Structured, error) {
	return newStructured[StudyPlan](g, model, opts, studySystemPrompt, logger)
}

func newStructured[T any](g *genkit.Genkit, model string, opts Options, system string, logger *slog.Logger) (*Structured, error) {
	b, err := newBase(g, model, opts, logger)
	if err != nil {
		return nil, err
	}

	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("building schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	return &Structured{
		base:       b,
		system:     system + "\n\nSchema:\n" + string(raw),
		schemaJSON: string(raw),
		resolved:   resolved,
	}, nil
}

// Invoke implements dispatch.Invoker. The validated JSON document is
// forwarded as one chunk when streaming.
func (s *Structured) Invoke(ctx context.Context, inv dispatch.Invocation, cb ai.ModelStreamCallback) (*dispatch.Result, error) {
	doc, err := s.generateValid(ctx, inv.Query)
	if err != nil {
		return nil, err
	}

	text := "```json\n" + doc + "\n```"
	if cb != nil {
		chunk := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(text)}}
		if err := cb(ctx, chunk); err != nil {
			return nil, err
		}
	}
	return &dispatch.Result{Text: text}, nil
}

// generateValid asks for JSON and validates it, re-asking once with the
// validation error on failure.
func (s *Structured) generateValid(ctx context.Context, query string) (string, error) {
	prompt := query
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := s.generate(ctx, s.generateOptions(s.system, prompt, nil, nil, nil))
		if err != nil {
			return "", err
		}

		doc, verr := s.validate(resp.Text())
		if verr == nil {
			return doc, nil
		}
		lastErr = verr
		s.logger.Debug("structured output invalid, re-asking", "error", verr)
		prompt = fmt.Sprintf(
			"%s\n\nYour previous answer was rejected: %v\nReturn corrected JSON only.",
			query, verr)
	}
	return "", fmt.Errorf("structured output failed validation: %w", lastErr)
}

// validate parses the model output and checks it against the schema,
// returning the document re-marshaled with stable indentation.
func (s *Structured) validate(text string) (string, error) {
	cleaned := strings.TrimSpace(text)
	if _, _, body := parseCanvasOutput(cleaned); body != "" {
		cleaned = body
	}

	var value any
	if err := json.Unmarshal([]byte(cleaned), &value); err != nil {
		return "", fmt.Errorf("output is not valid JSON: %w", err)
	}
	if err := s.resolved.Validate(value); err != nil {
		return "", fmt.Errorf("schema validation: %w", err)
	}

	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("re-encoding output: %w", err)
	}
	return string(pretty), nil
}
