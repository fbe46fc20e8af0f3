package invoke

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/aster0/aster/internal/artifact"
	"github.com/aster0/aster/internal/dispatch"
)

// ErrNoImage is returned when the image model produced no media part.
var ErrNoImage = errors.New("model returned no image")

// ArtifactStore is the slice of the artifact store the generating modes need.
type ArtifactStore interface {
	Put(ctx context.Context, a *artifact.Artifact) error
}

// Image generates an image and stores it as an artifact.
type Image struct {
	base
	artifacts ArtifactStore
}

// NewImage creates the image invoker. model must be image-capable.
func NewImage(g *genkit.Genkit, model string, opts Options, artifacts ArtifactStore, logger *slog.Logger) (*Image, error) {
	b, err := newBase(g, model, opts, logger)
	if err != nil {
		return nil, err
	}
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	return &Image{base: b, artifacts: artifacts}, nil
}

// Invoke implements dispatch.Invoker. The streaming callback only receives
// text parts; the image itself is stored and returned as an artifact ref.
func (im *Image) Invoke(ctx context.Context, inv dispatch.Invocation, cb ai.ModelStreamCallback) (*dispatch.Result, error) {
	var textOnly ai.ModelStreamCallback
	if cb != nil {
		textOnly = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			var parts []*ai.Part
			for _, p := range chunk.Content {
				if p.Kind == ai.PartText && p.Text != "" {
					parts = append(parts, p)
				}
			}
			if len(parts) == 0 {
				return nil
			}
			return cb(ctx, &ai.ModelResponseChunk{Content: parts})
		}
	}

	resp, err := im.generate(ctx, im.generateOptions("", inv.Query, nil, nil, textOnly))
	if err != nil {
		return nil, err
	}

	var refs []artifact.Ref
	var caption strings.Builder
	for _, part := range resp.Message.Content {
		switch {
		case part.IsMedia():
			mime, data, derr := decodeMediaPart(part)
			if derr != nil {
				im.logger.Warn("skipping undecodable media part", "error", derr)
				continue
			}
			art := &artifact.Artifact{
				SessionID: inv.SessionID,
				Kind:      artifact.KindImage,
				Title:     dispatch.StripTags(inv.Query),
				MIMEType:  mime,
				Data:      data,
			}
			if err := im.artifacts.Put(ctx, art); err != nil {
				return nil, fmt.Errorf("storing image: %w", err)
			}
			refs = append(refs, art.Ref())
		case part.IsText():
			caption.WriteString(part.Text)
		}
	}
	if len(refs) == 0 {
		return nil, ErrNoImage
	}

	text := strings.TrimSpace(caption.String())
	for _, ref := range refs {
		if text != "" {
			text += "\n\n"
		}
		text += fmt.Sprintf("![%s](/api/v1/artifacts/%s)", ref.Title, ref.ID)
	}

	return &dispatch.Result{Text: text, Artifacts: refs}, nil
}

// decodeMediaPart unpacks a data-URI media part into mime type and bytes.
func decodeMediaPart(part *ai.Part) (string, []byte, error) {
	uri := part.Text
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, fmt.Errorf("media part is not a data URI")
	}
	rest := strings.TrimPrefix(uri, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return "", nil, fmt.Errorf("media part is not base64-encoded")
	}
	mime := rest[:semi]
	if mime == "" {
		mime = part.ContentType
	}
	data, err := base64.StdEncoding.DecodeString(rest[semi+len(";base64,"):])
	if err != nil {
		return "", nil, fmt.Errorf("decoding media payload: %w", err)
	}
	return mime, data, nil
}
