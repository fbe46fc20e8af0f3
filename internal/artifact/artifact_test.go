package artifact

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestArtifact_validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a       Artifact
		wantErr error
	}{
		{
			name:    "valid image",
			a:       Artifact{Kind: KindImage, MIMEType: "image/png", Data: []byte{1, 2, 3}},
			wantErr: nil,
		},
		{
			name:    "valid canvas",
			a:       Artifact{Kind: KindCanvas, MIMEType: "text/markdown", Data: []byte("# doc")},
			wantErr: nil,
		},
		{
			name:    "unknown kind",
			a:       Artifact{Kind: Kind("video"), Data: []byte{1}},
			wantErr: ErrInvalidKind,
		},
		{
			name:    "empty data",
			a:       Artifact{Kind: KindImage},
			wantErr: ErrEmptyData,
		},
		{
			name:    "oversized data",
			a:       Artifact{Kind: KindImage, Data: bytes.Repeat([]byte{0}, MaxDataBytes+1)},
			wantErr: ErrTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.a.validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestArtifact_Ref(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	a := &Artifact{ID: id, Kind: KindCanvas, Title: "plan.md", Data: []byte("x")}

	ref := a.Ref()
	if ref.ID != id || ref.Kind != KindCanvas || ref.Title != "plan.md" {
		t.Errorf("Ref() = %+v, want matching fields", ref)
	}
}
