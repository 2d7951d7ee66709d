package convert

import (
	"context"

	"github.com/mailmerge/backend/internal/models"
)

// PassthroughConverter keeps the rendered document as the final artifact.
type PassthroughConverter struct{}

func NewPassthroughConverter() *PassthroughConverter {
	return &PassthroughConverter{}
}

func (p *PassthroughConverter) Name() string {
	return "none"
}

func (p *PassthroughConverter) TargetExt() string {
	return ""
}

func (p *PassthroughConverter) Open(ctx context.Context) (Session, error) {
	return passthroughSession{}, nil
}

type passthroughSession struct{}

func (passthroughSession) Convert(ctx context.Context, doc models.Document) (string, error) {
	return verifyArtifact(doc, doc.Path)
}

func (passthroughSession) Close() error {
	return nil
}
