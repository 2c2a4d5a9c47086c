// Package notice turns a decision's structured content into a rendered
// notice document.
package notice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/renderer"
)

// ErrRenderingFailed wraps renderer failures. The caller retries at the next
// pipeline pass, not at build time.
var ErrRenderingFailed = errors.New("rendering failed")

// Renderer is the external document renderer. *renderer.Client satisfies it.
type Renderer interface {
	Render(ctx context.Context, noticeType models.NoticeType, payload renderer.Payload) ([]byte, error)
}

// Rendered is a notice ready for archival: the sanitized structured document
// plus the rendered bytes.
type Rendered struct {
	Document []models.DocumentBlock
	PDF      []byte
}

// Builder assembles and renders notice documents.
type Builder struct {
	renderer Renderer
}

func NewBuilder(r Renderer) *Builder {
	return &Builder{renderer: r}
}

// Build sanitizes the document and renders it with the template for the
// notice type.
func (b *Builder) Build(ctx context.Context, noticeType models.NoticeType, document []models.DocumentBlock, subjectName string) (Rendered, error) {
	sanitized := SanitizeDocument(document)

	pdf, err := b.renderer.Render(ctx, noticeType, renderer.Payload{
		SubjectName: strings.TrimSpace(subjectName),
		Document:    sanitized,
	})
	if err != nil {
		return Rendered{}, fmt.Errorf("%w: %v", ErrRenderingFailed, err)
	}

	return Rendered{Document: sanitized, PDF: pdf}, nil
}

// SanitizeDocument strips control characters from every text in the
// document. Case-worker input is free-form, so offending characters are
// removed rather than rejected; newlines survive.
func SanitizeDocument(document []models.DocumentBlock) []models.DocumentBlock {
	out := make([]models.DocumentBlock, len(document))
	for i, block := range document {
		out[i] = block
		out[i].Texts = make([]string, len(block.Texts))
		for j, text := range block.Texts {
			out[i].Texts[j] = sanitizeText(text)
		}
	}
	return out
}

func sanitizeText(text string) string {
	return strings.Map(func(r rune) rune {
		if r != '\n' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}
