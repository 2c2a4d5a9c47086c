package notice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/renderer"
)

type fakeRenderer struct {
	payload    renderer.Payload
	noticeType models.NoticeType
	pdf        []byte
	err        error
}

func (r *fakeRenderer) Render(ctx context.Context, noticeType models.NoticeType, payload renderer.Payload) ([]byte, error) {
	r.noticeType = noticeType
	r.payload = payload
	if r.err != nil {
		return nil, r.err
	}
	return r.pdf, nil
}

func TestBuildRendersSanitizedDocument(t *testing.T) {
	r := &fakeRenderer{pdf: []byte("%PDF-1.7")}
	b := NewBuilder(r)

	document := []models.DocumentBlock{
		{Kind: models.BlockHeading, Texts: []string{"Varsel\x00"}},
		{Kind: models.BlockParagraph, Texts: []string{"linje en\nlinje to\x1b"}},
	}

	rendered, err := b.Build(context.Background(), models.NoticeAdvanceWarning, document, "  Ola Nordmann ")
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.7"), rendered.PDF)

	require.Equal(t, models.NoticeAdvanceWarning, r.noticeType)
	require.Equal(t, "Ola Nordmann", r.payload.SubjectName)
	require.Equal(t, []models.DocumentBlock{
		{Kind: models.BlockHeading, Texts: []string{"Varsel"}},
		{Kind: models.BlockParagraph, Texts: []string{"linje en\nlinje to"}},
	}, r.payload.Document)
	require.Equal(t, r.payload.Document, rendered.Document)
}

func TestBuildWrapsRendererError(t *testing.T) {
	r := &fakeRenderer{err: errors.New("template missing")}
	b := NewBuilder(r)

	_, err := b.Build(context.Background(), models.NoticeExemption, nil, "Ola Nordmann")
	require.ErrorIs(t, err, ErrRenderingFailed)
}

func TestSanitizeDocumentDoesNotMutateInput(t *testing.T) {
	document := []models.DocumentBlock{
		{Kind: models.BlockParagraph, Texts: []string{"tekst\x07"}},
	}

	sanitized := SanitizeDocument(document)
	require.Equal(t, "tekst", sanitized[0].Texts[0])
	require.Equal(t, "tekst\x07", document[0].Texts[0])
}

func TestSanitizeDocumentKeepsLinks(t *testing.T) {
	href := "https://example.org/aktivitetskrav"
	document := []models.DocumentBlock{
		{Kind: models.BlockLink, Texts: []string{"Les mer"}, Href: &href},
	}

	sanitized := SanitizeDocument(document)
	require.NotNil(t, sanitized[0].Href)
	require.Equal(t, "https://example.org/aktivitetskrav", *sanitized[0].Href)
}

func TestSanitizeTextKeepsNonASCII(t *testing.T) {
	require.Equal(t, "blåbærsyltetøy", sanitizeText("blåbærsyltetøy"))
	require.Equal(t, "ab", sanitizeText("ab"))
}
