package proof

import (
	"context"
	"fmt"

	"github.com/tresoria-erp/tresoria/internal/closing"
)

// HTMLRenderer converts an HTML document into a PDF.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Generator renders proof documents to PDF.
type Generator struct {
	pdf HTMLRenderer
}

// NewGenerator constructs a Generator.
func NewGenerator(pdf HTMLRenderer) *Generator {
	return &Generator{pdf: pdf}
}

// Closing renders the closing statement PDF for the given data.
func (g *Generator) Closing(ctx context.Context, data closing.ProofData) ([]byte, error) {
	if g == nil || g.pdf == nil {
		return nil, fmt.Errorf("proof: generator not configured")
	}
	html, err := RenderClosing(data)
	if err != nil {
		return nil, err
	}
	pdf, err := g.pdf.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("proof: pdf conversion: %w", err)
	}
	return pdf, nil
}

// Journal renders the disbursement journal PDF for the given data.
func (g *Generator) Journal(ctx context.Context, data closing.ProofData) ([]byte, error) {
	if g == nil || g.pdf == nil {
		return nil, fmt.Errorf("proof: generator not configured")
	}
	html, err := RenderJournal(data)
	if err != nil {
		return nil, err
	}
	pdf, err := g.pdf.RenderHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("proof: pdf conversion: %w", err)
	}
	return pdf, nil
}
