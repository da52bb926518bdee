package processing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/model"
	pdfutil "github.com/dharsanguruparan/mindflow/internal/pdf"
)

// Extractor turns an uploaded file into a processing result. *Client
// satisfies it.
type Extractor interface {
	Extract(ctx context.Context, file model.SourceFile) (*model.ProcessingResult, error)
}

// Library is the part of *library.Store the ingestor writes to.
type Library interface {
	AddUploadedDocument(result model.ProcessingResult, file *model.SourceFile) (model.Document, bool)
	UpdateDocument(id string, patch model.DocumentPatch) (model.Document, bool)
	Get(id string) (model.Document, bool)
}

// Ingestor runs one upload end to end: extraction, library insertion and page
// text for PDFs.
type Ingestor struct {
	extractor Extractor
	lib       Library
	pages     func([]byte) ([]string, error)
	log       *zap.Logger
}

// NewIngestor wires an extractor to a library.
func NewIngestor(extractor Extractor, lib Library, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{
		extractor: extractor,
		lib:       lib,
		pages:     pdfutil.ExtractPages,
		log:       log.Named("ingest"),
	}
}

// Ingest extracts file and adds the result to the library. Page text
// extraction is best effort; a failure leaves Content empty.
func (i *Ingestor) Ingest(ctx context.Context, file model.SourceFile) (model.Document, error) {
	result, err := i.extractor.Extract(ctx, file)
	if err != nil {
		return model.Document{}, fmt.Errorf("extract %s: %w", file.Name, err)
	}
	doc, ok := i.lib.AddUploadedDocument(*result, &file)
	if !ok {
		if _, exists := i.lib.Get(result.ID); exists {
			return model.Document{}, fmt.Errorf("ingest %s: %w", result.ID, ErrDuplicate)
		}
		return model.Document{}, fmt.Errorf("ingest %s: %w", file.Name, ErrRejected)
	}
	if len(doc.Content) > 0 || !file.IsPDF() {
		return doc, nil
	}

	pages, err := i.pages(file.Data)
	if err != nil {
		i.log.Warn("page text extraction failed", zap.String("document_id", doc.ID), zap.Error(err))
		return doc, nil
	}
	if len(pages) == 0 {
		return doc, nil
	}
	updated, ok := i.lib.UpdateDocument(doc.ID, model.DocumentPatch{Content: &pages})
	if !ok {
		// Removed between insertion and update.
		return doc, nil
	}
	i.log.Debug("page text attached", zap.String("document_id", doc.ID), zap.Int("pages", len(pages)))
	return updated, nil
}
