package export

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"formsync/api/internal/store"
)

type renderFunc func(ctx context.Context, html string) ([]byte, error)

type archiver interface {
	Put(ctx context.Context, key string, result *Result) (string, time.Time, error)
}

// Service turns stored forms into downloadable files.
type Service struct {
	renderers map[Format]renderFunc
	archive   archiver
}

// NewService creates an export service. archive may be nil, in which case
// exports are only returned inline.
func NewService(archive *Archive) *Service {
	s := &Service{renderers: map[Format]renderFunc{
		FormatPDF:  renderPDF,
		FormatDOCX: renderDOCX,
	}}
	if archive != nil {
		s.archive = archive
	}
	return s
}

var mimeTypes = map[Format]string{
	FormatPDF:  "application/pdf",
	FormatHTML: "text/html; charset=utf-8",
	FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Export renders detail in format. When an archive is configured the file is
// uploaded as well; an upload failure is logged and the inline data is still
// returned.
func (s *Service) Export(ctx context.Context, detail store.FormDetail, owner string, format Format) (*Result, error) {
	html, err := RenderFormHTML(TemplateDataFromDetail(detail, owner))
	if err != nil {
		return nil, err
	}

	result := &Result{
		Filename: sanitizeFilename(detail.Title) + "." + string(format),
		MimeType: mimeTypes[format],
	}
	switch format {
	case FormatHTML:
		result.Data = []byte(html)
	case FormatPDF, FormatDOCX:
		render, ok := s.renderers[format]
		if !ok {
			return nil, ErrUnsupportedFormat
		}
		data, err := render(ctx, html)
		if err != nil {
			return nil, err
		}
		result.Data = data
	default:
		return nil, ErrUnsupportedFormat
	}

	if s.archive == nil {
		return result, nil
	}
	key := fmt.Sprintf("forms/%s/v%d/%s", detail.ID, detail.Version, result.Filename)
	link, expiresAt, err := s.archive.Put(ctx, key, result)
	if err != nil {
		log.Warn("archive export", "form", detail.ID, "key", key, "err", err)
		return result, nil
	}
	result.ObjectKey = key
	result.URL = link
	result.ExpiresAt = expiresAt
	return result, nil
}
