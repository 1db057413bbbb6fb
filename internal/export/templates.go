package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"formsync/api/internal/store"
)

//go:embed templates/form.html
var templateFS embed.FS

var formTemplate = template.Must(
	template.New("form.html").
		Funcs(template.FuncMap{
			"formatDate": func(t time.Time, layout string) string {
				return t.Format(layout)
			},
		}).
		ParseFS(templateFS, "templates/form.html"),
)

// TemplateData holds data for form template rendering.
type TemplateData struct {
	Title       string
	Description string
	Owner       string
	Version     int
	UpdatedAt   time.Time
	Questions   []TemplateQuestion
}

type TemplateQuestion struct {
	Number      int
	Text        string
	Description string
	TypeID      string
	Required    bool
	Options     []string
	Scale       []int
}

// TemplateDataFromDetail lays a stored form out for printing.
func TemplateDataFromDetail(detail store.FormDetail, owner string) TemplateData {
	data := TemplateData{
		Title:       detail.Title,
		Description: detail.Description,
		Owner:       owner,
		Version:     detail.Version,
		UpdatedAt:   detail.UpdatedAt,
		Questions:   make([]TemplateQuestion, 0, len(detail.Questions)),
	}
	for i, q := range detail.Questions {
		item := TemplateQuestion{
			Number:      i + 1,
			Text:        q.Text,
			Description: q.Description,
			TypeID:      q.TypeID,
			Required:    q.IsRequired,
		}
		for _, o := range q.Options {
			item.Options = append(item.Options, o.Label)
		}
		if q.TypeID == "rating" {
			item.Scale = []int{1, 2, 3, 4, 5}
		}
		data.Questions = append(data.Questions, item)
	}
	return data
}

// RenderFormHTML renders the printable form.
func RenderFormHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := formTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render form template: %w", err)
	}
	return buf.String(), nil
}
