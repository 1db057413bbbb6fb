package store

import "time"

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

type QuestionType struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	HasOptions bool   `json:"hasOptions"`
}

// Form is the root row. QuestionCount is only filled by listings.
type Form struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	IsPublished   bool      `json:"isPublished"`
	Version       int       `json:"version"`
	QuestionCount int       `json:"questionCount,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Question struct {
	ID          string       `json:"id"`
	FormID      string       `json:"formId"`
	Ordinal     int          `json:"ordinal"`
	Text        string       `json:"text"`
	Description string       `json:"description"`
	TypeID      string       `json:"typeId"`
	IsRequired  bool         `json:"isRequired"`
	Type        QuestionType `json:"type"`
	Options     []Option     `json:"options"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Option struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"questionId"`
	Ordinal    int       `json:"ordinal"`
	Label      string    `json:"label"`
	Value      string    `json:"value"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// FormDetail is a form with its questions and options materialized in
// ordinal order. Its JSON encoding is the document clients edit and submit.
type FormDetail struct {
	Form
	Questions []Question `json:"questions"`
}
