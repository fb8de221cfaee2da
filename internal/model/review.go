package model

// Review is one critic's rating of one book. A critic reviews a book at
// most once.
type Review struct {
	ID       int64   `json:"id" gorm:"primaryKey"`
	Title    string  `json:"title" gorm:"type:varchar(255);not null"`
	CriticID int64   `json:"critic_id" gorm:"not null;uniqueIndex:uq_review_critic_book,priority:1"`
	BookID   int64   `json:"book_id" gorm:"not null;uniqueIndex:uq_review_critic_book,priority:2"`
	Rating   int     `json:"rating" gorm:"not null"`
	Body     *string `json:"body"`
	Timestamps
}

type ReviewCreate struct {
	Title    string  `json:"title" validate:"required,max=255"`
	CriticID int64   `json:"critic_id" validate:"required,gt=0"`
	BookID   int64   `json:"book_id" validate:"required,gt=0"`
	Rating   int     `json:"rating" validate:"required,min=1,max=5"`
	Body     *string `json:"body"`
}

func (p ReviewCreate) Columns(bool) map[string]any {
	return map[string]any{
		"title":     p.Title,
		"critic_id": p.CriticID,
		"book_id":   p.BookID,
		"rating":    p.Rating,
		"body":      p.Body,
	}
}

type ReviewUpdate struct {
	Title    *string `json:"title" validate:"omitempty,min=1,max=255"`
	CriticID *int64  `json:"critic_id" validate:"omitempty,gt=0"`
	BookID   *int64  `json:"book_id" validate:"omitempty,gt=0"`
	Rating   *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Body     *string `json:"body"`
}

func (p ReviewUpdate) Columns(applyNone bool) map[string]any {
	cols := map[string]any{}
	setIf(cols, "title", p.Title, false)
	setIf(cols, "critic_id", p.CriticID, false)
	setIf(cols, "book_id", p.BookID, false)
	setIf(cols, "rating", p.Rating, false)
	setIf(cols, "body", p.Body, applyNone)
	return cols
}

func (r Review) GetID() int64 { return r.ID }
