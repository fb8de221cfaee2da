package model

// Book is a tenant-scoped catalogue entry
type Book struct {
	ID          int64  `json:"id" gorm:"primaryKey"`
	Identifier  string `json:"identifier" gorm:"type:varchar(255);not null;uniqueIndex:uq_book_identifier"`
	Name        string `json:"name" gorm:"type:varchar(255);not null"`
	Author      string `json:"author" gorm:"type:varchar(255);not null"`
	ReleaseYear *int   `json:"release_year"`
	Timestamps
}

// BookCreate is the create and upsert shape
type BookCreate struct {
	Identifier  string `json:"identifier" validate:"required,max=255"`
	Name        string `json:"name" validate:"required,max=255"`
	Author      string `json:"author" validate:"required,max=255"`
	ReleaseYear *int   `json:"release_year"`
}

func (p BookCreate) Columns(bool) map[string]any {
	return map[string]any{
		"identifier":   p.Identifier,
		"name":         p.Name,
		"author":       p.Author,
		"release_year": p.ReleaseYear,
	}
}

// BookUpdate is the partial update shape
type BookUpdate struct {
	Identifier  *string `json:"identifier" validate:"omitempty,min=1,max=255"`
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Author      *string `json:"author" validate:"omitempty,min=1,max=255"`
	ReleaseYear *int    `json:"release_year"`
}

func (p BookUpdate) Columns(applyNone bool) map[string]any {
	cols := map[string]any{}
	// identifier, name and author are NOT NULL, never null them
	setIf(cols, "identifier", p.Identifier, false)
	setIf(cols, "name", p.Name, false)
	setIf(cols, "author", p.Author, false)
	setIf(cols, "release_year", p.ReleaseYear, applyNone)
	return cols
}

func (b Book) GetID() int64 { return b.ID }
