package model

// Critic writes reviews inside one tenant
type Critic struct {
	ID       int64   `json:"id" gorm:"primaryKey"`
	Username string  `json:"username" gorm:"type:varchar(255);not null;uniqueIndex:uq_critic_username"`
	Name     *string `json:"name"`
	Bio      *string `json:"bio"`
	Timestamps
}

type CriticCreate struct {
	Username string  `json:"username" validate:"required,max=255"`
	Name     *string `json:"name"`
	Bio      *string `json:"bio"`
}

func (p CriticCreate) Columns(bool) map[string]any {
	return map[string]any{
		"username": p.Username,
		"name":     p.Name,
		"bio":      p.Bio,
	}
}

type CriticUpdate struct {
	Username *string `json:"username" validate:"omitempty,min=1,max=255"`
	Name     *string `json:"name"`
	Bio      *string `json:"bio"`
}

func (p CriticUpdate) Columns(applyNone bool) map[string]any {
	cols := map[string]any{}
	setIf(cols, "username", p.Username, false)
	setIf(cols, "name", p.Name, applyNone)
	setIf(cols, "bio", p.Bio, applyNone)
	return cols
}

func (c Critic) GetID() int64 { return c.ID }
