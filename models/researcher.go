package models

// Researcher repräsentiert eine Forscherin bzw. einen Forscher einer Universität.
type Researcher struct {
	ID         int64  `json:"researcher_id" gorm:"primaryKey"`
	Name       string `json:"researcher_name" gorm:"index"`
	University string `json:"university" gorm:"index"`

	ProfileURL *string `json:"profile_url,omitempty"`
	JobTitle   *string `json:"job_title,omitempty"`
	Level      *string `json:"level,omitempty"`
	// Field wird separat über das Staff-Field-Mapping gepflegt (Match über Name).
	Field *string `json:"field,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Researcher) TableName() string {
	return "researchers"
}
