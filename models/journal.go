package models

// Journal repräsentiert eine wissenschaftliche Zeitschrift samt Ranking- und Zitationsmetriken.
//
// IDs werden vom Aufrufer vergeben (Export/Import-stabil); bleibt die ID beim
// Insert leer, vergibt SQLite eine neue.
type Journal struct {
	ID   int64  `json:"journal_id" gorm:"primaryKey"`
	Name string `json:"journal_name_clean"`

	ABDCRank           *string  `json:"abdc_rank,omitempty" gorm:"column:abdc_rank;index"`
	JIF                *float64 `json:"jif,omitempty" gorm:"column:jif"`
	JIF5Year           *float64 `json:"jif_5_year,omitempty" gorm:"column:jif_5_year"`
	CitationPercentage *float64 `json:"citation_percentage,omitempty"`

	// ISSN ist der natürliche Schlüssel für Metrik-Updates (Clarivate-Merge).
	ISSN  *string `json:"issn,omitempty" gorm:"column:issn;index"`
	EISSN *string `json:"eissn,omitempty" gorm:"column:eissn"`

	Publisher       *string `json:"publisher,omitempty"`
	FoR             *int64  `json:"abdc_for,omitempty" gorm:"column:abdc_for"`
	YearOfInception *int64  `json:"year_of_inception,omitempty"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Journal) TableName() string {
	return "journals"
}
