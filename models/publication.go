package models

// Publication repräsentiert eine einzelne Veröffentlichung.
//
// ResearcherID und JournalID sind optionale Referenzen: eine Publikation ohne
// auflösbare Zuordnung bleibt erhalten (Outer-Join-Semantik beim Export).
// JournalName hält den rohen Zeitschriftennamen auch dann fest, wenn kein
// strukturierter Journal-Link existiert.
type Publication struct {
	ID    int64  `json:"publication_id" gorm:"primaryKey"`
	Title string `json:"title"`

	Year            *int64  `json:"year,omitempty"`
	PublicationType *string `json:"publication_type,omitempty" gorm:"index"`
	PublicationURL  *string `json:"publication_url,omitempty"`
	JournalName     *string `json:"journal_name,omitempty"`
	NumAuthors      *int64  `json:"num_authors,omitempty"`

	ResearcherID *int64 `json:"researcher_id,omitempty" gorm:"index"`
	JournalID    *int64 `json:"journal_id,omitempty" gorm:"index"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Publication) TableName() string {
	return "publications"
}
