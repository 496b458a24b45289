package providers

// Work ist der standardisierte Metadatensatz einer Veröffentlichung, wie ihn
// alle Provider zurückliefern.
type Work struct {
	Title       string
	Year        int // 0 = unbekannt
	DOI         string
	Type        string
	URL         string
	JournalName string
	AuthorCount int
}

// Key liefert den De-Duplizierungs-Schlüssel eines Works: DOI, sonst Titel.
func (w Work) Key() string {
	if w.DOI != "" {
		return w.DOI
	}
	return w.Title
}

// Provider ist das Interface, das jeder Werk-Provider (z.B. OpenAlex, Crossref)
// implementieren muss.
type Provider interface {
	// Works liefert die Veröffentlichungen zu einem Autorennamen als
	// standardisierte Work-Datensätze zurück.
	Works(researcherName string) ([]Work, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "openalex").
	Name() string
}
