package openalex

// WorksResponse ist die Top-Level-Struktur der OpenAlex Works-Antwort.
type WorksResponse struct {
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
	Results []WorkResult `json:"results"`
}

// WorkResult repräsentiert ein einzelnes Werk in der API-Antwort.
type WorkResult struct {
	ID              string `json:"id"`
	DOI             string `json:"doi"`
	Title           string `json:"title"`
	PublicationYear int    `json:"publication_year"`
	Type            string `json:"type"`
	PrimaryLocation struct {
		Source struct {
			DisplayName string `json:"display_name"`
			ISSNL       string `json:"issn_l"`
		} `json:"source"`
	} `json:"primary_location"`
	Authorships []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
}
