package crossref

// WorksResponse ist die Top-Level-Struktur der Crossref Works-Antwort.
type WorksResponse struct {
	Status  string `json:"status"`
	Message struct {
		TotalResults int        `json:"total-results"`
		Items        []WorkItem `json:"items"`
	} `json:"message"`
}

// WorkItem repräsentiert ein einzelnes Werk in der API-Antwort.
type WorkItem struct {
	DOI            string   `json:"DOI"`
	Type           string   `json:"type"`
	URL            string   `json:"URL"`
	Title          []string `json:"title"`
	ContainerTitle []string `json:"container-title"`
	Published      struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"published"`
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
}
