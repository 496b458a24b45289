package openalex

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"scholar-board/config"
	"scholar-board/providers"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implementiert das Provider-Interface für OpenAlex.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen OpenAlex Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "openalex"
}

// Works sucht Veröffentlichungen über die OpenAlex Works-API.
func (f *Fetcher) Works(researcherName string) ([]providers.Work, error) {
	log := f.Logger.With(zap.String("researcher", researcherName))
	log.Info("Starte Suche auf OpenAlex.")

	params := url.Values{}
	params.Set("filter", "raw_author_name.search:"+researcherName)
	params.Set("per-page", fmt.Sprintf("%d", f.Config.ProviderMaxResults))
	if f.Config.ContactEmail != "" {
		// mailto schaltet den "polite pool" der OpenAlex-API frei.
		params.Set("mailto", f.Config.ContactEmail)
	}
	searchURL := fmt.Sprintf("%s/works?%s", f.Config.OpenAlexBaseURL, params.Encode())
	log.Debug("Rufe OpenAlex API auf", zap.String("url", searchURL))

	resp, err := httpClient.Get(searchURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openalex: unexpected status %s", resp.Status)
	}

	var searchResponse WorksResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResponse); err != nil {
		return nil, err
	}

	var works []providers.Work
	for _, result := range searchResponse.Results {
		works = append(works, mapResultToWork(&result))
	}

	log.Info("Suche auf OpenAlex abgeschlossen", zap.Int("found_works", len(works)))
	return works, nil
}

// mapResultToWork konvertiert ein OpenAlex-Result in unseren Work-Datensatz.
func mapResultToWork(result *WorkResult) providers.Work {
	work := providers.Work{
		Title:       result.Title,
		Year:        result.PublicationYear,
		DOI:         normalizeDOI(result.DOI),
		Type:        result.Type,
		JournalName: result.PrimaryLocation.Source.DisplayName,
		AuthorCount: len(result.Authorships),
	}
	if work.DOI != "" {
		work.URL = "https://doi.org/" + work.DOI
	}
	return work
}

// normalizeDOI entfernt das URL-Präfix, das OpenAlex im doi-Feld mitliefert.
func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	return doi
}
