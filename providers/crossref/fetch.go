package crossref

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"scholar-board/config"
	"scholar-board/providers"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implementiert das Provider-Interface für Crossref.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Crossref Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "crossref"
}

// Works sucht Veröffentlichungen über die Crossref Works-API.
func (f *Fetcher) Works(researcherName string) ([]providers.Work, error) {
	log := f.Logger.With(zap.String("researcher", researcherName))
	log.Info("Starte Suche auf Crossref.")

	params := url.Values{}
	params.Set("query.author", researcherName)
	params.Set("rows", fmt.Sprintf("%d", f.Config.ProviderMaxResults))
	if f.Config.ContactEmail != "" {
		params.Set("mailto", f.Config.ContactEmail)
	}
	searchURL := fmt.Sprintf("%s/works?%s", f.Config.CrossrefBaseURL, params.Encode())
	log.Debug("Rufe Crossref API auf", zap.String("url", searchURL))

	resp, err := httpClient.Get(searchURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crossref: unexpected status %s", resp.Status)
	}

	var searchResponse WorksResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResponse); err != nil {
		return nil, err
	}

	var works []providers.Work
	for _, item := range searchResponse.Message.Items {
		works = append(works, mapItemToWork(&item))
	}

	log.Info("Suche auf Crossref abgeschlossen", zap.Int("found_works", len(works)))
	return works, nil
}

// mapItemToWork konvertiert ein Crossref-Item in unseren Work-Datensatz.
func mapItemToWork(item *WorkItem) providers.Work {
	work := providers.Work{
		DOI:         item.DOI,
		Type:        item.Type,
		URL:         item.URL,
		AuthorCount: len(item.Author),
	}
	if len(item.Title) > 0 {
		work.Title = item.Title[0]
	}
	if len(item.ContainerTitle) > 0 {
		work.JournalName = item.ContainerTitle[0]
	}
	if len(item.Published.DateParts) > 0 && len(item.Published.DateParts[0]) > 0 {
		work.Year = item.Published.DateParts[0][0]
	}
	return work
}
