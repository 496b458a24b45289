package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-board/models"
	"scholar-board/providers"
	"scholar-board/storage"
)

// Collector ist der lang laufende Sammellauf: er holt für jeden Researcher im
// aktiven Datastore die Veröffentlichungen aller aktivierten Provider und
// frischt die Publication-Collection auf.
//
// Der rohe Zeitschriftenname wird nur als journal_name-String übernommen;
// die strukturierte Journal-Zuordnung ist Sache des nachgelagerten Matchings.
type Collector struct {
	board     *storage.Switchboard
	providers []providers.Provider
	log       *zap.Logger
}

// NewCollector erstellt eine neue Instanz des Collectors.
func NewCollector(board *storage.Switchboard, provs []providers.Provider, log *zap.Logger) *Collector {
	return &Collector{board: board, providers: provs, log: log}
}

// Run ist der Runner-Task des Sammellaufs. Fortschritt läuft monoton 0..100,
// eine Logzeile pro verarbeitetem Researcher.
func (c *Collector) Run(ctx context.Context, job *Job) error {
	db := c.board.DB()

	var researchers []models.Researcher
	if err := db.Order("id").Find(&researchers).Error; err != nil {
		return fmt.Errorf("loading researchers: %w", err)
	}
	if len(researchers) == 0 {
		job.Logf("No researchers in the active datastore, nothing to collect.")
		job.SetProgress(100)
		return nil
	}

	var nextID int64
	if err := db.Model(&models.Publication{}).
		Select("COALESCE(MAX(id), 0)").Scan(&nextID).Error; err != nil {
		return fmt.Errorf("determining next publication id: %w", err)
	}

	totalNew, totalUpdated := 0, 0
	for i, researcher := range researchers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Ergebnisse aller Provider de-duplizieren, erster Treffer gewinnt.
		works := make(map[string]providers.Work)
		for _, provider := range c.providers {
			found, err := provider.Works(researcher.Name)
			if err != nil {
				job.Logf("Provider %s failed for %s: %v", provider.Name(), researcher.Name, err)
				continue
			}
			for _, w := range found {
				key := strings.ToLower(w.Key())
				if key == "" {
					continue
				}
				if _, exists := works[key]; !exists {
					works[key] = w
				}
			}
		}

		created, updated, err := c.applyWorks(db, researcher, works, &nextID)
		if err != nil {
			return err
		}
		totalNew += created
		totalUpdated += updated

		job.Logf("Processed %s: %d works (%d new, %d updated)",
			researcher.Name, len(works), created, updated)
		job.SetProgress((i + 1) * 100 / len(researchers))
	}

	job.Logf("Collection finished: %d new publications, %d updated.", totalNew, totalUpdated)
	c.log.Info("Collector run completed",
		zap.Int("researchers", len(researchers)),
		zap.Int("new_publications", totalNew),
		zap.Int("updated_publications", totalUpdated))
	return nil
}

// applyWorks gleicht die gesammelten Works mit den Publikationen des
// Researchers ab: vorhandene Titel werden aktualisiert, neue mit der nächsten
// freien ID angelegt.
func (c *Collector) applyWorks(db *gorm.DB, researcher models.Researcher, works map[string]providers.Work, nextID *int64) (int, int, error) {
	created, updated := 0, 0
	for _, w := range works {
		if w.Title == "" {
			continue
		}

		var pub models.Publication
		err := db.Where("researcher_id = ? AND title = ?", researcher.ID, w.Title).
			First(&pub).Error
		switch {
		case err == nil:
			if err := db.Model(&pub).
				Select("year", "publication_type", "publication_url", "journal_name", "num_authors").
				Updates(publicationFields(w)).Error; err != nil {
				return created, updated, err
			}
			updated++
		case errors.Is(err, gorm.ErrRecordNotFound):
			*nextID++
			rid := researcher.ID
			pub = publicationFields(w)
			pub.ID = *nextID
			pub.Title = w.Title
			pub.ResearcherID = &rid
			if err := db.Create(&pub).Error; err != nil {
				return created, updated, err
			}
			created++
		default:
			return created, updated, err
		}
	}
	return created, updated, nil
}

// publicationFields überträgt die optionalen Work-Felder in Publication-Spalten.
func publicationFields(w providers.Work) models.Publication {
	p := models.Publication{
		PublicationType: optString(w.Type),
		PublicationURL:  optString(w.URL),
		JournalName:     optString(w.JournalName),
	}
	if w.Year != 0 {
		y := int64(w.Year)
		p.Year = &y
	}
	if w.AuthorCount != 0 {
		n := int64(w.AuthorCount)
		p.NumAuthors = &n
	}
	return p
}
