package services

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"scholar-board/models"
	"scholar-board/storage"
)

const insertBatchSize = 200

var (
	masterColumns = MasterHeader

	abdcColumns = []string{"Journal Title", "Rating", "Publisher", "ISSN", "ISSN Online", "FoR", "Year Inception"}

	clarivateColumns = []string{"ISSN", "JIF", "5 Year JIF", "% of Citable OA"}

	staffFieldColumns = []string{"Name", "Field"}

	researcherColumns = []string{
		"researcher_id", "researcher_name", "university", "profile_url",
		"job_title", "level", "field",
	}

	publicationColumns = []string{
		"publication_id", "title", "year", "publication_type", "publication_url",
		"num_authors", "journal_name", "researcher_id", "journal_id",
	}
)

// ReconcileService ersetzt bzw. aktualisiert ganze Entity-Collections aus
// hochgeladenen CSV-Dateien.
//
// Narrow Replaces laufen in einer einzigen Transaktion (Delete+Insert atomar).
// Der Master Replace behält die dokumentierte Commit-Granularität pro
// Collection: schlägt die Publikations-Passage fehl, sind Journals und
// Researcher bereits dauerhaft ersetzt.
type ReconcileService struct {
	board *storage.Switchboard
	log   *zap.Logger
}

// NewReconcileService erstellt eine neue Instanz des ReconcileService.
func NewReconcileService(board *storage.Switchboard, log *zap.Logger) *ReconcileService {
	return &ReconcileService{board: board, log: log}
}

// MasterCounts sind die pro Collection eingefügten Zeilen eines Master Replace.
type MasterCounts struct {
	Journals     int
	Researchers  int
	Publications int
}

// ReplaceMaster ersetzt alle drei Collections aus einer Master-Datei
// (eine Zeile pro Publikation, Researcher-/Journal-Spalten wiederholen sich).
//
// Ablauf: Spaltenvalidierung vor jeder Mutation; Clear aller drei Collections
// (Publications zuerst); dann Journals (first-wins je journal_id), Researcher
// (first-wins je researcher_id), zuletzt eine Publikation pro Zeile mit
// nicht-leerer publication_id. Referenzen werden wie angeliefert übernommen,
// ohne Existenzprüfung gegen die gerade eingefügten Journals/Researcher.
func (s *ReconcileService) ReplaceMaster(r io.Reader) (MasterCounts, error) {
	var counts MasterCounts

	t, err := readTable(r)
	if err != nil {
		return counts, err
	}
	if err := t.require(masterColumns...); err != nil {
		return counts, err
	}

	db := s.board.DB()

	// Clears passieren vor allen Inserts, Publications vor den referenzierten
	// Collections.
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range []string{
			"DELETE FROM publications",
			"DELETE FROM researchers",
			"DELETE FROM journals",
		} {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return counts, fmt.Errorf("clearing collections: %w", err)
	}

	journals, err := s.collectJournals(t)
	if err != nil {
		return counts, err
	}
	if err := insertAll(db, journals); err != nil {
		return counts, fmt.Errorf("inserting journals: %w", err)
	}
	counts.Journals = len(journals)

	researchers, err := s.collectResearchers(t)
	if err != nil {
		return counts, err
	}
	if err := insertAll(db, researchers); err != nil {
		return counts, fmt.Errorf("inserting researchers: %w", err)
	}
	counts.Researchers = len(researchers)

	publications, err := s.collectPublications(t)
	if err != nil {
		return counts, err
	}
	if err := insertAll(db, publications); err != nil {
		return counts, fmt.Errorf("inserting publications: %w", err)
	}
	counts.Publications = len(publications)

	s.log.Info("Master replace completed",
		zap.Int("journals", counts.Journals),
		zap.Int("researchers", counts.Researchers),
		zap.Int("publications", counts.Publications))
	return counts, nil
}

// collectJournals baut pro erstmalig gesehener journal_id ein Journal;
// spätere Wiederholungen derselben ID werden ignoriert, auch bei
// abweichenden Feldwerten (first-wins, kein Merge).
func (s *ReconcileService) collectJournals(t *table) ([]models.Journal, error) {
	var out []models.Journal
	seen := map[int64]bool{}
	for i, row := range t.rows {
		line := i + 2
		raw := t.get(row, "journal_id")
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &ConversionError{Column: "journal_id", Value: raw, Line: line}
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		jif, err := t.optFloat(row, "JIF", line)
		if err != nil {
			return nil, err
		}
		jif5, err := t.optFloat(row, "JIF_5_year", line)
		if err != nil {
			return nil, err
		}
		pct, err := t.optPercent(row, "citation_percentage", line)
		if err != nil {
			return nil, err
		}
		forCode, err := t.optInt(row, "abdc_FoR", line)
		if err != nil {
			return nil, err
		}
		inception, err := t.optInt(row, "year_of_inception", line)
		if err != nil {
			return nil, err
		}

		out = append(out, models.Journal{
			ID:                 id,
			Name:               t.get(row, "journal_name_clean"),
			ABDCRank:           optString(t.get(row, "abdc_rank")),
			JIF:                jif,
			JIF5Year:           jif5,
			CitationPercentage: pct,
			ISSN:               optString(t.get(row, "ISSN")),
			EISSN:              optString(t.get(row, "eISSN")),
			Publisher:          optString(t.get(row, "publisher")),
			FoR:                forCode,
			YearOfInception:    inception,
		})
	}
	return out, nil
}

func (s *ReconcileService) collectResearchers(t *table) ([]models.Researcher, error) {
	var out []models.Researcher
	seen := map[int64]bool{}
	for i, row := range t.rows {
		line := i + 2
		raw := t.get(row, "researcher_id")
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &ConversionError{Column: "researcher_id", Value: raw, Line: line}
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		out = append(out, models.Researcher{
			ID:         id,
			Name:       t.get(row, "researcher_name"),
			University: t.get(row, "university"),
			ProfileURL: optString(t.get(row, "profile_url")),
			JobTitle:   optString(t.get(row, "job_title")),
			Level:      optString(t.get(row, "level")),
			Field:      optString(t.get(row, "field")),
		})
	}
	return out, nil
}

// collectPublications baut eine Publikation pro Zeile mit nicht-leerer
// publication_id. Leere researcher_id/journal_id ergeben nil-Referenzen,
// die Zeile bleibt erhalten.
func (s *ReconcileService) collectPublications(t *table) ([]models.Publication, error) {
	var out []models.Publication
	seen := map[int64]bool{}
	for i, row := range t.rows {
		line := i + 2
		raw := t.get(row, "publication_id")
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &ConversionError{Column: "publication_id", Value: raw, Line: line}
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		year, err := t.optInt(row, "year", line)
		if err != nil {
			return nil, err
		}
		numAuthors, err := t.optInt(row, "num_authors", line)
		if err != nil {
			return nil, err
		}
		researcherID, err := t.optInt(row, "researcher_id", line)
		if err != nil {
			return nil, err
		}
		journalID, err := t.optInt(row, "journal_id", line)
		if err != nil {
			return nil, err
		}

		out = append(out, models.Publication{
			ID:              id,
			Title:           t.get(row, "title"),
			Year:            year,
			PublicationType: optString(t.get(row, "publication_type")),
			PublicationURL:  optString(t.get(row, "publication_url")),
			JournalName:     optString(t.get(row, "journal_name")),
			NumAuthors:      numAuthors,
			ResearcherID:    researcherID,
			JournalID:       journalID,
		})
	}
	return out, nil
}

// ReplaceJournalRankings ersetzt die Journal-Collection aus dem
// ABDC-Ranking-Template. Delete und Inserts laufen in einer Transaktion.
func (s *ReconcileService) ReplaceJournalRankings(r io.Reader) (int, error) {
	t, err := readTable(r)
	if err != nil {
		return 0, err
	}
	if err := t.require(abdcColumns...); err != nil {
		return 0, err
	}

	journals := make([]models.Journal, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		forCode, err := t.optInt(row, "FoR", line)
		if err != nil {
			return 0, err
		}
		inception, err := t.optInt(row, "Year Inception", line)
		if err != nil {
			return 0, err
		}
		journals = append(journals, models.Journal{
			Name:            t.get(row, "Journal Title"),
			ABDCRank:        optString(t.get(row, "Rating")),
			Publisher:       optString(t.get(row, "Publisher")),
			ISSN:            optString(t.get(row, "ISSN")),
			EISSN:           optString(t.get(row, "ISSN Online")),
			FoR:             forCode,
			YearOfInception: inception,
		})
	}

	err = s.board.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM journals").Error; err != nil {
			return err
		}
		return insertAllTx(tx, journals)
	})
	if err != nil {
		return 0, fmt.Errorf("replacing journal rankings: %w", err)
	}

	s.log.Info("Journal rankings replaced", zap.Int("journals", len(journals)))
	return len(journals), nil
}

// ReplaceResearchers ersetzt die Researcher-Collection aus einer
// researcher-spaltigen Datei (first-wins je researcher_id).
func (s *ReconcileService) ReplaceResearchers(r io.Reader) (int, error) {
	t, err := readTable(r)
	if err != nil {
		return 0, err
	}
	if err := t.require(researcherColumns...); err != nil {
		return 0, err
	}

	researchers, err := s.collectResearchers(t)
	if err != nil {
		return 0, err
	}

	err = s.board.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM researchers").Error; err != nil {
			return err
		}
		return insertAllTx(tx, researchers)
	})
	if err != nil {
		return 0, fmt.Errorf("replacing researchers: %w", err)
	}

	s.log.Info("Researchers replaced", zap.Int("researchers", len(researchers)))
	return len(researchers), nil
}

// ReplacePublications ersetzt die Publication-Collection aus einer
// publikations-spaltigen Datei (first-wins je publication_id).
func (s *ReconcileService) ReplacePublications(r io.Reader) (int, error) {
	t, err := readTable(r)
	if err != nil {
		return 0, err
	}
	if err := t.require(publicationColumns...); err != nil {
		return 0, err
	}

	publications, err := s.collectPublications(t)
	if err != nil {
		return 0, err
	}

	err = s.board.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM publications").Error; err != nil {
			return err
		}
		return insertAllTx(tx, publications)
	})
	if err != nil {
		return 0, fmt.Errorf("replacing publications: %w", err)
	}

	s.log.Info("Publications replaced", zap.Int("publications", len(publications)))
	return len(publications), nil
}

// MergeImpactFactors aktualisiert JIF, 5-Jahres-JIF und Zitationsprozentsatz
// bestehender Journals über den ISSN-Schlüssel. Es werden keine Journals
// angelegt oder gelöscht; eine ISSN ohne Treffer ist ein No-op. Unparsebare
// Zahlen werden nil, nicht 0; Prozentzeichen werden vor dem Parsen entfernt.
func (s *ReconcileService) MergeImpactFactors(r io.Reader) (int, error) {
	t, err := readTable(r)
	if err != nil {
		return 0, err
	}
	if err := t.require(clarivateColumns...); err != nil {
		return 0, err
	}

	matched := 0
	err = s.board.DB().Transaction(func(tx *gorm.DB) error {
		for _, row := range t.rows {
			issn := t.get(row, "ISSN")
			if issn == "" {
				continue
			}

			update := models.Journal{
				JIF:                lenientFloat(t.get(row, "JIF")),
				JIF5Year:           lenientFloat(t.get(row, "5 Year JIF")),
				CitationPercentage: lenientFloat(t.get(row, "% of Citable OA")),
			}

			var journal models.Journal
			err := tx.Where("issn = ?", issn).First(&journal).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			// Select erzwingt die drei Spalten, damit nil auch NULL schreibt.
			if err := tx.Model(&journal).
				Select("jif", "jif_5_year", "citation_percentage").
				Updates(update).Error; err != nil {
				return err
			}
			matched++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("merging impact factors: %w", err)
	}

	s.log.Info("Impact factors merged", zap.Int("matched", matched))
	return matched, nil
}

// MergeResearcherFields aktualisiert das Field einzelner Researcher über den
// exakten Namen innerhalb einer Institution. Nicht gefundene Namen werden
// stillschweigend übersprungen; bei doppelten Namen in der Datei gewinnt die
// spätere Zeile.
func (s *ReconcileService) MergeResearcherFields(r io.Reader, university string) (int, error) {
	t, err := readTable(r)
	if err != nil {
		return 0, err
	}
	if err := t.require(staffFieldColumns...); err != nil {
		return 0, err
	}

	updated := 0
	err = s.board.DB().Transaction(func(tx *gorm.DB) error {
		for _, row := range t.rows {
			name := t.get(row, "Name")
			if name == "" {
				continue
			}

			var researcher models.Researcher
			err := tx.Where("name = ? AND university = ?", name, university).
				Order("id").First(&researcher).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			if err := tx.Model(&researcher).
				Select("field").
				Updates(models.Researcher{Field: optString(t.get(row, "Field"))}).Error; err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("merging researcher fields: %w", err)
	}

	s.log.Info("Researcher fields merged", zap.Int("updated", updated))
	return updated, nil
}

// insertAll committet die Collection in einer eigenen Transaktion
// (Commit-Granularität des Master Replace).
func insertAll[T any](db *gorm.DB, items []T) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return insertAllTx(tx, items)
	})
}

func insertAllTx[T any](tx *gorm.DB, items []T) error {
	if len(items) == 0 {
		return nil
	}
	return tx.CreateInBatches(items, insertBatchSize).Error
}
