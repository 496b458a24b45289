package services

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"scholar-board/storage"
)

// exportBatchSize: nach so vielen Zeilen wird der CSV-Puffer an den Consumer geflusht.
const exportBatchSize = 500

// MasterHeader ist die Spaltenreihenfolge des Master-Exports; ReplaceMaster
// erwartet exakt diese Spalten wieder (Roundtrip-stabil).
var MasterHeader = []string{
	"publication_id", "title", "year", "publication_type", "publication_url",
	"num_authors", "journal_name",
	"researcher_id", "researcher_name", "university", "profile_url",
	"job_title", "level", "field",
	"journal_id", "journal_name_clean", "abdc_rank", "JIF", "JIF_5_year",
	"citation_percentage", "ISSN", "eISSN", "publisher", "abdc_FoR", "year_of_inception",
}

var (
	abdcHeader      = []string{"Journal Title", "Rating", "Publisher", "ISSN", "ISSN Online", "FoR", "Year Inception"}
	clarivateHeader = []string{"ISSN", "JIF", "5 Year JIF", "% of Citable OA"}
	staffHeader     = []string{"Name", "Field"}
)

// ExportService streamt Tabellenexporte aus dem aktiven Datastore.
type ExportService struct {
	board *storage.Switchboard
	log   *zap.Logger
}

// NewExportService erstellt eine neue Instanz des ExportService.
func NewExportService(board *storage.Switchboard, log *zap.Logger) *ExportService {
	return &ExportService{board: board, log: log}
}

// ExportFilename baut den Download-Dateinamen nach dem Muster {dataset}_{YYYY-MM-DD}.csv.
func ExportFilename(dataset string, now time.Time) string {
	return fmt.Sprintf("%s_%s.csv", dataset, now.Format("2006-01-02"))
}

// WriteMaster streamt den Tri-Entity-Export: eine Zeile pro Publikation,
// Researcher- und Journal-Spalten per Outer-Join (Publikationen ohne
// auflösbare Referenz bleiben enthalten).
func (e *ExportService) WriteMaster(w io.Writer) error {
	rows, err := e.board.DB().
		Table("publications").
		Select(strings.Join([]string{
			"publications.id", "publications.title", "publications.year",
			"publications.publication_type", "publications.publication_url",
			"publications.num_authors", "publications.journal_name",
			"researchers.id", "researchers.name", "researchers.university",
			"researchers.profile_url", "researchers.job_title", "researchers.level",
			"researchers.field",
			"journals.id", "journals.name", "journals.abdc_rank", "journals.jif",
			"journals.jif_5_year", "journals.citation_percentage", "journals.issn",
			"journals.eissn", "journals.publisher", "journals.abdc_for",
			"journals.year_of_inception",
		}, ", ")).
		Joins("LEFT JOIN researchers ON researchers.id = publications.researcher_id").
		Joins("LEFT JOIN journals ON journals.id = publications.journal_id").
		Order("publications.id").
		Rows()
	if err != nil {
		return fmt.Errorf("querying master export: %w", err)
	}
	return streamRows(w, MasterHeader, rows)
}

// WriteJournalRankings streamt das ABDC-Ranking-Template.
func (e *ExportService) WriteJournalRankings(w io.Writer) error {
	rows, err := e.board.DB().
		Table("journals").
		Select("name, abdc_rank, publisher, issn, eissn, abdc_for, year_of_inception").
		Order("id").
		Rows()
	if err != nil {
		return fmt.Errorf("querying journal rankings export: %w", err)
	}
	return streamRows(w, abdcHeader, rows)
}

// WriteImpactFactors streamt das Clarivate-JIF-Template.
func (e *ExportService) WriteImpactFactors(w io.Writer) error {
	rows, err := e.board.DB().
		Table("journals").
		Select("issn, jif, jif_5_year, citation_percentage").
		Order("id").
		Rows()
	if err != nil {
		return fmt.Errorf("querying impact factors export: %w", err)
	}
	return streamRows(w, clarivateHeader, rows)
}

// WriteStaffFields streamt das Staff-Field-Template für eine Institution.
func (e *ExportService) WriteStaffFields(w io.Writer, university string) error {
	rows, err := e.board.DB().
		Table("researchers").
		Select("name, field").
		Where("university = ?", university).
		Order("id").
		Rows()
	if err != nil {
		return fmt.Errorf("querying staff fields export: %w", err)
	}
	return streamRows(w, staffHeader, rows)
}

// streamRows kodiert Header und Zeilen als CSV und flusht in Batches, damit
// beliebig große Exporte mit konstantem Speicher auskommen. NULL-Werte werden
// zu leeren Feldern, nie zum Literal "null".
//
// rows wird per defer genau einmal geschlossen — auch wenn der Consumer die
// Verbindung vorzeitig abbricht (Schreibfehler beendet die Schleife).
func streamRows(w io.Writer, header []string, rows *sql.Rows) error {
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]sql.NullString, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	record := make([]string, len(cols))
	n := 0
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return err
		}
		for i, v := range values {
			if v.Valid {
				record[i] = v.String
			} else {
				record[i] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
		n++
		if n%exportBatchSize == 0 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}
