package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scholar-board/models"
)

const (
	datastoreExt = ".db"
	listFileName = "db_list.txt"

	// ActiveEnvVar übersteuert beim Start den persistierten aktiven Namen;
	// dauerhaft gemerkt wird er in der ersten Zeile der Listendatei.
	ActiveEnvVar = "DATASTORE_NAME"
)

var (
	// ErrNotFound: der angesprochene Datastore (oder das Template) existiert nicht.
	ErrNotFound = errors.New("datastore not found")
	// ErrAlreadyExists: Ziel eines Rename existiert bereits.
	ErrAlreadyExists = errors.New("datastore already exists")
)

// Switchboard verwaltet die SQLite-Datastore-Dateien unter einem Wurzelverzeichnis
// und genau eine aktive GORM-Verbindung, über die der gesamte Request-Pfad liest.
//
// Die aktive Verbindung ist eine Indirektionszelle hinter einem RWMutex: Lesezugriffe
// gehen über DB(), nur Switch/Rename tauschen den Handle aus.
type Switchboard struct {
	dataDir  string
	template string
	log      *zap.Logger

	mu     sync.RWMutex
	active string
	db     *gorm.DB
}

// NewSwitchboard öffnet den zuletzt aktiven Datastore (ActiveEnvVar,
// andernfalls die persistierte Listendatei, Fallback Template).
// Fehlt die Template-Datei, wird sie mit leerem Schema angelegt.
func NewSwitchboard(dataDir, template string, log *zap.Logger) (*Switchboard, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s := &Switchboard{dataDir: dataDir, template: template, log: log}

	if _, err := os.Stat(s.path(template)); os.IsNotExist(err) {
		db, err := openDatastore(s.path(template))
		if err != nil {
			return nil, fmt.Errorf("bootstrapping template datastore: %w", err)
		}
		closeDatastore(db)
		log.Info("Template datastore created", zap.String("datastore", template))
	}

	active := os.Getenv(ActiveEnvVar)
	if active == "" {
		active = s.readPersistedActive()
	}
	if active == "" {
		active = template
	}
	if err := s.CreateIfAbsent(active); err != nil {
		log.Warn("Persisted active datastore unusable, falling back to template",
			zap.String("datastore", active), zap.Error(err))
		active = template
	}

	db, err := openDatastore(s.path(active))
	if err != nil {
		return nil, fmt.Errorf("opening datastore %q: %w", active, err)
	}
	s.active = active
	s.db = db
	s.persistLocked()
	return s, nil
}

// DB liefert die aktuell aktive GORM-Verbindung.
func (s *Switchboard) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Active liefert den logischen Namen des aktiven Datastores.
func (s *Switchboard) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// List zählt alle Datastore-Dateien unter dem Wurzelverzeichnis auf (Name ohne Endung).
func (s *Switchboard) List() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("reading data dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), datastoreExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), datastoreExt))
	}
	sort.Strings(names)
	return names, nil
}

// CreateIfAbsent legt den Datastore als Kopie des Templates an, falls er fehlt.
// Fehlt das Template selbst, kommt ErrNotFound zurück.
func (s *Switchboard) CreateIfAbsent(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, err := os.Stat(s.path(name)); err == nil {
		return nil
	}
	if _, err := os.Stat(s.path(s.template)); os.IsNotExist(err) {
		return fmt.Errorf("template datastore %q: %w", s.template, ErrNotFound)
	}
	return copyFile(s.path(s.template), s.path(name))
}

// Switch stellt sicher, dass der Datastore existiert, und schwenkt die aktive
// Verbindung darauf um. Schlägt das Öffnen fehl, bleibt die bisherige Verbindung
// nutzbar und der Fehler wird gemeldet statt den Prozess zu gefährden.
func (s *Switchboard) Switch(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if name == s.active {
		return nil
	}
	if err := s.CreateIfAbsent(name); err != nil {
		return err
	}

	db, err := openDatastore(s.path(name))
	if err != nil {
		s.log.Warn("Could not reload datastore engine, keeping previous connection",
			zap.String("datastore", name), zap.Error(err))
		return fmt.Errorf("switching to datastore %q: %w", name, err)
	}

	old := s.db
	s.db = db
	s.active = name
	s.persistLocked()
	closeDatastore(old)

	s.log.Info("Switched active datastore", zap.String("datastore", name))
	return nil
}

// Rename benennt einen Datastore um: Kopie anlegen, bei Bedarf die aktive
// Verbindung zuerst auf die Kopie umschwenken, dann erst das Original löschen.
// So zeigt die aktive Verbindung nie auf eine gelöschte Datei.
func (s *Switchboard) Rename(oldName, newName string) error {
	if err := validateName(oldName); err != nil {
		return err
	}
	if err := validateName(newName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(oldName)); os.IsNotExist(err) {
		return fmt.Errorf("datastore %q: %w", oldName, ErrNotFound)
	}
	if _, err := os.Stat(s.path(newName)); err == nil {
		return fmt.Errorf("datastore %q: %w", newName, ErrAlreadyExists)
	}
	if err := copyFile(s.path(oldName), s.path(newName)); err != nil {
		return err
	}

	if s.active == oldName {
		db, err := openDatastore(s.path(newName))
		if err != nil {
			// Kopie wieder entfernen, Original bleibt aktiv.
			os.Remove(s.path(newName))
			return fmt.Errorf("repointing active datastore to %q: %w", newName, err)
		}
		old := s.db
		s.db = db
		s.active = newName
		closeDatastore(old)
	}

	if err := os.Remove(s.path(oldName)); err != nil {
		s.log.Warn("Could not remove old datastore file after rename",
			zap.String("datastore", oldName), zap.Error(err))
	}
	s.persistLocked()

	s.log.Info("Renamed datastore", zap.String("from", oldName), zap.String("to", newName))
	return nil
}

// Delete entfernt die Datastore-Datei. Es gibt bewusst keinen Schutz gegen das
// Löschen des aktiven Datastores; die aktive Verbindung überlebt dank offenem
// Dateihandle bis zum nächsten Switch.
func (s *Switchboard) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(name)); os.IsNotExist(err) {
		return fmt.Errorf("datastore %q: %w", name, ErrNotFound)
	}
	if err := os.Remove(s.path(name)); err != nil {
		return fmt.Errorf("deleting datastore %q: %w", name, err)
	}
	s.persistLocked()

	s.log.Info("Deleted datastore", zap.String("datastore", name))
	return nil
}

// ListFilePath liefert den Pfad der persistierten Namensliste.
func (s *Switchboard) ListFilePath() string {
	return filepath.Join(s.dataDir, listFileName)
}

// Path liefert den Dateipfad eines logischen Datastore-Namens.
func (s *Switchboard) Path(name string) string {
	return s.path(name)
}

func (s *Switchboard) path(name string) string {
	return filepath.Join(s.dataDir, name+datastoreExt)
}

// persistLocked schreibt die Listendatei: erste Zeile ist der aktive Name,
// danach die übrigen Namen dedupliziert und sortiert. Die erste Zeile ist der
// Zustand, den ein Neustart wieder aufnimmt; die Env-Variable wird zusätzlich
// gesetzt, hält aber nur innerhalb des Prozesses. Der Aufrufer hält mu.
func (s *Switchboard) persistLocked() {
	os.Setenv(ActiveEnvVar, s.active)

	names, err := s.List()
	if err != nil {
		s.log.Warn("Could not enumerate datastores for list file", zap.Error(err))
		return
	}
	seen := map[string]bool{s.active: true}
	lines := []string{s.active}
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			lines = append(lines, n)
		}
	}
	data := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(s.ListFilePath(), []byte(data), 0o644); err != nil {
		s.log.Warn("Could not persist datastore list", zap.Error(err))
	}
}

// readPersistedActive liest den zuletzt persistierten aktiven Namen aus der
// ersten Zeile der Listendatei. Fehlt die Datei oder ist der Name unbrauchbar,
// kommt "" zurück und der Aufrufer fällt auf das Template zurück.
func (s *Switchboard) readPersistedActive() string {
	data, err := os.ReadFile(s.ListFilePath())
	if err != nil {
		return ""
	}
	name, _, _ := strings.Cut(string(data), "\n")
	name = strings.TrimSpace(name)
	if validateName(name) != nil {
		return ""
	}
	return name
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid datastore name %q", name)
	}
	return nil
}

func openDatastore(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.Journal{}, &models.Researcher{}, &models.Publication{}); err != nil {
		closeDatastore(db)
		return nil, err
	}
	return db, nil
}

func closeDatastore(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
