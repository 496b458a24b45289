package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scholar-board/models"
)

func newBoard(t *testing.T, dataDir string) *Switchboard {
	t.Helper()
	board, err := NewSwitchboard(dataDir, "main", zap.NewNop())
	require.NoError(t, err)
	return board
}

func TestBootstrapCreatesTemplate(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	dataDir := t.TempDir()

	board := newBoard(t, dataDir)

	assert.Equal(t, "main", board.Active())
	assert.FileExists(t, filepath.Join(dataDir, "main.db"))

	// Das Template kommt mit leerem Schema, die Tabellen existieren bereits.
	var count int64
	require.NoError(t, board.DB().Model(&models.Journal{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	data, err := os.ReadFile(board.ListFilePath())
	require.NoError(t, err)
	assert.Equal(t, "main\n", string(data))
}

func TestBootstrapResumesPersistedActive(t *testing.T) {
	t.Setenv(ActiveEnvVar, "archive_2025")
	dataDir := t.TempDir()

	board := newBoard(t, dataDir)

	// Der persistierte Name existierte noch nicht und wurde aus dem Template kopiert.
	assert.Equal(t, "archive_2025", board.Active())
	assert.FileExists(t, filepath.Join(dataDir, "archive_2025.db"))
	assert.FileExists(t, filepath.Join(dataDir, "main.db"))
}

func TestSwitchCopiesTemplateAndIsolatesData(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	require.NoError(t, board.DB().Create(&models.Journal{ID: 1, Name: "Template Journal"}).Error)

	// Der neue Datastore startet als Kopie des Templates samt Daten.
	require.NoError(t, board.Switch("scratch"))
	assert.Equal(t, "scratch", board.Active())

	var count int64
	require.NoError(t, board.DB().Model(&models.Journal{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Schreiben im neuen Datastore lässt das Template unberührt.
	require.NoError(t, board.DB().Create(&models.Journal{ID: 2, Name: "Scratch Journal"}).Error)
	require.NoError(t, board.Switch("main"))
	require.NoError(t, board.DB().Model(&models.Journal{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	names, err := board.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "scratch"}, names)
}

func TestSwitchToActiveIsNoop(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	db := board.DB()
	require.NoError(t, board.Switch("main"))
	assert.Same(t, db, board.DB())
}

func TestSwitchRejectsInvalidName(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	assert.Error(t, board.Switch("../escape"))
	assert.Error(t, board.Switch(""))
	assert.Equal(t, "main", board.Active())
}

func TestSwitchPersistsActiveNameAcrossRestart(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	dataDir := t.TempDir()
	board := newBoard(t, dataDir)

	require.NoError(t, board.Switch("semester_two"))
	assert.Equal(t, "semester_two", os.Getenv(ActiveEnvVar))

	// Neustart simulieren: frische Umgebung, gleiches Datenverzeichnis.
	// Der aktive Name muss aus der Listendatei kommen, nicht aus der Env.
	t.Setenv(ActiveEnvVar, "")
	board2 := newBoard(t, dataDir)
	assert.Equal(t, "semester_two", board2.Active())
}

func TestEnvOverridesPersistedActive(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	dataDir := t.TempDir()
	board := newBoard(t, dataDir)
	require.NoError(t, board.Switch("persisted"))

	t.Setenv(ActiveEnvVar, "override")
	board2 := newBoard(t, dataDir)
	assert.Equal(t, "override", board2.Active())
}

func TestCreateIfAbsentWithoutTemplate(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	dataDir := t.TempDir()
	board := newBoard(t, dataDir)

	require.NoError(t, os.Remove(filepath.Join(dataDir, "main.db")))
	err := board.CreateIfAbsent("fresh")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRename(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	dataDir := t.TempDir()
	board := newBoard(t, dataDir)

	require.NoError(t, board.Switch("draft"))
	require.NoError(t, board.DB().Create(&models.Journal{ID: 7, Name: "Kept"}).Error)

	require.NoError(t, board.Rename("draft", "final"))

	// Die aktive Verbindung folgt dem neuen Namen, die Daten bleiben erhalten.
	assert.Equal(t, "final", board.Active())
	assert.NoFileExists(t, filepath.Join(dataDir, "draft.db"))
	assert.FileExists(t, filepath.Join(dataDir, "final.db"))

	var journal models.Journal
	require.NoError(t, board.DB().First(&journal, 7).Error)
	assert.Equal(t, "Kept", journal.Name)
}

func TestRenameMissingSource(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	err := board.Rename("nope", "other")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRenameExistingTarget(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	require.NoError(t, board.CreateIfAbsent("a"))
	require.NoError(t, board.CreateIfAbsent("b"))

	err := board.Rename("a", "b")
	require.ErrorIs(t, err, ErrAlreadyExists)
	assert.FileExists(t, board.Path("a"))
}

func TestDelete(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	require.NoError(t, board.CreateIfAbsent("stale"))
	require.NoError(t, board.Delete("stale"))
	assert.NoFileExists(t, board.Path("stale"))

	err := board.Delete("stale")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteActiveKeepsConnectionUsable(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	require.NoError(t, board.Switch("doomed"))
	require.NoError(t, board.Delete("doomed"))

	// Die offene Verbindung überlebt das Löschen der Datei bis zum nächsten Switch.
	var count int64
	require.NoError(t, board.DB().Model(&models.Journal{}).Count(&count).Error)
}

func TestListFileTracksDatastores(t *testing.T) {
	t.Setenv(ActiveEnvVar, "")
	board := newBoard(t, t.TempDir())

	// Der aktive Name steht in der ersten Zeile, auch wenn er alphabetisch
	// nicht vorne läge; danach folgen die übrigen Namen sortiert.
	require.NoError(t, board.Switch("b"))
	data, err := os.ReadFile(board.ListFilePath())
	require.NoError(t, err)
	assert.Equal(t, "b\nmain\n", string(data))

	require.NoError(t, board.Switch("a"))
	data, err = os.ReadFile(board.ListFilePath())
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nmain\n", string(data))
}
