package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scholar-board/models"
	"scholar-board/providers"
)

type stubProvider struct {
	name  string
	works map[string][]providers.Work
	err   error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Works(researcherName string) ([]providers.Work, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.works[researcherName], nil
}

func TestCollectorCreatesAndUpdatesPublications(t *testing.T) {
	board := newTestBoard(t)

	require.NoError(t, board.DB().Create(&models.Researcher{ID: 1, Name: "A. Chen", University: "UWA"}).Error)
	existingYear := int64(2019)
	require.NoError(t, board.DB().Create(&models.Publication{
		ID: 5, Title: "Known paper", Year: &existingYear, ResearcherID: ptrInt64(1),
	}).Error)

	provider := &stubProvider{
		name: "stub",
		works: map[string][]providers.Work{
			"A. Chen": {
				{Title: "Known paper", Year: 2020, Type: "journal-article", JournalName: "Journal X", AuthorCount: 2},
				{Title: "Brand new paper", Year: 2024, DOI: "10.1/abc", URL: "https://doi.org/10.1/abc"},
				{Title: ""},
			},
		},
	}

	collector := NewCollector(board, []providers.Provider{provider}, zap.NewNop())
	runner := NewRunner(zap.NewNop())
	job := &Job{runner: runner}

	require.NoError(t, collector.Run(context.Background(), job))

	var known models.Publication
	require.NoError(t, board.DB().First(&known, 5).Error)
	require.NotNil(t, known.Year)
	assert.Equal(t, int64(2020), *known.Year)
	require.NotNil(t, known.JournalName)
	assert.Equal(t, "Journal X", *known.JournalName)

	// Die neue Publikation bekommt die nächste freie ID nach dem Maximum.
	var created models.Publication
	require.NoError(t, board.DB().Where("title = ?", "Brand new paper").First(&created).Error)
	assert.Equal(t, int64(6), created.ID)
	require.NotNil(t, created.ResearcherID)
	assert.Equal(t, int64(1), *created.ResearcherID)

	var count int64
	require.NoError(t, board.DB().Model(&models.Publication{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	assert.Equal(t, 100, runner.Status().Progress)
}

func TestCollectorDeduplicatesAcrossProviders(t *testing.T) {
	board := newTestBoard(t)
	require.NoError(t, board.DB().Create(&models.Researcher{ID: 1, Name: "A. Chen", University: "UWA"}).Error)

	// Beide Provider liefern dasselbe Werk über den DOI-Schlüssel,
	// der erste Provider gewinnt.
	first := &stubProvider{name: "first", works: map[string][]providers.Work{
		"A. Chen": {{Title: "Same work", DOI: "10.1/X", Year: 2021}},
	}}
	second := &stubProvider{name: "second", works: map[string][]providers.Work{
		"A. Chen": {{Title: "Same work, other metadata", DOI: "10.1/x", Year: 1999}},
	}}

	collector := NewCollector(board, []providers.Provider{first, second}, zap.NewNop())
	runner := NewRunner(zap.NewNop())

	require.NoError(t, collector.Run(context.Background(), &Job{runner: runner}))

	var count int64
	require.NoError(t, board.DB().Model(&models.Publication{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var pub models.Publication
	require.NoError(t, board.DB().First(&pub).Error)
	assert.Equal(t, "Same work", pub.Title)
	require.NotNil(t, pub.Year)
	assert.Equal(t, int64(2021), *pub.Year)
}

func TestCollectorSurvivesProviderFailure(t *testing.T) {
	board := newTestBoard(t)
	require.NoError(t, board.DB().Create(&models.Researcher{ID: 1, Name: "A. Chen", University: "UWA"}).Error)

	broken := &stubProvider{name: "broken", err: errors.New("rate limited")}
	working := &stubProvider{name: "working", works: map[string][]providers.Work{
		"A. Chen": {{Title: "Still collected", Year: 2023}},
	}}

	collector := NewCollector(board, []providers.Provider{broken, working}, zap.NewNop())
	runner := NewRunner(zap.NewNop())

	require.NoError(t, collector.Run(context.Background(), &Job{runner: runner}))

	var count int64
	require.NoError(t, board.DB().Model(&models.Publication{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Der Provider-Fehler landet in den Joblogs, bricht den Lauf aber nicht ab.
	logs := runner.Status().Logs
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0], "rate limited")
}

func TestCollectorEmptyDatastore(t *testing.T) {
	board := newTestBoard(t)
	collector := NewCollector(board, []providers.Provider{&stubProvider{name: "stub"}}, zap.NewNop())
	runner := NewRunner(zap.NewNop())

	require.NoError(t, collector.Run(context.Background(), &Job{runner: runner}))
	assert.Equal(t, 100, runner.Status().Progress)
}

func TestCollectorHonoursCancellation(t *testing.T) {
	board := newTestBoard(t)
	require.NoError(t, board.DB().Create(&models.Researcher{ID: 1, Name: "A. Chen", University: "UWA"}).Error)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	collector := NewCollector(board, []providers.Provider{&stubProvider{name: "stub"}}, zap.NewNop())
	runner := NewRunner(zap.NewNop())

	err := collector.Run(ctx, &Job{runner: runner})
	require.ErrorIs(t, err, context.Canceled)
}

func ptrInt64(v int64) *int64 { return &v }
