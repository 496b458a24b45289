package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scholar-board/config"
	"scholar-board/providers"
	"scholar-board/providers/crossref"
	"scholar-board/providers/openalex"
	"scholar-board/services"
	"scholar-board/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	reconciledRowsCounter *prometheus.CounterVec
	collectorRunsCounter  prometheus.Counter
)

func init() {
	reconciledRowsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciled_rows_total",
			Help: "Total number of rows written by CSV reconciliation, per entity.",
		},
		[]string{"entity"},
	)
	collectorRunsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_runs_total",
			Help: "Total number of collector runs started.",
		},
	)
	prometheus.MustRegister(reconciledRowsCounter, collectorRunsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Setup Datastore Switchboard
	board, err := storage.NewSwitchboard(cfg.DataDir, cfg.TemplateDatastore, logging)
	if err != nil {
		logging.Fatal("Failed to initialize datastore switchboard", zap.Error(err))
	}
	logging.Info("Datastore switchboard ready", zap.String("active", board.Active()))

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logging.Fatal("Failed to create upload dir", zap.Error(err))
	}

	// Setup Providers
	enabledProviderNames := strings.Split(cfg.EnabledProviders, ",")
	var enabledProviders []providers.Provider
	for _, name := range enabledProviderNames {
		switch strings.TrimSpace(name) {
		case "openalex":
			enabledProviders = append(enabledProviders, openalex.NewFetcher(cfg, logging))
		case "crossref":
			enabledProviders = append(enabledProviders, crossref.NewFetcher(cfg, logging))
		default:
			logging.Warn("Unknown provider in config", zap.String("provider_name", name))
		}
	}
	if len(enabledProviders) == 0 {
		logging.Fatal("No valid providers enabled. Check ENABLED_PROVIDERS in .env")
	}
	logging.Info("Active providers loaded", zap.Strings("providers", enabledProviderNames))

	// Setup Services
	exporter := services.NewExportService(board, logging)
	reconciler := services.NewReconcileService(board, logging)
	runner := services.NewRunner(logging)
	collector := services.NewCollector(board, enabledProviders, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupDatastoreRoutes(router, board, logging)
	setupDownloadRoutes(router, exporter, cfg, logging)
	setupUploadRoutes(router, reconciler, cfg, logging)
	setupCollectorRoutes(router, runner, collector, logging)

	// Setup Cron
	if cfg.CronSchedule != "" {
		cronScheduler := cron.New()
		cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled collection job...")
			if err := runner.Start("Collection", collector.Run); err != nil {
				logging.Warn("Scheduled collection skipped", zap.Error(err))
				return
			}
			collectorRunsCounter.Inc()
		})
		cronScheduler.Start()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// setupDatastoreRoutes konfiguriert die Switchboard-Endpoints.
func setupDatastoreRoutes(router *gin.Engine, board *storage.Switchboard, log *zap.Logger) {
	rg := router.Group("/admin/datastores")

	rg.GET("/", func(c *gin.Context) {
		names, err := board.List()
		if err != nil {
			log.Error("Listing datastores failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list datastores"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"datastores": names, "active": board.Active()})
	})

	rg.POST("/switch", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "datastore name required"})
			return
		}
		if err := board.Switch(req.Name); err != nil {
			// Die bisherige Verbindung bleibt nutzbar; nur melden.
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": fmt.Sprintf("could not switch to datastore %q: %v", req.Name, err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Switched to datastore %q.", req.Name), "active": board.Active()})
	})

	rg.POST("/rename", func(c *gin.Context) {
		var req struct {
			OldName string `json:"old_name" binding:"required"`
			NewName string `json:"new_name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "old_name and new_name required"})
			return
		}
		if err := board.Rename(req.OldName, req.NewName); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			} else if errors.Is(err, storage.ErrAlreadyExists) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": fmt.Sprintf("could not rename datastore: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Datastore %q renamed to %q.", req.OldName, req.NewName)})
	})

	// Löschen ist absichtlich ungeschützt: auch der aktive Datastore lässt sich
	// entfernen (die offene Verbindung überlebt bis zum nächsten Switch).
	rg.POST("/delete", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "datastore name required"})
			return
		}
		if err := board.Delete(req.Name); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": fmt.Sprintf("could not delete datastore: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Datastore %q deleted.", req.Name)})
	})
}

// setupDownloadRoutes konfiguriert die gestreamten CSV-Downloads.
func setupDownloadRoutes(router *gin.Engine, exporter *services.ExportService, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/admin/download")

	rg.GET("/master.csv", func(c *gin.Context) {
		streamCSV(c, "master_spreadsheet", log, exporter.WriteMaster)
	})
	rg.GET("/abdc_template.csv", func(c *gin.Context) {
		streamCSV(c, "ABDC_current", log, exporter.WriteJournalRankings)
	})
	rg.GET("/clarivate_template.csv", func(c *gin.Context) {
		streamCSV(c, "clarivate_current", log, exporter.WriteImpactFactors)
	})
	rg.GET("/staff_field_template.csv", func(c *gin.Context) {
		streamCSV(c, "staff_field_current", log, func(w io.Writer) error {
			return exporter.WriteStaffFields(w, cfg.HomeInstitution)
		})
	})
}

// streamCSV setzt die Attachment-Header und streamt den Export direkt in die
// Response. Fehler nach den ersten Bytes lassen sich nur noch loggen.
func streamCSV(c *gin.Context, dataset string, log *zap.Logger, write func(io.Writer) error) {
	filename := services.ExportFilename(dataset, time.Now())
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := write(c.Writer); err != nil {
		log.Error("CSV export failed", zap.String("dataset", dataset), zap.Error(err))
	}
}

// setupUploadRoutes konfiguriert die CSV-Uploads (Reconciliation).
func setupUploadRoutes(router *gin.Engine, reconciler *services.ReconcileService, cfg *config.Config, log *zap.Logger) {
	rg := router.Group("/admin/upload")

	rg.POST("/master", func(c *gin.Context) {
		f, ok := openUpload(c, cfg.UploadDir, "master_spreadsheet_upload.csv")
		if !ok {
			return
		}
		defer f.Close()

		counts, err := reconciler.ReplaceMaster(f)
		if err != nil {
			renderReconcileError(c, log, "master spreadsheet", err)
			return
		}
		reconciledRowsCounter.WithLabelValues("journals").Add(float64(counts.Journals))
		reconciledRowsCounter.WithLabelValues("researchers").Add(float64(counts.Researchers))
		reconciledRowsCounter.WithLabelValues("publications").Add(float64(counts.Publications))
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf(
			"Master spreadsheet processed: %d journals, %d researchers, %d publications.",
			counts.Journals, counts.Researchers, counts.Publications)})
	})

	rg.POST("/abdc", func(c *gin.Context) {
		f, ok := openUpload(c, cfg.UploadDir, "abdc_upload.csv")
		if !ok {
			return
		}
		defer f.Close()

		count, err := reconciler.ReplaceJournalRankings(f)
		if err != nil {
			renderReconcileError(c, log, "ABDC rankings", err)
			return
		}
		reconciledRowsCounter.WithLabelValues("journals").Add(float64(count))
		message := fmt.Sprintf("ABDC rankings replaced: %d journals.", count)

		// Zuletzt hochgeladene Clarivate-Daten erneut anwenden, damit die
		// frisch ersetzten Journals ihre Metriken zurückbekommen.
		if cf, err := os.Open(filepath.Join(cfg.UploadDir, "clarivate_upload.csv")); err == nil {
			defer cf.Close()
			matched, err := reconciler.MergeImpactFactors(cf)
			if err != nil {
				log.Warn("Re-applying Clarivate data after ABDC replace failed", zap.Error(err))
			} else {
				message += fmt.Sprintf(" Re-applied Clarivate metrics to %d journals.", matched)
			}
		} else {
			message += " No Clarivate data found, please upload Clarivate data as well."
		}

		c.JSON(http.StatusOK, gin.H{"message": message})
	})

	rg.POST("/clarivate", func(c *gin.Context) {
		f, ok := openUpload(c, cfg.UploadDir, "clarivate_upload.csv")
		if !ok {
			return
		}
		defer f.Close()

		matched, err := reconciler.MergeImpactFactors(f)
		if err != nil {
			renderReconcileError(c, log, "Clarivate metrics", err)
			return
		}
		reconciledRowsCounter.WithLabelValues("journal_metrics").Add(float64(matched))
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Clarivate metrics merged into %d journals.", matched)})
	})

	rg.POST("/staff_field", func(c *gin.Context) {
		f, ok := openUpload(c, cfg.UploadDir, "staff_field_upload.csv")
		if !ok {
			return
		}
		defer f.Close()

		updated, err := reconciler.MergeResearcherFields(f, cfg.HomeInstitution)
		if err != nil {
			renderReconcileError(c, log, "staff fields", err)
			return
		}
		reconciledRowsCounter.WithLabelValues("researcher_fields").Add(float64(updated))
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Staff fields updated for %d researchers.", updated)})
	})

	rg.POST("/researchers", func(c *gin.Context) {
		f, ok := openUpload(c, cfg.UploadDir, "researchers_upload.csv")
		if !ok {
			return
		}
		defer f.Close()

		count, err := reconciler.ReplaceResearchers(f)
		if err != nil {
			renderReconcileError(c, log, "researchers", err)
			return
		}
		reconciledRowsCounter.WithLabelValues("researchers").Add(float64(count))
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Researchers replaced: %d rows.", count)})
	})

	rg.POST("/publications", func(c *gin.Context) {
		f, ok := openUpload(c, cfg.UploadDir, "publications_upload.csv")
		if !ok {
			return
		}
		defer f.Close()

		count, err := reconciler.ReplacePublications(f)
		if err != nil {
			renderReconcileError(c, log, "publications", err)
			return
		}
		reconciledRowsCounter.WithLabelValues("publications").Add(float64(count))
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Publications replaced: %d rows.", count)})
	})
}

// openUpload speichert die hochgeladene Datei unter festem Namen im
// Upload-Verzeichnis und öffnet die gespeicherte Kopie zum Einlesen.
// Bei Fehlern ist die Response bereits geschrieben (ok == false).
func openUpload(c *gin.Context, uploadDir, name string) (*os.File, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded."})
		return nil, false
	}
	path := filepath.Join(uploadDir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save uploaded file"})
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read uploaded file"})
		return nil, false
	}
	return f, true
}

// renderReconcileError unterscheidet Validierungs- und Konvertierungsfehler
// (400, mit konkreter Spalten-/Zeilenangabe) von internen Fehlern (500).
func renderReconcileError(c *gin.Context, log *zap.Logger, what string, err error) {
	var missing *services.MissingColumnsError
	var conv *services.ConversionError
	if errors.As(err, &missing) || errors.As(err, &conv) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Error processing %s: %v", what, err)})
		return
	}
	log.Error("Reconciliation failed", zap.String("upload", what), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf(
		"Error processing %s. Please ensure the file is correctly formatted.", what)})
}

// setupCollectorRoutes konfiguriert Start und Status-Polling des Sammellaufs.
func setupCollectorRoutes(router *gin.Engine, runner *services.Runner, collector *services.Collector, log *zap.Logger) {
	rg := router.Group("/admin/collector")

	rg.POST("/run", func(c *gin.Context) {
		if err := runner.Start("Collection", collector.Run); err != nil {
			if errors.Is(err, services.ErrJobRunning) {
				c.JSON(http.StatusConflict, gin.H{"message": "Collector is already running."})
				return
			}
			log.Error("Collector start failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start collector"})
			return
		}
		collectorRunsCounter.Inc()
		c.JSON(http.StatusAccepted, gin.H{"message": "Collector started"})
	})

	rg.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, runner.Status())
	})
}
