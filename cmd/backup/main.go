package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"scholar-board/storage"
)

type BackupConfig struct {
	DataDir         string `envconfig:"DATA_DIR" default:"data"`
	BackupBucket    string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint  string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion    string `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups     int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	log.Println("Starte Backup-Prozess...")

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	ctx := context.Background()
	settings := storage.S3Settings{
		Endpoint:  cfg.BackupEndpoint,
		Region:    cfg.BackupRegion,
		AccessKey: cfg.BackupAccessKey,
		SecretKey: cfg.BackupSecretKey,
		Bucket:    cfg.BackupBucket,
	}
	client, err := storage.NewS3Client(ctx, settings)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	entries, err := os.ReadDir(cfg.DataDir)
	if err != nil {
		log.Fatalf("Fehler beim Lesen des Datenverzeichnisses: %v", err)
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	backedUp := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".db")

		data, err := compressFile(filepath.Join(cfg.DataDir, entry.Name()))
		if err != nil {
			log.Fatalf("Fehler beim Komprimieren von %s: %v", entry.Name(), err)
		}

		key := fmt.Sprintf("%s/backup-%s.db.gz", name, stamp)
		link, err := storage.UploadObject(ctx, client, settings, key, data)
		if err != nil {
			log.Fatalf("Fehler beim Hochladen nach S3: %v", err)
		}
		log.Printf("Datastore %q gesichert: %s", name, link)
		backedUp++

		// Alte Backups des Datastores rotieren
		deleted, err := storage.RotateObjects(ctx, client, settings, name+"/", cfg.KeepBackups)
		if err != nil {
			log.Fatalf("Fehler bei der Rotation alter Backups: %v", err)
		}
		for _, key := range deleted {
			log.Printf("Altes Backup gelöscht: %s", key)
		}
	}

	if backedUp == 0 {
		log.Printf("Keine Datastores in %q gefunden, nichts zu sichern.", cfg.DataDir)
		return
	}
	log.Printf("Backup-Prozess erfolgreich abgeschlossen (%d Datastores).", backedUp)
}

func compressFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, f); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
