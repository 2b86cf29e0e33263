package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"omip-curator/models"
	"omip-curator/repository"
	"omip-curator/services"
	"omip-curator/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ExportConfig struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	S3URL    string `envconfig:"EXPORT_S3_URL" required:"true"`
	S3Region string `envconfig:"EXPORT_S3_REGION" default:"us-east-1"`
	S3Key    string `envconfig:"EXPORT_S3_KEY" required:"true"`
	S3Secret string `envconfig:"EXPORT_S3_SECRET" required:"true"`
	S3Bucket string `envconfig:"EXPORT_S3_BUCKET" required:"true"`

	Prefix      string        `envconfig:"EXPORT_PREFIX" default:"exports/"`
	KeepExports int           `envconfig:"KEEP_EXPORTS" default:"4"`
	Timeout     time.Duration `envconfig:"EXPORT_TIMEOUT" default:"10m"`
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	logging.Info("Starte Export-Prozess...")

	_ = godotenv.Load()
	var cfg ExportConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logging.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	// 1. Freigegebene Daten laden
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Fehler bei der Datenbankverbindung", zap.Error(err))
	}
	svc := services.NewCurationService(repository.New(db, logging), nil, nil, nil, logging)
	records, err := svc.ExportApproved(ctx)
	if err != nil {
		logging.Fatal("Fehler beim Laden der freigegebenen Daten", zap.Error(err))
	}

	data, err := encodeExport(records)
	if err != nil {
		logging.Fatal("Fehler beim Komprimieren des Exports", zap.Error(err))
	}

	// 2. Export hochladen
	store, err := storage.NewS3Store(ctx, storage.S3Options{
		URL:    cfg.S3URL,
		Region: cfg.S3Region,
		Key:    cfg.S3Key,
		Secret: cfg.S3Secret,
		Bucket: cfg.S3Bucket,
	}, logging)
	if err != nil {
		logging.Fatal("Fehler beim Erstellen des S3-Clients", zap.Error(err))
	}
	key := exportKey(cfg.Prefix, time.Now())
	if err := store.Put(ctx, key, data, "application/gzip"); err != nil {
		logging.Fatal("Fehler beim Hochladen nach S3", zap.Error(err))
	}
	logging.Info("Export erfolgreich hochgeladen",
		zap.String("location", fmt.Sprintf("s3://%s/%s", cfg.S3Bucket, key)),
		zap.Int("records", len(records)))

	// 3. Alte Exporte rotieren
	deleted, err := storage.Rotate(ctx, store, cfg.Prefix, cfg.KeepExports, logging)
	if err != nil {
		logging.Fatal("Fehler bei der Rotation alter Exporte", zap.Error(err))
	}

	logging.Info("Export-Prozess erfolgreich abgeschlossen.", zap.Int("rotated", len(deleted)))
}

// encodeExport serialisiert die Datensätze als gzip-komprimiertes JSON.
func encodeExport(records []models.ExportRecord) ([]byte, error) {
	if records == nil {
		records = []models.ExportRecord{}
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exportKey(prefix string, now time.Time) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%sapproved-%s-%s.json.gz", prefix, now.UTC().Format("2006-01-02T15-04-05Z"), uuid.NewString()[:8])
}
