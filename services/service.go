// Package services orchestrates the curation workflow: ingest, scheduling,
// job processing, review, edits, retries, queries and export.
package services

import (
	"omip-curator/providers"
	"omip-curator/queue"
	"omip-curator/repository"
	"omip-curator/storage"

	"go.uber.org/zap"
)

// CurationService bündelt alle Operationen auf Dokumenten, Läufen und Batches.
// Transport (HTTP, Rollen) kennt der Service nicht.
type CurationService struct {
	Store   *repository.Store
	Objects storage.ObjectStore
	Parser  providers.Parser
	Queue   queue.Queue
	Logger  *zap.Logger
}

// NewCurationService erstellt eine neue Instanz des CurationService.
func NewCurationService(store *repository.Store, objects storage.ObjectStore, parser providers.Parser, q queue.Queue, logger *zap.Logger) *CurationService {
	return &CurationService{
		Store:   store,
		Objects: objects,
		Parser:  parser,
		Queue:   q,
		Logger:  logger.With(zap.String("component", "curation")),
	}
}
