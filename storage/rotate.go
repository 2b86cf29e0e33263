package storage

import (
	"context"

	"go.uber.org/zap"
)

// Rotator lists and deletes objects.
type Rotator interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Rotate keeps the newest keep objects under prefix and deletes the rest.
// Single delete failures are logged and skipped; it returns the deleted keys.
func Rotate(ctx context.Context, store Rotator, prefix string, keep int, logger *zap.Logger) ([]string, error) {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(objects) <= keep {
		logger.Info("nothing to rotate", zap.Int("objects", len(objects)), zap.Int("keep", keep))
		return nil, nil
	}

	var deleted []string
	for _, obj := range objects[keep:] {
		logger.Info("deleting old object", zap.String("key", obj.Key))
		if err := store.Delete(ctx, obj.Key); err != nil {
			logger.Warn("delete failed", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		deleted = append(deleted, obj.Key)
	}
	return deleted, nil
}
