package verify

import (
	"context"
	"fmt"

	"ohlcvsync/logger"
	"ohlcvsync/writer"
)

// Clear deletes every object under prefix and confirms nothing is left.
func Clear(ctx context.Context, store writer.Store, prefix string, log *logger.Log) (int, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	entry := log.WithComponent("clear").WithField("location", store.Location())

	objs, err := store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list before clear: %w", err)
	}
	if len(objs) == 0 {
		entry.Info("store already empty, nothing to delete")
		return 0, nil
	}

	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	entry.WithField("objects", len(keys)).Info("deleting objects")

	deleted, err := store.Delete(ctx, keys)
	if err != nil {
		entry.WithError(err).WithField("deleted", deleted).Error("delete incomplete")
		return deleted, fmt.Errorf("delete: %w", err)
	}

	left, err := store.List(ctx, prefix)
	if err != nil {
		return deleted, fmt.Errorf("list after clear: %w", err)
	}
	if len(left) > 0 {
		return deleted, fmt.Errorf("store still holds %d objects after clear", len(left))
	}

	entry.WithField("deleted", deleted).Info("store cleared")
	return deleted, nil
}
