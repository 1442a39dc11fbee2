package cache

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// NewDiskCache creates the disk tier based on the cache type. Files live under
// {cacheFileDir}/{namespace} so that clearing one provider never touches
// another provider's files.
func NewDiskCache(cacheType, cacheFileDir, namespace string, log *zap.Logger) (DiskCache, error) {
	switch cacheType {
	case "file", "":
		dir := cacheFileDir
		if namespace != "" {
			dir = filepath.Join(cacheFileDir, namespace)
		}
		log.Info("Using file cache", zap.String("cache_dir", dir))
		return NewFileCache(dir)
	case "disabled", "memory":
		log.Info("Disk cache disabled", zap.String("cache_type", cacheType))
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: file, memory, disabled)", cacheType)
	}
}
