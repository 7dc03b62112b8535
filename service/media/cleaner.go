package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"chatwave/logger"
	"chatwave/service/metrics"

	"go.uber.org/zap"
)

// Category 媒体文件所在的子目录
type Category string

const (
	UserAvatars  Category = "avatars"
	GroupAvatars Category = "groups/avatars"
	MessageFiles Category = "messages"
)

var Categories = []Category{UserAvatars, GroupAvatars, MessageFiles}

// Cleaner removes media files orphaned by a row deletion.
type Cleaner struct {
	root    string
	metrics *metrics.Metrics
}

func NewCleaner(root string, m *metrics.Metrics) *Cleaner {
	return &Cleaner{root: root, metrics: m}
}

// Init creates the category directories under root.
func (c *Cleaner) Init() error {
	for _, cat := range Categories {
		if err := os.MkdirAll(filepath.Join(c.root, string(cat)), 0o755); err != nil {
			return fmt.Errorf("create media dir %s: %w", cat, err)
		}
	}
	return nil
}

func (c *Cleaner) Path(cat Category, artifact string) (string, error) {
	if artifact == "" || artifact != filepath.Base(artifact) || artifact == "." || artifact == ".." {
		return "", fmt.Errorf("invalid artifact name %q", artifact)
	}
	return filepath.Join(c.root, string(cat), artifact), nil
}

// Remove deletes the artifact if it is still present. An empty artifact is a
// no-op. Errors are logged and returned, callers are expected to drop them.
func (c *Cleaner) Remove(_ context.Context, cat Category, artifact string) error {
	if artifact == "" {
		return nil
	}
	path, err := c.Path(cat, artifact)
	if err != nil {
		c.count(cat, "invalid")
		logger.Warn("media cleanup skipped", zap.String("category", string(cat)), zap.Error(err))
		return err
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.count(cat, "missing")
		logger.Debug("media already gone", zap.String("path", path))
		return nil
	case err != nil:
		c.count(cat, "error")
		logger.Warn("media stat failed", zap.String("path", path), zap.Error(err))
		return err
	case !info.Mode().IsRegular():
		c.count(cat, "invalid")
		return fmt.Errorf("%s is not a regular file", path)
	}

	if err := os.Remove(path); err != nil {
		c.count(cat, "error")
		logger.Warn("media remove failed", zap.String("path", path), zap.Error(err))
		return err
	}
	c.count(cat, "removed")
	logger.Info("orphaned media removed", zap.String("path", path))
	return nil
}

func (c *Cleaner) count(cat Category, result string) {
	if c.metrics != nil {
		c.metrics.MediaCleanups.WithLabelValues(string(cat), result).Inc()
	}
}
