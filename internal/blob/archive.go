package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Writer is the upload surface Archive needs. *Client implements it.
type Writer interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error
}

// Key returns the object key for file: prefix, then file's path relative to
// root, with forward slashes.
func Key(prefix, root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("blob: key for %s: %w", file, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob: %s is outside %s", file, root)
	}
	return path.Join(prefix, filepath.ToSlash(rel)), nil
}

// Archive uploads each file under prefix, keyed by its path relative to
// root. Files of at least 5 MiB go up as multipart uploads. Every file is
// attempted; the keys uploaded and the joined errors are returned.
func Archive(ctx context.Context, w Writer, prefix, root string, files []string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		keys []string
		errs []error
	)
	for _, file := range files {
		key, err := Key(prefix, root, file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := upload(ctx, w, key, file); err != nil {
			errs = append(errs, err)
			logger.Warn("archive upload failed",
				slog.String("file", file),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		keys = append(keys, key)
		logger.Info("archived journal file", slog.String("key", key))
	}
	return keys, errors.Join(errs...)
}

func upload(ctx context.Context, w Writer, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("blob: open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("blob: stat %s: %w", file, err)
	}
	if info.Size() >= minPartSize {
		return w.PutMultipart(ctx, key, f, minPartSize)
	}
	return w.Put(ctx, key, f, "application/x-ndjson")
}
