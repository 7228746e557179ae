package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type LocalStorage struct {
	basePath string
	baseURL  string
	now      func() time.Time
}

func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if baseURL == "" {
		baseURL = "/exports"
	}
	return &LocalStorage{basePath: abs, baseURL: strings.TrimSuffix(baseURL, "/"), now: time.Now}, nil
}

func (ls *LocalStorage) Store(_ context.Context, organizationID, filename string, content io.Reader, _ string) (string, error) {
	key := newKey(organizationID, filename, ls.now())
	fullPath, err := ls.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(file, content); err != nil {
		_ = file.Close()
		_ = os.Remove(fullPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return key, nil
}

func (ls *LocalStorage) Retrieve(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (ls *LocalStorage) Delete(_ context.Context, key string) error {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (ls *LocalStorage) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := ls.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// URL points at the dashboard route that streams local exports.
func (ls *LocalStorage) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := ls.resolve(key); err != nil {
		return "", err
	}
	return ls.baseURL + "/" + key, nil
}

// resolve maps a key to a path inside basePath, rejecting traversal.
func (ls *LocalStorage) resolve(key string) (string, error) {
	fullPath := filepath.Join(ls.basePath, filepath.FromSlash(key))
	if fullPath != ls.basePath && !strings.HasPrefix(fullPath, ls.basePath+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return fullPath, nil
}
