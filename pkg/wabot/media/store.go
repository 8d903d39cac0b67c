// Package media stores downloaded attachments on disk so they survive
// the message handling path and can be cleaned up later.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoredMedia is the persisted metadata for one saved file.
type StoredMedia struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	MimeType  string     `json:"mime_type"`
	Size      int64      `json:"size"`
	UserID    string     `json:"user_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the media is past its expiry.
func (m *StoredMedia) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// SaveRequest contains data for storing media.
type SaveRequest struct {
	Data     []byte
	MimeType string
	UserID   string
	TTL      time.Duration // 0 keeps the file forever
}

// Config configures the filesystem store.
type Config struct {
	// BaseDir is where media files and their metadata live.
	BaseDir string `yaml:"base_dir"`

	// MaxFileSize rejects larger saves. Zero means no limit.
	MaxFileSize int64 `yaml:"max_file_size"`
}

// DefaultConfig returns default media storage configuration.
func DefaultConfig() Config {
	return Config{
		BaseDir:     "./data/media",
		MaxFileSize: 16 * 1024 * 1024,
	}
}

// FileSystemStore keeps media on the local filesystem, one data file
// plus one JSON metadata sidecar per entry.
type FileSystemStore struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	meta map[string]*StoredMedia
}

// NewFileSystemStore creates the store and its directory.
func NewFileSystemStore(cfg Config, logger *slog.Logger) (*FileSystemStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = DefaultConfig().BaseDir
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}

	s := &FileSystemStore{
		cfg:    cfg,
		logger: logger.With("component", "media"),
		meta:   make(map[string]*StoredMedia),
	}
	if err := s.loadMetadata(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes media bytes to disk and records their metadata.
func (s *FileSystemStore) Save(ctx context.Context, req SaveRequest) (*StoredMedia, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("empty media data")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(req.Data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("media too large: %d bytes (max %d)", len(req.Data), s.cfg.MaxFileSize)
	}

	id := uuid.New().String()
	m := &StoredMedia{
		ID:        id,
		Filename:  id + extensionFor(req.MimeType),
		MimeType:  req.MimeType,
		Size:      int64(len(req.Data)),
		UserID:    req.UserID,
		CreatedAt: time.Now(),
	}
	if req.TTL > 0 {
		expires := m.CreatedAt.Add(req.TTL)
		m.ExpiresAt = &expires
	}

	if err := os.WriteFile(s.dataPath(m), req.Data, 0o644); err != nil {
		return nil, fmt.Errorf("writing media file: %w", err)
	}
	if err := s.writeMetadata(m); err != nil {
		_ = os.Remove(s.dataPath(m))
		return nil, err
	}

	s.mu.Lock()
	s.meta[id] = m
	s.mu.Unlock()

	s.logger.Debug("media saved", "id", id, "mime", m.MimeType, "size", m.Size)
	return m, nil
}

// GetBytes retrieves media data by ID.
func (s *FileSystemStore) GetBytes(ctx context.Context, id string) ([]byte, *StoredMedia, error) {
	s.mu.RLock()
	m, ok := s.meta[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("media %s not found", id)
	}

	data, err := os.ReadFile(s.dataPath(m))
	if err != nil {
		return nil, nil, fmt.Errorf("reading media file: %w", err)
	}
	return data, m, nil
}

// Delete removes media and its metadata.
func (s *FileSystemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.meta[id]
	delete(s.meta, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := os.Remove(s.dataPath(m)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing media file: %w", err)
	}
	if err := os.Remove(s.metaPath(m.ID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metadata: %w", err)
	}
	return nil
}

// DeleteExpired removes media past its expiry. Returns the number of
// entries removed.
func (s *FileSystemStore) DeleteExpired(ctx context.Context) (int, error) {
	now := time.Now()

	s.mu.RLock()
	var expired []string
	for id, m := range s.meta {
		if m.Expired(now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		if err := s.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	if len(expired) > 0 {
		s.logger.Info("expired media removed", "count", len(expired))
	}
	return len(expired), nil
}

func (s *FileSystemStore) dataPath(m *StoredMedia) string {
	return filepath.Join(s.cfg.BaseDir, m.Filename)
}

func (s *FileSystemStore) metaPath(id string) string {
	return filepath.Join(s.cfg.BaseDir, id+".meta.json")
}

func (s *FileSystemStore) writeMetadata(m *StoredMedia) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(m.ID), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// loadMetadata rebuilds the in-memory index from metadata sidecars.
func (s *FileSystemStore) loadMetadata() error {
	entries, err := os.ReadDir(s.cfg.BaseDir)
	if err != nil {
		return fmt.Errorf("reading media dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.BaseDir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable metadata", "file", entry.Name(), "error", err)
			continue
		}
		var m StoredMedia
		if err := json.Unmarshal(data, &m); err != nil {
			s.logger.Warn("skipping corrupt metadata", "file", entry.Name(), "error", err)
			continue
		}
		s.meta[m.ID] = &m
	}

	s.logger.Debug("media metadata loaded", "entries", len(s.meta))
	return nil
}

// extensionFor maps common MIME types to file extensions.
func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
