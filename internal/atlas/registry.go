package atlas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

var atlasExtensions = []string{".json", ".yaml", ".yml"}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Dir holds one atlas file per document type, named <type>.<ext>.
	Dir string
	// TTL is how long a loaded atlas stays cached. Zero keeps it forever.
	TTL time.Duration
	// Capacity bounds the number of cached atlases. Zero is unbounded.
	Capacity uint64
}

// Registry loads atlases by document type and caches them.
type Registry struct {
	dir    string
	logger *zap.Logger
	cache  *ttlcache.Cache[string, *Atlas]
	mu     sync.Mutex // serializes loads of the same type
	stop   sync.Once
}

// NewRegistry creates a Registry and starts its expiry loop. Call Close to
// stop it.
func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = ttlcache.NoTTL
	}
	opts := []ttlcache.Option[string, *Atlas]{
		ttlcache.WithTTL[string, *Atlas](ttl),
	}
	if cfg.Capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Atlas](cfg.Capacity))
	}

	r := &Registry{
		dir:    cfg.Dir,
		logger: logger,
		cache:  ttlcache.New(opts...),
	}
	r.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Atlas]) {
		logger.Debug("atlas evicted", zap.String("atlas", item.Key()), zap.Int("reason", int(reason)))
	})
	go r.cache.Start()
	return r
}

// Close stops the expiry loop. It is safe to call more than once.
func (r *Registry) Close() {
	r.stop.Do(r.cache.Stop)
}

// Dir returns the atlas directory.
func (r *Registry) Dir() string { return r.dir }

// Get returns the atlas for documentType, loading it on a cache miss.
func (r *Registry) Get(documentType string) (*Atlas, error) {
	if item := r.cache.Get(documentType); item != nil {
		return item.Value(), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if item := r.cache.Get(documentType); item != nil {
		return item.Value(), nil
	}

	path, err := r.find(documentType)
	if err != nil {
		return nil, err
	}
	a, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if a.DocumentType != documentType {
		return nil, fmt.Errorf("%s declares document_type %q, want %q", path, a.DocumentType, documentType)
	}

	r.logger.Info("loaded atlas",
		zap.String("atlas", documentType),
		zap.String("path", path),
		zap.Int("fields", len(a.Fields)),
		zap.Int("anchors", len(a.Anchors)))
	r.cache.Set(documentType, a, ttlcache.DefaultTTL)
	return a, nil
}

// List returns the document types available in the atlas directory.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read atlas directory: %w", err)
	}
	seen := make(map[string]bool)
	var types []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !isAtlasExt(ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !seen[name] {
			seen[name] = true
			types = append(types, name)
		}
	}
	sort.Strings(types)
	return types, nil
}

// Cached reports how many atlases are currently held.
func (r *Registry) Cached() int {
	return r.cache.Len()
}

func (r *Registry) find(documentType string) (string, error) {
	if documentType == "" || strings.ContainsAny(documentType, `/\`) || strings.Contains(documentType, "..") {
		return "", fmt.Errorf("invalid document type %q", documentType)
	}
	for _, ext := range atlasExtensions {
		path := filepath.Join(r.dir, documentType+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, documentType, r.dir)
}

func isAtlasExt(ext string) bool {
	for _, e := range atlasExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
