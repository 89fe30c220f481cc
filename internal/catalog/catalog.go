// Package catalog enumerates persisted sessions that can be re-hosted:
// single-session saves and multiplayer replay archives.
package catalog

import (
	"archive/zip"
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/mpbrowser/internal/config"
)

// Kind distinguishes saves from replays.
type Kind int

const (
	KindSave Kind = iota
	KindReplay
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSave:
		return "save"
	case KindReplay:
		return "replay"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Entry describes a re-hostable session file without its payload.
// Entries are immutable; a rebuild produces new ones.
type Entry struct {
	// DisplayName is the file name without extension.
	DisplayName string
	Kind        Kind
	// Path is the backing file.
	Path string
	// SessionLabel is the session name from the file's metadata, or DisplayName.
	SessionLabel string
	ModTime      time.Time
	Size         int64
}

// Check reports whether the backing file still exists. A missing file is an
// *IOError: entries must never point at nothing.
func (e Entry) Check() error {
	if _, err := os.Stat(e.Path); err != nil {
		return newIOError("stat", e.Path, err)
	}
	return nil
}

// Catalog builds and mutates the save/replay listing. Rebuild and Delete are
// serialized, so a Catalog is safe for concurrent use.
type Catalog struct {
	cfg    config.CatalogConfig
	logger *zap.Logger

	mu      sync.Mutex
	entries []Entry
}

// New creates an empty catalog. Call Rebuild to populate it.
//
// Precondition: cfg must pass config validation.
func New(cfg config.CatalogConfig, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Catalog{cfg: cfg, logger: logger}
}

// SaveDir returns the directory scanned for saves.
func (c *Catalog) SaveDir() string { return c.cfg.SaveDir }

// ReplaysDir returns the directory scanned for replays.
func (c *Catalog) ReplaysDir() string { return c.cfg.ReplaysPath() }

// Entries returns the result of the last successful Rebuild.
func (c *Catalog) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Rebuild rescans both directories and replaces the catalog. Replays come
// first, newest first; saves follow in directory order.
//
// Postcondition: On error the previous catalog is kept. A single unreadable
// archive is skipped, never fatal.
func (c *Catalog) Rebuild() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	replays, err := c.scanReplays()
	if err != nil {
		return nil, err
	}
	saves, err := c.scanSaves()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(replays)+len(saves))
	entries = append(entries, replays...)
	entries = append(entries, saves...)
	c.entries = entries

	c.logger.Debug("catalog rebuilt",
		zap.Int("replays", len(replays)),
		zap.Int("saves", len(saves)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return slices.Clone(entries), nil
}

// Delete removes the entry's backing file. It does not touch any catalog
// already returned; callers rebuild afterwards.
//
// Postcondition: Returns *IOError if the file is gone or cannot be removed.
func (c *Catalog) Delete(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.owns(e.Path) {
		return &IOError{Op: "delete", Path: e.Path, Err: ErrOutsideCatalog}
	}
	if err := os.Remove(e.Path); err != nil {
		return newIOError("delete", e.Path, err)
	}
	c.logger.Info("catalog entry deleted",
		zap.String("kind", e.Kind.String()),
		zap.String("path", e.Path),
	)
	return nil
}

func (c *Catalog) owns(path string) bool {
	dir := filepath.Clean(filepath.Dir(path))
	return dir == filepath.Clean(c.cfg.SaveDir) || dir == filepath.Clean(c.cfg.ReplaysPath())
}

func (c *Catalog) scanSaves() ([]Entry, error) {
	dir := c.cfg.SaveDir
	files, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, newIOError("read saves", dir, err)
	}

	var out []Entry
	for _, f := range files {
		if f.IsDir() || (c.cfg.SaveExt != "" && filepath.Ext(f.Name()) != c.cfg.SaveExt) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		path := filepath.Join(dir, f.Name())
		base := stem(f.Name())
		label := base
		if c.cfg.ParseSaveNames {
			label = c.saveLabel(path, base)
		}
		out = append(out, Entry{
			DisplayName:  base,
			Kind:         KindSave,
			Path:         path,
			SessionLabel: label,
			ModTime:      info.ModTime(),
			Size:         info.Size(),
		})
	}
	return out, nil
}

func (c *Catalog) saveLabel(path, fallback string) string {
	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()
	name, err := ReadField(f, SaveWorldNamePath...)
	if err != nil || name == "" {
		c.logger.Debug("save world name unavailable", zap.String("path", path), zap.Error(err))
		return fallback
	}
	return name
}

func (c *Catalog) scanReplays() ([]Entry, error) {
	dir := c.cfg.ReplaysPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newIOError("create replays dir", dir, err)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, newIOError("read replays", dir, err)
	}

	var candidates []fs.DirEntry
	for _, f := range files {
		if !f.IsDir() && filepath.Ext(f.Name()) == c.cfg.ReplayExt {
			candidates = append(candidates, f)
		}
	}

	results := make([]*Entry, len(candidates))
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, f := range candidates {
		g.Go(func() error {
			results[i] = c.replayEntry(dir, f)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Entry, 0, len(results))
	for _, e := range results {
		if e != nil {
			out = append(out, *e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if n := b.ModTime.Compare(a.ModTime); n != 0 {
			return n
		}
		return cmp.Compare(a.DisplayName, b.DisplayName)
	})
	return out, nil
}

// replayEntry returns nil for an archive that cannot be opened.
func (c *Catalog) replayEntry(dir string, f fs.DirEntry) *Entry {
	path := filepath.Join(dir, f.Name())
	info, err := f.Info()
	if err != nil {
		return nil
	}
	base := stem(f.Name())

	label, err := c.replayLabel(path)
	if errors.Is(err, errCorruptArchive) {
		c.logger.Warn("skipping unreadable replay", zap.String("path", path), zap.Error(err))
		return nil
	}
	if err != nil || label == "" {
		c.logger.Debug("replay name unavailable", zap.String("path", path), zap.Error(err))
		label = base
	}
	return &Entry{
		DisplayName:  base,
		Kind:         KindReplay,
		Path:         path,
		SessionLabel: label,
		ModTime:      info.ModTime(),
		Size:         info.Size(),
	}
}

var errCorruptArchive = errors.New("corrupt archive")

// replayLabel opens only the metadata member of the archive; session payload
// members are never decompressed.
func (c *Catalog) replayLabel(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errCorruptArchive, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.Name != c.cfg.MetadataEntry {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		defer rc.Close()
		return ReadField(rc, ReplayNamePath...)
	}
	return "", ErrMissingField
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
