package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/models"
)

// Saver persists imported routines
type Saver interface {
	Save(models.Routine) (models.Routine, error)
}

// Watcher imports routine files from a directory, once at start and again
// whenever a file is written or created.
type Watcher struct {
	dir    string
	saver  Saver
	logger *logger.Logger

	// OnImport is called after every successful import, mostly for tests
	OnImport func(models.Routine)
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, saver Saver) *Watcher {
	return &Watcher{
		dir:    dir,
		saver:  saver,
		logger: logger.New("watcher"),
	}
}

// ImportFile loads one file and saves it
func (w *Watcher) ImportFile(path string) (models.Routine, error) {
	r, err := LoadFile(path)
	if err != nil {
		return models.Routine{}, err
	}
	saved, err := w.saver.Save(r)
	if err != nil {
		return models.Routine{}, fmt.Errorf("%s: %w", path, err)
	}
	w.logger.Info("Imported %s as routine %q (%s)", filepath.Base(path), saved.Name, saved.ID)
	if w.OnImport != nil {
		w.OnImport(saved)
	}
	return saved, nil
}

// Scan imports every supported file already in the directory and returns how
// many were imported. Broken files are logged and skipped.
func (w *Watcher) Scan() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", w.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if _, err := w.ImportFile(filepath.Join(w.dir, name)); err != nil {
			w.logger.Warn("Skipping %s: %v", name, err)
			continue
		}
		n++
	}
	return n, nil
}

// Run scans the directory and then imports changes until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("ensure dir %s: %w", w.dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	n, err := w.Scan()
	if err != nil {
		return err
	}
	w.logger.Info("Watching %s, %d routines imported", w.dir, n)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !Supported(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug("fsnotify event=%s file=%s", event.Op, event.Name)
				if _, err := w.ImportFile(event.Name); err != nil {
					// editors often write in several steps, the next write retries
					w.logger.Warn("Import of %s failed: %v", event.Name, err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error=%v", err)
		}
	}
}
