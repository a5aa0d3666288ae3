package scene

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/logger"
)

// Registry holds the loaded scene and rig tables and keeps them current as
// config files change on disk. Lookups are lock-cheap reads of an
// atomically swapped table; a broken edit keeps the file's last good
// version in place.
type Registry struct {
	scenesDir     string
	charactersDir string
	log           *logger.Logger

	mu     sync.RWMutex
	scenes map[string]*Scene
	rigs   map[string]*Rig

	// Last successfully loaded config per file path, consulted when a
	// reload of that file fails.
	goodScenes map[string]*Scene
	goodRigs   map[string]*Rig
}

const reloadDebounce = 200 * time.Millisecond

func NewRegistry(scenesDir, charactersDir string, log *logger.Logger) (*Registry, error) {
	r := &Registry{
		scenesDir:     scenesDir,
		charactersDir: charactersDir,
		log:           log,
		goodScenes:    make(map[string]*Scene),
		goodRigs:      make(map[string]*Rig),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Scene returns the scene registered under id.
func (r *Registry) Scene(id string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenes[id]
	if !ok {
		return nil, fmt.Errorf("%w: scene %s", errs.ErrNotFound, id)
	}
	return s, nil
}

// Rig returns the compiled character rig registered under id.
func (r *Registry) Rig(id string) (*Rig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rig, ok := r.rigs[id]
	if !ok {
		return nil, fmt.Errorf("%w: character %s", errs.ErrNotFound, id)
	}
	return rig, nil
}

// SceneIDs lists the registered scene ids, sorted.
func (r *Registry) SceneIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scenes))
	for id := range r.scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reload re-scans both config directories and swaps in the new tables.
func (r *Registry) Reload() error {
	rigs := make(map[string]*Rig)
	for _, path := range yamlFiles(r.charactersDir) {
		rig := r.loadRig(path)
		if rig == nil {
			continue
		}
		if _, dup := rigs[rig.ID]; dup {
			r.log.Warn("duplicate character id, later file wins", "id", rig.ID, "file", path)
		}
		rigs[rig.ID] = rig
	}

	scenes := make(map[string]*Scene)
	for _, path := range yamlFiles(r.scenesDir) {
		s := r.loadScene(path)
		if s == nil {
			continue
		}
		if _, ok := rigs[s.Character]; !ok {
			r.log.Warn("scene references unknown character", "scene", s.ID, "character", s.Character, "file", path)
			continue
		}
		if _, dup := scenes[s.ID]; dup {
			r.log.Warn("duplicate scene id, later file wins", "id", s.ID, "file", path)
		}
		scenes[s.ID] = s
	}

	r.mu.Lock()
	r.scenes = scenes
	r.rigs = rigs
	r.mu.Unlock()

	r.log.Info("configuration loaded", "scenes", len(scenes), "characters", len(rigs))
	if len(scenes) == 0 {
		return fmt.Errorf("%w: no usable scenes in %s", errs.ErrNotFound, r.scenesDir)
	}
	return nil
}

func (r *Registry) loadScene(path string) *Scene {
	s, err := LoadScene(path)
	if err != nil {
		r.log.Warn("skipping scene file", "file", path, "error", err)
		return r.goodScenes[path]
	}
	r.goodScenes[path] = s
	return s
}

func (r *Registry) loadRig(path string) *Rig {
	c, err := LoadCharacter(path)
	if err != nil {
		r.log.Warn("skipping character file", "file", path, "error", err)
		return r.goodRigs[path]
	}
	rig, err := CompileRig(c, filepath.Dir(path))
	if err != nil {
		r.log.Warn("skipping character file", "file", path, "error", err)
		return r.goodRigs[path]
	}
	r.goodRigs[path] = rig
	return rig
}

// Watch blocks, reloading the registry when config files change, until ctx
// is done. Bursts of events collapse into one reload.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()
	for _, dir := range []string{r.scenesDir, r.charactersDir} {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				pending = time.After(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := r.Reload(); err != nil {
				r.log.Error("config reload failed", "error", err)
			}
		}
	}
}

func yamlFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}
