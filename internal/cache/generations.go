package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const trashPrefix = ".purge-"

// Generations manages named cache buckets, one directory each under a root folder
type Generations struct {
	root string
}

// NewGenerations creates a generation manager rooted at root
func NewGenerations(root string) *Generations {
	return &Generations{root: root}
}

// Init ensures the root directory exists and removes leftovers of interrupted purges
func (g *Generations) Init() error {
	if err := os.MkdirAll(g.root, 0755); err != nil {
		return err
	}

	entries, err := os.ReadDir(g.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), trashPrefix) {
			if err := os.RemoveAll(filepath.Join(g.root, entry.Name())); err != nil {
				logrus.Warnf("Failed to remove purged generation %s: %v", entry.Name(), err)
			}
		}
	}
	return nil
}

// Root returns the directory holding all generations
func (g *Generations) Root() string {
	return g.root
}

// Open returns the cache backing the named generation
func (g *Generations) Open(name string) (*DiskCache, error) {
	if err := validGenerationName(name); err != nil {
		return nil, err
	}
	return NewGenericDisk(filepath.Join(g.root, name)), nil
}

// List returns the names of the generations present on disk
func (g *Generations) List() ([]string, error) {
	entries, err := os.ReadDir(g.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// PurgeExcept deletes every generation whose name is not in keep.
// A generation is renamed out of the way before being removed, so it disappears
// as a whole. It returns the names of the purged generations.
func (g *Generations) PurgeExcept(keep []string) ([]string, error) {
	names, err := g.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}

	var purged []string
	for _, name := range names {
		if slices.Contains(keep, name) {
			continue
		}

		trash, err := os.MkdirTemp(g.root, trashPrefix+name+"-")
		if err != nil {
			return purged, fmt.Errorf("failed to purge generation %s: %w", name, err)
		}
		target := filepath.Join(trash, name)
		if err := os.Rename(filepath.Join(g.root, name), target); err != nil {
			_ = os.Remove(trash)
			return purged, fmt.Errorf("failed to purge generation %s: %w", name, err)
		}
		if err := os.RemoveAll(trash); err != nil {
			logrus.Warnf("Generation %s purged but its files could not be removed: %v", name, err)
		}

		logrus.Infof("Purged cache generation %s", name)
		purged = append(purged, name)
	}
	return purged, nil
}

func validGenerationName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid generation name: %q", name)
	}
	return nil
}
