package repo

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/praxis-pm/praxis/pkg/catalog"
)

// Store is the on-disk metadata cache: one directory per repository
// holding the most recently verified release manifest and the
// decompressed index files it lists.
//
// Layout: <root>/<repo>/manifest and
// <root>/<repo>/<component>/<arch>/Packages.
type Store struct {
	root   string
	logger logrus.FieldLogger
}

func NewStore(root string, logger logrus.FieldLogger) *Store {
	return &Store{root: root, logger: logger}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Lock takes the advisory file lock guarding the store for the
// duration of a refresh. The returned function releases it.
func (s *Store) Lock() (func(), error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache root")
	}
	lock := flock.New(filepath.Join(s.root, ".lock"))
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrap(err, "locking metadata store")
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			s.logger.WithError(err).Warn("releasing metadata store lock")
		}
	}, nil
}

func (s *Store) repoDir(repo string) string {
	return filepath.Join(s.root, repo)
}

// ManifestPath returns the location of a repository's verified
// release manifest.
func (s *Store) ManifestPath(repo string) string {
	return filepath.Join(s.repoDir(repo), "manifest")
}

// IndexPath returns the location of one decompressed Packages index.
func (s *Store) IndexPath(repo, component, arch string) string {
	return filepath.Join(s.repoDir(repo), component, arch, "Packages")
}

// HasRepo reports whether the store holds a promoted snapshot for the
// repository.
func (s *Store) HasRepo(repo string) bool {
	_, err := os.Stat(s.ManifestPath(repo))
	return err == nil
}

// Sources enumerates the index files currently promoted for the given
// repositories and architectures, for loading into the catalog.
// Missing indices are skipped: a component may legitimately publish
// for only one of the architectures.
func (s *Store) Sources(repos []Repository, arches []string) []catalog.IndexSource {
	var sources []catalog.IndexSource
	for _, r := range repos {
		for _, component := range r.Components {
			for _, arch := range arches {
				path := s.IndexPath(r.Name, component, arch)
				if _, err := os.Stat(path); err != nil {
					continue
				}
				sources = append(sources, catalog.IndexSource{
					Repo:      r.Name,
					Component: component,
					Arch:      arch,
					Path:      path,
				})
			}
		}
	}
	return sources
}

// promote atomically replaces the repository's current snapshot with
// the staged one. The window where neither directory is in place is
// unavoidable with rename semantics; the step is short, sequential,
// and never observes a cancellation context.
func (s *Store) promote(repo, stagingDir string) error {
	current := s.repoDir(repo)
	old := current + ".old"

	if err := os.RemoveAll(old); err != nil {
		return errors.Wrap(err, "clearing stale backup")
	}
	hadCurrent := true
	if _, err := os.Stat(current); err != nil {
		hadCurrent = false
	}
	if hadCurrent {
		if err := os.Rename(current, old); err != nil {
			return errors.Wrap(err, "moving current snapshot aside")
		}
	}
	if err := os.Rename(stagingDir, current); err != nil {
		// Restore the previous snapshot; the staged set is
		// left for the next refresh to clear.
		if hadCurrent {
			if restoreErr := os.Rename(old, current); restoreErr != nil {
				s.logger.WithError(restoreErr).Error("restoring previous snapshot after failed promotion")
			}
		}
		return errors.Wrap(err, "promoting staged snapshot")
	}
	if hadCurrent {
		if err := os.RemoveAll(old); err != nil {
			s.logger.WithError(err).Warn("removing replaced snapshot")
		}
	}
	return nil
}

func (s *Store) stagingDir(repo string) string {
	return filepath.Join(s.root, ".staging-"+repo)
}
