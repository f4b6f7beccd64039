package repo

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/otiai10/copy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/praxis-pm/praxis/pkg/fetch"
)

// Refresher acquires fresh repository metadata: verified release
// manifests plus the index files they list, promoted atomically into
// the metadata store.
type Refresher struct {
	store   *Store
	fetcher *fetch.Fetcher
	client  *http.Client
	arch    string
	logger  logrus.FieldLogger
}

func NewRefresher(store *Store, fetcher *fetch.Fetcher, arch string, logger logrus.FieldLogger) *Refresher {
	return &Refresher{
		store:   store,
		fetcher: fetcher,
		client:  &http.Client{},
		arch:    arch,
		logger:  logger,
	}
}

// RefreshResult records the outcome of refreshing one repository.
type RefreshResult struct {
	Repo string
	Err  error
	// Stale is set when the refresh failed but a previously
	// promoted snapshot remains usable.
	Stale bool
}

// RefreshAll refreshes every repository under the store lock. A
// failing repository degrades to its last good snapshot with a
// warning; the call fails only when cancelled or when no repository
// has any usable snapshot at all.
func (r *Refresher) RefreshAll(ctx context.Context, repos []Repository) ([]RefreshResult, error) {
	unlock, err := r.store.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	results := make([]RefreshResult, 0, len(repos))
	usable := 0
	for _, repository := range repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := r.refreshRepo(ctx, repository)
		result := RefreshResult{Repo: repository.Name, Err: err}
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if r.store.HasRepo(repository.Name) {
				result.Stale = true
				r.logger.WithError(err).WithField("repo", repository.Name).Warn("refresh failed; using stale cached metadata")
			} else {
				r.logger.WithError(err).WithField("repo", repository.Name).Error("refresh failed and no cached metadata exists")
			}
		}
		if err == nil || result.Stale {
			usable++
		}
		results = append(results, result)
	}

	if len(repos) > 0 && usable == 0 {
		return results, errors.New("no repository has usable metadata")
	}
	return results, nil
}

func (r *Refresher) refreshRepo(ctx context.Context, repository Repository) error {
	mirrors, err := repository.Mirrors(ctx, r.client)
	if err != nil {
		return err
	}
	keyring, err := LoadKeyring(repository.KeyPaths)
	if err != nil {
		return errors.Wrapf(err, "repository %s", repository.Name)
	}

	staging := r.store.stagingDir(repository.Name)
	if err := os.RemoveAll(staging); err != nil {
		return errors.Wrap(err, "clearing stale staging directory")
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	defer os.RemoveAll(staging)

	payload, err := r.fetchManifest(ctx, repository, mirrors, keyring, staging)
	if err != nil {
		return err
	}
	manifest, err := ParseManifest(payload, repository.Name+"/manifest")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(staging, "manifest"), payload, 0o644); err != nil {
		return errors.Wrap(err, "staging manifest")
	}
	// Only the verified payload is promoted; the raw signed forms
	// have served their purpose.
	for _, name := range []string{"InRelease", "Release", "Release.gpg"} {
		os.Remove(filepath.Join(staging, name))
	}

	tasks, err := r.planIndexTasks(repository, mirrors, manifest, staging)
	if err != nil {
		return err
	}
	if err := r.fetcher.Fetch(ctx, tasks); err != nil {
		return err
	}

	// Promotion is all-or-nothing and deliberately ignores
	// cancellation: either the new snapshot replaces the old one
	// completely or the old one stays.
	return r.store.promote(repository.Name, staging)
}

// fetchManifest acquires and verifies the signed release manifest,
// preferring the clear-signed InRelease form and falling back to
// Release plus a detached Release.gpg.
func (r *Refresher) fetchManifest(ctx context.Context, repository Repository, mirrors []string, keyring openpgp.EntityList, staging string) ([]byte, error) {
	distRoot := "/dists/" + repository.Distribution + "/"

	inRelease := filepath.Join(staging, "InRelease")
	err := r.fetcher.Fetch(ctx, []fetch.Task{{
		URLs: joinURLs(mirrors, distRoot+"InRelease"),
		Dest: inRelease,
	}})
	if err == nil {
		data, readErr := os.ReadFile(inRelease)
		if readErr != nil {
			return nil, readErr
		}
		payload, verifyErr := VerifyRelease(keyring, data, nil)
		if verifyErr != nil {
			return nil, &VerificationError{Repo: repository.Name, Err: verifyErr}
		}
		return payload, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	r.logger.WithError(err).WithField("repo", repository.Name).Debug("InRelease unavailable, trying detached signature")

	release := filepath.Join(staging, "Release")
	releaseSig := filepath.Join(staging, "Release.gpg")
	if err := r.fetcher.Fetch(ctx, []fetch.Task{
		{URLs: joinURLs(mirrors, distRoot+"Release"), Dest: release},
		{URLs: joinURLs(mirrors, distRoot+"Release.gpg"), Dest: releaseSig},
	}); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(release)
	if err != nil {
		return nil, err
	}
	sig, err := os.ReadFile(releaseSig)
	if err != nil {
		return nil, err
	}
	payload, err := VerifyRelease(keyring, data, sig)
	if err != nil {
		return nil, &VerificationError{Repo: repository.Name, Err: err}
	}
	return payload, nil
}

// planIndexTasks decides, per component and architecture, whether the
// currently promoted index already matches the new manifest (reuse) or
// must be downloaded.
func (r *Refresher) planIndexTasks(repository Repository, mirrors []string, manifest *Manifest, staging string) ([]fetch.Task, error) {
	distRoot := "/dists/" + repository.Distribution + "/"
	arches := []string{r.arch, "all"}

	var tasks []fetch.Task
	for _, component := range repository.Components {
		found := false
		for _, arch := range arches {
			choice, err := manifest.chooseIndex(component, arch)
			if errors.Is(err, errNoIndex) {
				continue
			}
			if err != nil {
				return nil, err
			}
			found = true

			dest := filepath.Join(staging, component, arch, "Packages")
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return nil, err
			}

			current := r.store.IndexPath(repository.Name, component, arch)
			if hash, err := fetch.SHA256File(current); err == nil && hash == choice.decompressed.SHA256 {
				if err := copy.Copy(current, dest); err != nil {
					return nil, errors.Wrap(err, "reusing cached index")
				}
				continue
			}

			tasks = append(tasks, fetch.Task{
				URLs:               joinURLs(mirrors, distRoot+choice.relPath),
				Dest:               dest,
				SHA256:             choice.info.SHA256,
				Size:               choice.info.Size,
				Decompress:         fetch.CompressionForPath(choice.relPath),
				DecompressedSHA256: choice.decompressed.SHA256,
			})
		}
		if !found {
			r.logger.WithFields(logrus.Fields{
				"repo":      repository.Name,
				"component": component,
				"arch":      r.arch,
			}).Warn("no index published for component; check the repository architecture")
		}
	}
	return tasks, nil
}

func joinURLs(mirrors []string, relPath string) []string {
	urls := make([]string, len(mirrors))
	for i, m := range mirrors {
		urls[i] = m + relPath
	}
	return urls
}
