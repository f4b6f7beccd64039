package effector

import (
	"context"
	"net/http"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/praxis-pm/praxis/pkg/fetch"
	"github.com/praxis-pm/praxis/pkg/plan"
	"github.com/praxis-pm/praxis/pkg/repo"
)

// Dpkg applies actions by fetching the required artifacts into a
// package cache and invoking dpkg against the configured root. When
// UnpackOnly is set (operating on an alternative root), packages are
// unpacked but not configured.
type Dpkg struct {
	Root       string
	CacheDir   string
	Fetcher    *fetch.Fetcher
	Mirrors    func(repoName string) []string
	UnpackOnly bool
	Logger     logrus.FieldLogger

	// run is swapped in tests.
	run func(ctx context.Context, args []string) error
}

// NewDpkg builds the reference effector. mirrors maps a repository
// name to its ordered base URLs, as resolved during refresh.
func NewDpkg(root, cacheDir string, fetcher *fetch.Fetcher, mirrors map[string][]string, logger logrus.FieldLogger) *Dpkg {
	d := &Dpkg{
		Root:     root,
		CacheDir: cacheDir,
		Fetcher:  fetcher,
		Mirrors: func(name string) []string {
			return mirrors[name]
		},
		Logger: logger,
	}
	d.run = d.execDpkg
	return d
}

// Apply downloads every needed artifact up front, then walks the
// action stream in order, aborting on the first failure.
func (d *Dpkg) Apply(ctx context.Context, actions []plan.Action) error {
	paths, err := d.fetchArtifacts(ctx, actions)
	if err != nil {
		return err
	}

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		var args []string
		switch action.Op {
		case plan.Remove:
			args = []string{"--remove", action.Name}
		case plan.Install, plan.Upgrade, plan.Downgrade:
			mode := "--install"
			if d.UnpackOnly {
				mode = "--unpack"
			}
			args = []string{mode, paths[action.Name]}
		}
		d.Logger.WithField("action", action.String()).Info("applying")
		if err := d.run(ctx, args); err != nil {
			return &FailureError{Action: action, Err: err}
		}
	}
	return nil
}

func (d *Dpkg) fetchArtifacts(ctx context.Context, actions []plan.Action) (map[string]string, error) {
	paths := make(map[string]string)
	var tasks []fetch.Task
	for _, action := range actions {
		if action.Artifact == nil {
			if action.Op != plan.Remove {
				return nil, errors.Errorf("action %s has no artifact", action)
			}
			continue
		}
		mirrors := d.Mirrors(action.Artifact.Repo)
		if len(mirrors) == 0 {
			return nil, errors.Errorf("no mirrors known for repository %s", action.Artifact.Repo)
		}
		urls := make([]string, len(mirrors))
		for i, m := range mirrors {
			urls[i] = m + "/" + action.Artifact.Filename
		}
		dest := filepath.Join(d.CacheDir, filepath.Base(action.Artifact.Filename))
		paths[action.Name] = dest
		tasks = append(tasks, fetch.Task{
			URLs:   urls,
			Dest:   dest,
			SHA256: action.Artifact.SHA256,
			Size:   action.Artifact.Size,
		})
	}
	if len(tasks) == 0 {
		return paths, nil
	}
	if err := d.Fetcher.Fetch(ctx, tasks); err != nil {
		return nil, err
	}
	return paths, nil
}

func (d *Dpkg) execDpkg(ctx context.Context, args []string) error {
	full := append([]string{"--root", d.Root, "--force-all"}, args...)
	cmd := exec.CommandContext(ctx, "dpkg", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "dpkg %v: %s", args, out)
	}
	return nil
}

var _ Effector = (*Dpkg)(nil)
var _ Effector = (*Recorder)(nil)

// MirrorsFromRepositories resolves each repository's mirror list once
// for use by the effector.
func MirrorsFromRepositories(ctx context.Context, repos []repo.Repository, client *http.Client) (map[string][]string, error) {
	result := make(map[string][]string, len(repos))
	for _, r := range repos {
		mirrors, err := r.Mirrors(ctx, client)
		if err != nil {
			return nil, err
		}
		result[r.Name] = mirrors
	}
	return result, nil
}
