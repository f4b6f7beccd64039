package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/praxis-pm/praxis/pkg/blueprint"
	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/config"
	"github.com/praxis-pm/praxis/pkg/deb"
	"github.com/praxis-pm/praxis/pkg/effector"
	"github.com/praxis-pm/praxis/pkg/fetch"
	"github.com/praxis-pm/praxis/pkg/installed"
	"github.com/praxis-pm/praxis/pkg/plan"
	"github.com/praxis-pm/praxis/pkg/repo"
	"github.com/praxis-pm/praxis/pkg/resolver"
)

// app carries the CLI's flag state and shared collaborators.
type app struct {
	root       string
	configRoot string
	cacheRoot  string
	debug      bool
	dryRun     bool
	unpackOnly bool

	logger *logrus.Logger
}

func newApp() *app {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &app{logger: logger}
}

func (a *app) layout() config.Layout {
	return config.Layout{ConfigRoot: a.configRoot, CacheRoot: a.cacheRoot}
}

func (a *app) loadConfig() (*config.Config, []repo.Repository, error) {
	layout := a.layout()
	cfg, err := config.Load(layout.ConfigFile())
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Repositories(layout.KeysDir()), nil
}

// refresh acquires fresh metadata for every configured repository.
func (a *app) refresh(ctx context.Context) error {
	cfg, repos, err := a.loadConfig()
	if err != nil {
		return err
	}
	store := repo.NewStore(a.layout().MetadataRoot(), a.logger)
	fetcher := fetch.New(a.logger)
	refresher := repo.NewRefresher(store, fetcher, cfg.Arch, a.logger)
	_, err = refresher.RefreshAll(ctx, repos)
	return err
}

// mutation captures the blueprint edits requested by the install and
// remove subcommands.
type mutation struct {
	install []string
	remove  []string
}

// execute is the reconciliation pipeline: refresh, load, optionally
// mutate the blueprint, resolve, plan, apply.
func (a *app) execute(ctx context.Context, mutate func(*mutation)) error {
	cfg, repos, err := a.loadConfig()
	if err != nil {
		return err
	}
	layout := a.layout()

	store := repo.NewStore(layout.MetadataRoot(), a.logger)
	fetcher := fetch.New(a.logger)
	refresher := repo.NewRefresher(store, fetcher, cfg.Arch, a.logger)
	if _, err := refresher.RefreshAll(ctx, repos); err != nil {
		return err
	}

	sources := store.Sources(repos, []string{cfg.Arch, "all"})
	if len(sources) == 0 {
		return errors.New("no package indices available; run refresh against a reachable repository")
	}
	a.logger.Debug("loading package indices")
	cat, err := catalog.Load(ctx, sources, a.logger)
	if err != nil {
		return err
	}
	if fingerprint, err := cat.Fingerprint(); err == nil {
		a.logger.WithFields(logrus.Fields{
			"packages":    cat.Len(),
			"fingerprint": fingerprint,
		}).Debug("catalog loaded")
	}

	bp, err := blueprint.Load(layout.UserBlueprint(), layout.OverlayDir())
	if err != nil {
		return err
	}
	if mutate != nil {
		var m mutation
		mutate(&m)
		if err := a.applyMutation(bp, &m); err != nil {
			return err
		}
		if err := bp.Save(); err != nil {
			return err
		}
	}

	snapshot, err := installed.Read(installed.StatusPath(a.root))
	if err != nil {
		return err
	}

	a.logger.Info("resolving dependencies")
	selected, err := resolver.New(a.logger).Resolve(ctx, cat, bp.Entries(), snapshot, cfg.Arch)
	if err != nil {
		return err
	}

	actions := plan.New(a.logger).Build(selected, snapshot, cat)
	if len(actions) == 0 {
		a.logger.Info("nothing to do")
		return nil
	}

	lines := make([]string, len(actions))
	for i, action := range actions {
		lines[i] = action.String()
	}
	printPlan(os.Stdout, "The following actions will be performed:", lines)
	if a.dryRun {
		return nil
	}

	mirrors, err := effector.MirrorsFromRepositories(ctx, repos, &http.Client{})
	if err != nil {
		return err
	}
	eff := effector.NewDpkg(a.root, layout.PackageCache(), fetcher, mirrors, a.logger)
	eff.UnpackOnly = a.unpackOnly || a.root != "/"
	return eff.Apply(ctx, actions)
}

// applyMutation translates install/remove arguments into blueprint
// edits. An install argument may pin an exact version as NAME=VERSION.
func (a *app) applyMutation(bp *blueprint.Blueprint, m *mutation) error {
	for _, arg := range m.install {
		name := arg
		var predicates []deb.Predicate
		if i := strings.IndexByte(arg, '='); i >= 0 {
			name = arg[:i]
			pinned, err := deb.ParseVersion(arg[i+1:])
			if err != nil {
				return errors.Wrapf(err, "install argument %q", arg)
			}
			predicates = append(predicates, deb.Predicate{Op: deb.OpEqual, Version: pinned})
		}
		if err := bp.Add(name, predicates); err != nil {
			return err
		}
	}
	for _, name := range m.remove {
		if err := bp.Remove(name); err != nil {
			return err
		}
	}
	return nil
}
