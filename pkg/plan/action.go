// Package plan turns a resolved assignment and the installed snapshot
// into an ordered list of actions for the effector: removals first in
// reverse dependency order, then installs and upgrades with
// prerequisites ahead of their dependents.
package plan

import (
	"fmt"

	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/deb"
)

// Op is the kind of one action.
type Op int

const (
	Install Op = iota
	Upgrade
	Downgrade
	Remove
)

func (op Op) String() string {
	switch op {
	case Install:
		return "install"
	case Upgrade:
		return "upgrade"
	case Downgrade:
		return "downgrade"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Action is one step of the plan. Install-class actions carry the
// artifact coordinates; removals carry only the identity. From is set
// on upgrades and downgrades to the previously installed version.
type Action struct {
	Op       Op
	Name     string
	Version  deb.Version
	Arch     string
	From     *deb.Version
	Artifact *Artifact
}

// Artifact locates the binary package for an install-class action.
type Artifact struct {
	// Repo names the repository the record came from; Filename is the
	// artifact path relative to that repository's root.
	Repo     string
	Filename string
	Size     int64
	SHA256   string
}

func (a Action) String() string {
	switch a.Op {
	case Upgrade, Downgrade:
		return fmt.Sprintf("%s %s %s -> %s", a.Op, a.Name, a.From, a.Version)
	case Remove:
		return fmt.Sprintf("%s %s=%s", a.Op, a.Name, a.Version)
	default:
		return fmt.Sprintf("%s %s=%s", a.Op, a.Name, a.Version)
	}
}

func artifactOf(r *catalog.Record) *Artifact {
	if r.Filename == "" {
		return nil
	}
	return &Artifact{
		Repo:     r.Repo,
		Filename: r.Filename,
		Size:     r.Size,
		SHA256:   r.SHA256,
	}
}
