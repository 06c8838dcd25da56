package addon

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/turtacn/Lingua/pkg/errors"
	"github.com/turtacn/Lingua/pkg/protocol"
)

// Addon describes the package a script belongs to.
// Instances are shared by reference between the registry, workers and invokers.
type Addon struct {
	ID       string
	Name     string
	Version  *semver.Version
	Script   string
	Args     []string
	Reusable bool
}

// New creates an Addon, parsing version as a semantic version.
func New(id, name, version string) (*Addon, error) {
	if id == "" {
		return nil, errors.New(errors.ErrCodeAddonInvalid, "NewAddon", "empty addon id", nil)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, errors.New(errors.ErrCodeAddonInvalid, "NewAddon", fmt.Sprintf("invalid version %q for %s", version, id), err)
	}
	return &Addon{ID: id, Name: name, Version: v}, nil
}

// FromConfig builds an Addon from its configuration entry.
func FromConfig(c protocol.AddonConfig) (*Addon, error) {
	a, err := New(c.ID, c.Name, c.Version)
	if err != nil {
		return nil, err
	}
	a.Script = c.Script
	a.Args = append([]string(nil), c.Args...)
	a.Reusable = c.Reusable
	return a, nil
}

// Satisfies reports whether the addon version matches a constraint such as ">= 1.2".
func (a *Addon) Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(a.Version), nil
}

func (a *Addon) String() string {
	if a == nil {
		return "<none>"
	}
	return a.ID + "@" + a.Version.String()
}

// Personal.AI order the ending
