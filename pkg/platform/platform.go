// Package platform holds the built-in platform scene tables, the payload
// shaping applied before items are queued and the custom actions the
// scene tables call.
package platform

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devicelab-dev/publish-agent/pkg/core"
	"github.com/devicelab-dev/publish-agent/pkg/flow"
)

//go:embed scenes/*.yaml
var builtin embed.FS

// Names lists the built-in platforms.
func Names() []string {
	entries, err := fs.ReadDir(builtin, "scenes")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if n, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Source returns the built-in scene file for name.
func Source(name string) ([]byte, error) {
	data, err := builtin.ReadFile("scenes/" + name + ".yaml")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrInvalidConfig.WithMessagef("unknown platform %q (built-in: %s)", name, strings.Join(Names(), ", "))
	}
	return data, err
}

// Load parses the scene table for name. A file named <name>.yaml or
// <name>.yml in dir replaces the built-in table.
func Load(name, dir string) (*flow.Platform, error) {
	if dir != "" {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return flow.ParseFile(path)
			}
		}
	}
	data, err := Source(name)
	if err != nil {
		return nil, err
	}
	p, err := flow.Parse(data, "builtin:"+name+".yaml")
	if err != nil {
		return nil, err
	}
	if p.Config.Name == "" {
		p.Config.Name = name
	}
	return p, nil
}
