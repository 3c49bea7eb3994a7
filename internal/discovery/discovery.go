package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/stackd/internal/descriptor"
)

// Ports assigned to units that declare none come from this reserved range,
// in sorted-name order, so repeated scans hand out identical ports.
const (
	AutoPortBase  = 4100
	AutoPortLimit = 4200
)

// Error reports one malformed unit file. The scan skips the candidate and
// keeps going; a bad file never aborts discovery.
type Error struct {
	Unit string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discover %s (%s): %v", e.Unit, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// unitFile mirrors the TOML schema of one unit descriptor file.
type unitFile struct {
	Name       string   `mapstructure:"name"`
	Command    string   `mapstructure:"command"`
	WorkDir    string   `mapstructure:"workdir"`
	Port       int      `mapstructure:"port"`
	Group      string   `mapstructure:"group"`
	HealthPath string   `mapstructure:"health_path"`
	Env        []string `mapstructure:"env"`
}

// Scan reads every *.toml unit file under dir and returns the resulting
// descriptors sorted by name, independent of filesystem iteration order.
// Each malformed candidate contributes one *Error; valid candidates are
// unaffected. Scan itself is read-only.
func Scan(dir string) ([]descriptor.Descriptor, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read units dir %s: %w", dir, err)}
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	var descs []descriptor.Descriptor
	var errs []error
	seen := make(map[string]string) // name -> path
	for _, path := range paths {
		stem := strings.TrimSuffix(filepath.Base(path), ".toml")
		d, err := parseUnit(path, stem)
		if err != nil {
			errs = append(errs, &Error{Unit: stem, Path: path, Err: err})
			continue
		}
		if prev, dup := seen[d.Name]; dup {
			errs = append(errs, &Error{Unit: d.Name, Path: path, Err: fmt.Errorf("duplicate unit name (also declared in %s)", prev)})
			continue
		}
		seen[d.Name] = path
		descs = append(descs, d)
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	assignPorts(descs)
	return descs, errs
}

func parseUnit(path, stem string) (descriptor.Descriptor, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return descriptor.Descriptor{}, err
	}
	var uf unitFile
	if err := v.Unmarshal(&uf); err != nil {
		return descriptor.Descriptor{}, err
	}
	name := strings.TrimSpace(uf.Name)
	if name == "" {
		name = stem
	}
	if strings.ContainsAny(name, " \t/\\") {
		return descriptor.Descriptor{}, fmt.Errorf("invalid unit name %q", name)
	}
	if strings.TrimSpace(uf.Command) == "" {
		return descriptor.Descriptor{}, fmt.Errorf("unit %s declares no command", name)
	}
	group, err := descriptor.ParseGroup(uf.Group)
	if err != nil {
		return descriptor.Descriptor{}, err
	}
	if uf.Port < 0 || uf.Port > 65535 {
		return descriptor.Descriptor{}, fmt.Errorf("unit %s declares invalid port %d", name, uf.Port)
	}
	return descriptor.Descriptor{
		Name:       name,
		Command:    uf.Command,
		WorkDir:    uf.WorkDir,
		Port:       uf.Port,
		Group:      group,
		HealthPath: uf.HealthPath,
		Env:        uf.Env,
	}, nil
}

// assignPorts hands reserved-range ports to units that declared none.
// descs must already be name-sorted so the assignment is deterministic.
func assignPorts(descs []descriptor.Descriptor) {
	taken := make(map[int]bool)
	for _, d := range descs {
		if d.Port > 0 {
			taken[d.Port] = true
		}
	}
	next := AutoPortBase
	for i := range descs {
		if descs[i].Port > 0 {
			continue
		}
		for next < AutoPortLimit && taken[next] {
			next++
		}
		if next >= AutoPortLimit {
			return
		}
		descs[i].Port = next
		taken[next] = true
	}
}
