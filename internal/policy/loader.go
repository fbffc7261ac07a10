package policy

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// readBundle collects the routing modules under path, which may be a single
// .rego file or a directory tree. Modules are keyed by their slash separated
// path relative to the bundle root. Rego unit tests (*_test.rego) and hidden
// directories are skipped. names is sorted.
func readBundle(path string) (names []string, modules map[string]string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	modules = make(map[string]string)
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		name := filepath.Base(path)
		modules[name] = string(data)
		return []string{name}, modules, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isModule(d.Name()) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		modules[name] = string(data)
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(names)
	return names, modules, nil
}

func isModule(name string) bool {
	return filepath.Ext(name) == ".rego" && !strings.HasSuffix(name, "_test.rego")
}
