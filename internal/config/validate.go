package config

import (
	"fmt"
	"sort"
)

// Report collects configuration problems. Errors make the configuration
// unusable; warnings are worth a look.
type Report struct {
	Errors   []string
	Warnings []string
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// OK reports whether no errors were found.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Validate cross-checks the sources and credentials configuration.
func Validate(sources *SourcesConfig, creds *CredentialsConfig) *Report {
	r := &Report{}
	if sources == nil {
		r.errorf("sources config is missing")
		return r
	}
	if len(sources.Sources) == 0 {
		r.errorf("no sources configured")
	}

	declared := make(map[string]bool, len(sources.Models))
	for _, m := range sources.Models {
		if m.Name == "" {
			r.errorf("model entry with empty name")
			continue
		}
		if declared[m.Name] {
			r.errorf("model %q declared twice", m.Name)
		}
		declared[m.Name] = true
	}

	for _, m := range sources.Models {
		base, parent := m.Variant(sources.MultimodalSuffix)
		if base != "" && !declared[base] {
			r.errorf("model %q maps to undeclared base %q", m.Name, base)
		}
		if parent != "" && !declared[parent] {
			r.errorf("model %q has undeclared blacklist parent %q", m.Name, parent)
		}
	}

	for _, name := range sources.Blacklist {
		if !declared[name] {
			r.errorf("blacklisted model %q is not declared", name)
		}
	}

	ranks := make(map[int]string)
	for _, name := range sortedSourceNames(sources) {
		src := sources.Sources[name]
		if other, ok := ranks[src.Rank]; ok {
			r.warnf("sources %q and %q share rank %d", other, name, src.Rank)
		} else {
			ranks[src.Rank] = name
		}
		if src.BaseURL == "" {
			r.errorf("source %q has no base_url", name)
		}

		for _, m := range sources.Models {
			if _, ok := src.Models[m.Name]; !ok {
				r.warnf("source %q has no mapping entry for model %q", name, m.Name)
			}
		}
		for logical, provider := range src.Models {
			if !declared[logical] {
				r.warnf("source %q maps undeclared model %q", name, logical)
			}
			if provider == nil {
				continue
			}
			if _, ok := src.Pricing[*provider]; !ok {
				r.warnf("source %q has no price for provider model %q", name, *provider)
			}
		}
		for provider := range src.Pricing {
			if !mapsTo(src.Models, provider) {
				r.warnf("source %q prices unmapped provider model %q", name, provider)
			}
		}

		if creds != nil && len(creds.Keys(name)) == 0 {
			r.warnf("source %q has no credentials", name)
		}
	}

	if creds != nil {
		for source, accounts := range creds.Pools {
			if _, ok := sources.Sources[source]; !ok {
				r.errorf("credential pool for undeclared source %q", source)
			}
			for _, acct := range accounts {
				for _, k := range acct.Keys {
					if k.APIKey == "" {
						r.errorf("source %q account %q key %q has an empty api_key", source, acct.Name, k.Name)
					}
				}
			}
		}
	}

	sort.Strings(r.Errors)
	sort.Strings(r.Warnings)
	return r
}

// SourceCoverage counts, for every declared model, the sources able to serve
// it after falling back to the mapping base.
func SourceCoverage(sources *SourcesConfig) map[string]int {
	coverage := make(map[string]int, len(sources.Models))
	for _, m := range sources.Models {
		base, _ := m.Variant(sources.MultimodalSuffix)
		n := 0
		for _, src := range sources.Sources {
			if p, ok := src.Models[m.Name]; ok && p != nil {
				n++
				continue
			}
			if base == "" {
				continue
			}
			if p, ok := src.Models[base]; ok && p != nil {
				n++
			}
		}
		coverage[m.Name] = n
	}
	return coverage
}

func mapsTo(models map[string]*string, provider string) bool {
	for _, p := range models {
		if p != nil && *p == provider {
			return true
		}
	}
	return false
}

func sortedSourceNames(sources *SourcesConfig) []string {
	names := make([]string, 0, len(sources.Sources))
	for name := range sources.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
