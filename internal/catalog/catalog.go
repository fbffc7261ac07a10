package catalog

import (
	"sort"
	"strings"

	"github.com/af-corp/aegis-router/internal/config"
)

// Source is one upstream provider endpoint family.
type Source struct {
	Name         string
	Rank         int
	BaseURL      string
	MaxContext   int
	Capabilities config.CapabilitiesConfig

	models  map[string]*string
	pricing map[string]config.PriceEntry
}

// Model is a logical model name. MappingBase is consulted when the source
// has no usable entry for the model itself; BlacklistParent extends a
// blacklist entry on the parent to this model.
type Model struct {
	Name            string
	Kind            string
	MappingBase     string
	BlacklistParent string
	Multimodal      bool
}

// Pair is a (source, logical model) combination together with the provider
// model id that serves it.
type Pair struct {
	Source        string
	Model         string
	ProviderModel string
}

// Catalog is an immutable view over the sources configuration. Rebuild it
// on config reload instead of mutating it.
type Catalog struct {
	sources   []Source
	byName    map[string]int
	models    []Model
	byModel   map[string]int
	blacklist map[string]bool
}

// New builds a catalog. Sources are kept ordered by (rank, name).
func New(cfg *config.SourcesConfig) *Catalog {
	c := &Catalog{
		byName:    make(map[string]int),
		byModel:   make(map[string]int),
		blacklist: make(map[string]bool),
	}
	if cfg == nil {
		return c
	}

	for name, sc := range cfg.Sources {
		c.sources = append(c.sources, Source{
			Name:         name,
			Rank:         sc.Rank,
			BaseURL:      sc.BaseURL,
			MaxContext:   sc.MaxContext,
			Capabilities: sc.Capabilities,
			models:       sc.Models,
			pricing:      sc.Pricing,
		})
	}
	sort.Slice(c.sources, func(i, j int) bool {
		if c.sources[i].Rank != c.sources[j].Rank {
			return c.sources[i].Rank < c.sources[j].Rank
		}
		return c.sources[i].Name < c.sources[j].Name
	})
	for i, s := range c.sources {
		c.byName[s.Name] = i
	}

	for _, mc := range cfg.Models {
		base, parent := mc.Variant(cfg.MultimodalSuffix)
		c.byModel[mc.Name] = len(c.models)
		c.models = append(c.models, Model{
			Name:            mc.Name,
			Kind:            mc.Kind,
			MappingBase:     base,
			BlacklistParent: parent,
			Multimodal:      mc.Multimodal || (cfg.MultimodalSuffix != "" && strings.HasSuffix(mc.Name, cfg.MultimodalSuffix)),
		})
	}
	for _, name := range cfg.Blacklist {
		c.blacklist[name] = true
	}
	return c
}

// Sources returns every source in static rank order.
func (c *Catalog) Sources() []Source {
	return append([]Source(nil), c.sources...)
}

func (c *Catalog) Source(name string) (Source, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Source{}, false
	}
	return c.sources[i], true
}

// Rank returns the static rank of a source, or a rank worse than every
// configured source when it is unknown.
func (c *Catalog) Rank(source string) int {
	if i, ok := c.byName[source]; ok {
		return c.sources[i].Rank
	}
	worst := 0
	for _, s := range c.sources {
		if s.Rank > worst {
			worst = s.Rank
		}
	}
	return worst + 1
}

func (c *Catalog) Models() []Model {
	return append([]Model(nil), c.models...)
}

// Model looks up a declared model. Models that only appear in source
// mappings are returned with just a name.
func (c *Catalog) Model(name string) (Model, bool) {
	if i, ok := c.byModel[name]; ok {
		return c.models[i], true
	}
	for _, s := range c.sources {
		if _, ok := s.models[name]; ok {
			return Model{Name: name}, true
		}
	}
	return Model{}, false
}

// Resolve returns the provider model id that serves model on source.
func (c *Catalog) Resolve(source, model string) (string, bool) {
	i, ok := c.byName[source]
	if !ok {
		return "", false
	}
	s := c.sources[i]
	if p, ok := s.models[model]; ok && p != nil {
		return *p, true
	}
	m, declared := c.Model(model)
	if !declared || m.MappingBase == "" || m.MappingBase == model {
		return "", false
	}
	if p, ok := s.models[m.MappingBase]; ok && p != nil {
		return *p, true
	}
	return "", false
}

func (c *Catalog) Supports(source, model string) bool {
	_, ok := c.Resolve(source, model)
	return ok
}

// SupportingSources lists the sources able to serve model, in rank order.
func (c *Catalog) SupportingSources(model string) []Source {
	var out []Source
	for _, s := range c.sources {
		if c.Supports(s.Name, model) {
			out = append(out, s)
		}
	}
	return out
}

// IsBlacklisted reports whether model is excluded from probing. A listed
// parent excludes its variants; a listed variant leaves the parent alone.
func (c *Catalog) IsBlacklisted(model string) bool {
	if c.blacklist[model] {
		return true
	}
	m, ok := c.Model(model)
	return ok && m.BlacklistParent != "" && c.blacklist[m.BlacklistParent]
}

// UnitPrice returns the weighted unit price of model on source, or sentinel
// when any part of the price is unknown.
func (c *Catalog) UnitPrice(source, model string, inputWeight, outputWeight, sentinel float64) float64 {
	provider, ok := c.Resolve(source, model)
	if !ok {
		return sentinel
	}
	s := c.sources[c.byName[source]]
	entry, ok := s.pricing[provider]
	if !ok {
		return sentinel
	}
	return Price(entry, inputWeight, outputWeight, sentinel)
}

// Price computes the weighted unit price of one entry.
func Price(entry config.PriceEntry, inputWeight, outputWeight, sentinel float64) float64 {
	if entry.Flat != nil {
		return *entry.Flat
	}
	if entry.Input == nil || entry.Output == nil {
		return sentinel
	}
	total := inputWeight + outputWeight
	if total <= 0 {
		return sentinel
	}
	return (*entry.Input*inputWeight + *entry.Output*outputWeight) / total
}

// ProbePairs lists every non-blacklisted (source, model) pair that resolves
// to a provider model, in model then rank order.
func (c *Catalog) ProbePairs() []Pair {
	var pairs []Pair
	for _, m := range c.models {
		if c.IsBlacklisted(m.Name) {
			continue
		}
		for _, s := range c.sources {
			if p, ok := c.Resolve(s.Name, m.Name); ok {
				pairs = append(pairs, Pair{Source: s.Name, Model: m.Name, ProviderModel: p})
			}
		}
	}
	return pairs
}

// AllPairs lists every declared model on every source, resolvable or not.
func (c *Catalog) AllPairs() []Pair {
	pairs := make([]Pair, 0, len(c.models)*len(c.sources))
	for _, m := range c.models {
		for _, s := range c.sources {
			p, _ := c.Resolve(s.Name, m.Name)
			pairs = append(pairs, Pair{Source: s.Name, Model: m.Name, ProviderModel: p})
		}
	}
	return pairs
}
