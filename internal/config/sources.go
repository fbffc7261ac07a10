package config

// SourcesConfig describes every upstream source, the logical models routed
// to them, and the probe blacklist.
type SourcesConfig struct {
	Sources          map[string]SourceConfig `yaml:"sources"`
	Models           []ModelConfig           `yaml:"models"`
	Blacklist        []string                `yaml:"blacklist"`
	MultimodalSuffix string                  `yaml:"multimodal_suffix"`
}

type SourceConfig struct {
	Rank         int                `yaml:"rank"`
	BaseURL      string             `yaml:"base_url"`
	MaxContext   int                `yaml:"max_context"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	// Models maps a logical model name to the provider's model id. A null
	// value marks the model as unsupported by this source.
	Models  map[string]*string    `yaml:"models"`
	Pricing map[string]PriceEntry `yaml:"pricing"`
}

type CapabilitiesConfig struct {
	OpenAI bool `yaml:"openai"`
	Curl   bool `yaml:"curl"`
}

// PriceEntry is either a flat unit price or an input/output pair, keyed by
// provider model id.
type PriceEntry struct {
	Flat   *float64 `yaml:"flat,omitempty"`
	Input  *float64 `yaml:"input,omitempty"`
	Output *float64 `yaml:"output,omitempty"`
}

type ModelConfig struct {
	Name            string `yaml:"name"`
	Kind            string `yaml:"kind"`
	MappingBase     string `yaml:"mapping_base,omitempty"`
	BlacklistParent string `yaml:"blacklist_parent,omitempty"`
	Multimodal      bool   `yaml:"multimodal,omitempty"`
}

// CredentialsConfig holds the local credential pools, source -> ordered
// accounts -> ordered keys.
type CredentialsConfig struct {
	Pools map[string][]AccountConfig `yaml:"pools"`
}

type AccountConfig struct {
	Name string      `yaml:"name"`
	Keys []KeyConfig `yaml:"keys"`
}

type KeyConfig struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
}

// Keys flattens a source pool in enumeration order.
func (c *CredentialsConfig) Keys(source string) []string {
	if c == nil {
		return nil
	}
	var keys []string
	for _, acct := range c.Pools[source] {
		for _, k := range acct.Keys {
			keys = append(keys, k.APIKey)
		}
	}
	return keys
}

// Variant returns the model's mapping base and blacklist parent. Explicit
// fields win; otherwise a name ending in suffix derives both from the
// unsuffixed name.
func (m ModelConfig) Variant(suffix string) (mappingBase, blacklistParent string) {
	mappingBase, blacklistParent = m.MappingBase, m.BlacklistParent
	if suffix == "" || len(m.Name) <= len(suffix) || m.Name[len(m.Name)-len(suffix):] != suffix {
		return mappingBase, blacklistParent
	}
	base := m.Name[:len(m.Name)-len(suffix)]
	if mappingBase == "" {
		mappingBase = base
	}
	if blacklistParent == "" {
		blacklistParent = base
	}
	return mappingBase, blacklistParent
}
