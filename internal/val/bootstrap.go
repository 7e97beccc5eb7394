package val

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderSpec is one entry in the bootstrap registry file: which
// adapter to construct, under what name, and with which capabilities it
// should be selectable under StrategyCapability.
type ProviderSpec struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"` // e.g. "openai", "local", "stub"
	Endpoint     string   `yaml:"endpoint,omitempty"`
	Model        string   `yaml:"model,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"`
}

// BootstrapConfig is the process-wide seed for the embedding and
// summarization provider registries, read once at startup. It is
// distinct from the per-tenant configuration DSL (internal/dsl), which
// governs runtime behavior rather than which adapters exist at all.
type BootstrapConfig struct {
	EmbeddingProviders     []ProviderSpec `yaml:"embedding_providers"`
	SummarizationProviders []ProviderSpec `yaml:"summarization_providers"`
}

// LoadBootstrapConfig reads and parses the registry seed file.
func LoadBootstrapConfig(path string) (*BootstrapConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg BootstrapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindProviderSpec looks up a provider spec by name, the way
// agents.GetAgentConfig finds a team member by name.
func FindProviderSpec(specs []ProviderSpec, name string) *ProviderSpec {
	for i := range specs {
		if specs[i].Name == name {
			return &specs[i]
		}
	}
	return nil
}
