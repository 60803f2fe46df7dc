package config

import "reflect"

// ConfigDiff describes what changed between two configs. The strategy
// registry and provider set are fixed at startup, so Diff exists purely to
// tell a supervisor what changed and, via [ConfigDiff.RegistryAffecting],
// whether a restart is needed, never to drive a hot-reload.
type ConfigDiff struct {
	ServerChanged    bool
	ProvidersChanged bool
	AuthorityChanged bool
	EntitiesChanged  bool
	RerankChanged    bool
	TaxaChanged      bool
}

// Changed reports whether any section differs.
func (d ConfigDiff) Changed() bool {
	return d.ServerChanged || d.ProvidersChanged || d.AuthorityChanged || d.EntitiesChanged || d.RerankChanged || d.TaxaChanged
}

// RegistryAffecting reports whether the change touches the provider or
// entity-strategy registry, which is assembled once at startup and never
// mutated afterward.
func (d ConfigDiff) RegistryAffecting() bool {
	return d.ProvidersChanged || d.EntitiesChanged || d.TaxaChanged
}

// Diff compares old and new configs section by section.
func Diff(old, new *Config) ConfigDiff {
	return ConfigDiff{
		ServerChanged:    !reflect.DeepEqual(old.Server, new.Server),
		ProvidersChanged: !reflect.DeepEqual(old.Providers, new.Providers),
		AuthorityChanged: !reflect.DeepEqual(old.Authority, new.Authority),
		EntitiesChanged:  !reflect.DeepEqual(old.Entities, new.Entities),
		RerankChanged:    !reflect.DeepEqual(old.LLMRerank, new.LLMRerank),
		TaxaChanged:      !reflect.DeepEqual(old.Taxa, new.Taxa),
	}
}
