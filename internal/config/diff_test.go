package config_test

import (
	"testing"

	"github.com/humlab-sead/sead-reconciler/internal/config"
)

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no change, got %+v", d)
	}
}

func TestDiff_ServerChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{ListenAddr: ":8080"}}
	updated := &config.Config{Server: config.ServerConfig{ListenAddr: ":9090"}}
	d := config.Diff(old, updated)
	if !d.ServerChanged || !d.Changed() {
		t.Errorf("expected ServerChanged, got %+v", d)
	}
	if d.RegistryAffecting() {
		t.Error("server-only change should not be registry affecting")
	}
}

func TestDiff_EntitiesChangedIsRegistryAffecting(t *testing.T) {
	t.Parallel()
	old := &config.Config{Entities: []config.EntityConfig{{ID: "taxon"}}}
	updated := &config.Config{Entities: []config.EntityConfig{{ID: "taxon"}, {ID: "site"}}}
	d := config.Diff(old, updated)
	if !d.EntitiesChanged {
		t.Errorf("expected EntitiesChanged, got %+v", d)
	}
	if !d.RegistryAffecting() {
		t.Error("expected entity change to be registry affecting")
	}
}

func TestDiff_ProvidersChangedIsRegistryAffecting(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "openai"}}}
	updated := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "anyllm"}}}
	d := config.Diff(old, updated)
	if !d.ProvidersChanged || !d.RegistryAffecting() {
		t.Errorf("expected ProvidersChanged + RegistryAffecting, got %+v", d)
	}
}
