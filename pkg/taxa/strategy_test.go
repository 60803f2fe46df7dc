package taxa_test

import (
	"context"
	"testing"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	authoritymock "github.com/humlab-sead/sead-reconciler/pkg/authority/mock"
	"github.com/humlab-sead/sead-reconciler/pkg/strategy"
	"github.com/humlab-sead/sead-reconciler/pkg/taxa"
)

func TestStrategyAdapter_SatisfiesStrategyInterface(t *testing.T) {
	speciesStore := authoritymock.New()
	speciesStore.Seed("taxa_species", []authority.Row{
		{ID: 10, Label: "Betula pendula", NormLabel: "betula pendula"},
	})
	defaults := strategy.Defaults{KTrgm: 30, KSem: 30, KFinal: 20, Alpha: 1.0}
	species := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_species",
		Spec: authority.TableSpec{Table: "taxa_species", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, speciesStore, nil, defaults, "https://data.sead.se/id")
	genus := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_genus",
		Spec: authority.TableSpec{Table: "taxa_genus", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, authoritymock.New(), nil, defaults, "https://data.sead.se/id")

	orch := taxa.New(species, genus, nil)
	props := []strategy.PropertyDescriptor{{ID: "country", Name: "Country", Type: strategy.PropertyString}}
	adapter := taxa.NewStrategyAdapter(orch, species, "Taxon", props, "https://data.sead.se/id")

	var s strategy.Strategy = adapter
	if s.Descriptor().Name != taxa.EntityName {
		t.Fatalf("expected descriptor name %q, got %q", taxa.EntityName, s.Descriptor().Name)
	}
	if s.Descriptor().DisplayName != "Taxon" {
		t.Fatalf("expected display name Taxon, got %q", s.Descriptor().DisplayName)
	}

	got := s.ListProperties()
	if len(got) != 1 || got[0].ID != "country" {
		t.Fatalf("expected properties passed through, got %+v", got)
	}
	got[0].ID = "mutated"
	if s.ListProperties()[0].ID != "country" {
		t.Fatal("ListProperties must return a defensive copy")
	}

	if uri := s.CanonicalURI(10); uri != "https://data.sead.se/id/taxon/10" {
		t.Fatalf("unexpected canonical uri: %s", uri)
	}
}

func TestStrategyAdapter_SearchIgnoresMode(t *testing.T) {
	speciesStore := authoritymock.New()
	speciesStore.Seed("taxa_species", []authority.Row{
		{ID: 10, Label: "Betula pendula", NormLabel: "betula pendula"},
	})
	defaults := strategy.Defaults{KTrgm: 30, KSem: 30, KFinal: 20, Alpha: 1.0}
	species := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_species",
		Spec: authority.TableSpec{Table: "taxa_species", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, speciesStore, nil, defaults, "https://data.sead.se/id")
	genus := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_genus",
		Spec: authority.TableSpec{Table: "taxa_genus", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, authoritymock.New(), nil, defaults, "https://data.sead.se/id")

	orch := taxa.New(species, genus, nil)
	adapter := taxa.NewStrategyAdapter(orch, species, "Taxon", nil, "https://data.sead.se/id")

	got, err := adapter.Search(context.Background(), "Betula pendula", 10, nil, "some-unused-mode")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 10 {
		t.Fatalf("got %+v", got)
	}
}

func TestStrategyAdapter_PreviewDelegatesToGetByID(t *testing.T) {
	speciesStore := authoritymock.New()
	speciesStore.Seed("taxa_species", []authority.Row{
		{ID: 10, Label: "Betula pendula", NormLabel: "betula pendula"},
	})
	defaults := strategy.Defaults{KTrgm: 30, KSem: 30, KFinal: 20, Alpha: 1.0}
	species := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_species",
		Spec: authority.TableSpec{Table: "taxa_species", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, speciesStore, nil, defaults, "https://data.sead.se/id")
	genus := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_genus",
		Spec: authority.TableSpec{Table: "taxa_genus", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, authoritymock.New(), nil, defaults, "https://data.sead.se/id")

	orch := taxa.New(species, genus, nil)
	adapter := taxa.NewStrategyAdapter(orch, species, "Taxon", nil, "https://data.sead.se/id")

	preview, err := adapter.Preview(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if preview == nil || preview.Label != "Betula pendula" || preview.Type != taxa.EntityName {
		t.Fatalf("got %+v", preview)
	}

	missing, err := adapter.Preview(context.Background(), 999)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil preview for unknown id, got %+v", missing)
	}
}

func TestStrategyAdapter_AutoMatchParamsPromotedFromOrchestrator(t *testing.T) {
	speciesStore := authoritymock.New()
	defaults := strategy.Defaults{KTrgm: 30, KSem: 30, KFinal: 20, Alpha: 1.0, AutoMatchThreshold: 0.92, AutoMatchMargin: 0.08}
	species := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_species",
		Spec: authority.TableSpec{Table: "taxa_species", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, speciesStore, nil, defaults, "https://data.sead.se/id")
	genus := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_genus",
		Spec: authority.TableSpec{Table: "taxa_genus", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, authoritymock.New(), nil, defaults, "https://data.sead.se/id")

	orch := taxa.New(species, genus, nil)
	adapter := taxa.NewStrategyAdapter(orch, species, "Taxon", nil, "https://data.sead.se/id")

	threshold, margin := adapter.AutoMatchParams()
	wantThreshold, wantMargin := orch.AutoMatchParams()
	if threshold != wantThreshold || margin != wantMargin {
		t.Fatalf("expected adapter to promote orchestrator's AutoMatchParams, got (%v,%v) want (%v,%v)", threshold, margin, wantThreshold, wantMargin)
	}
}
