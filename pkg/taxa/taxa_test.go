package taxa_test

import (
	"context"
	"testing"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
	authoritymock "github.com/humlab-sead/sead-reconciler/pkg/authority/mock"
	"github.com/humlab-sead/sead-reconciler/pkg/strategy"
	"github.com/humlab-sead/sead-reconciler/pkg/taxa"
)

func newOrchestrator(t *testing.T, speciesStore, genusStore *authoritymock.Store, hierarchy *authoritymock.HierarchyStore) *taxa.Orchestrator {
	t.Helper()
	defaults := strategy.Defaults{KTrgm: 30, KSem: 30, KFinal: 20, Alpha: 1.0}

	species := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_species",
		Spec: authority.TableSpec{Table: "taxa_species", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, speciesStore, nil, defaults, "https://data.sead.se/id")

	genus := strategy.NewGeneric(strategy.Descriptor{
		Name: "taxon_genus",
		Spec: authority.TableSpec{Table: "taxa_genus", IDColumn: "taxon_id", LabelColumn: "norm_label"},
	}, genusStore, nil, defaults, "https://data.sead.se/id")

	var hl authority.HierarchyLookup
	if hierarchy != nil {
		hl = hierarchy
	}
	return taxa.New(species, genus, hl)
}

func TestOrchestrator_SpeciesMatch(t *testing.T) {
	speciesStore := authoritymock.New()
	speciesStore.Seed("taxa_species", []authority.Row{
		{ID: 10, Label: "Betula pendula", NormLabel: "betula pendula"},
	})
	o := newOrchestrator(t, speciesStore, authoritymock.New(), nil)

	got, err := o.Search(context.Background(), "Betula pendula", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 10 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Metadata["rank"] != "species" || got[0].Metadata["matched_at"] != "species" {
		t.Errorf("expected species rank metadata, got %+v", got[0].Metadata)
	}
	if got[0].Metadata["species"] != "pendula" {
		t.Errorf("expected species epithet metadata, got %+v", got[0].Metadata)
	}
	if _, ok := got[0].Metadata["original_level"]; ok {
		t.Errorf("expected no cascade metadata for a direct species match, got %+v", got[0].Metadata)
	}
}

func TestOrchestrator_CascadeToGenus(t *testing.T) {
	speciesStore := authoritymock.New() // no species rows: top candidate can never clear the cascade threshold
	genusStore := authoritymock.New()
	genusStore.Seed("taxa_genus", []authority.Row{
		{ID: 20, Label: "Betula", NormLabel: "betula"},
	})
	o := newOrchestrator(t, speciesStore, genusStore, nil)

	got, err := o.Search(context.Background(), "Betula pendula", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 20 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Metadata["matched_at"] != "genus" || got[0].Metadata["original_level"] != "species" {
		t.Errorf("expected cascade metadata, got %+v", got[0].Metadata)
	}
}

func TestOrchestrator_IndeterminateGenusAnnotation(t *testing.T) {
	genusStore := authoritymock.New()
	genusStore.Seed("taxa_genus", []authority.Row{
		{ID: 20, Label: "Quercus", NormLabel: "quercus"},
	})
	o := newOrchestrator(t, authoritymock.New(), genusStore, nil)

	got, err := o.Search(context.Background(), "Quercus sp.", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 20 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Metadata["rank"] != "genus" || got[0].Metadata["indeterminate"] != true {
		t.Errorf("expected indeterminate genus metadata, got %+v", got[0].Metadata)
	}
}

func TestOrchestrator_QualifierPenalty(t *testing.T) {
	speciesStore := authoritymock.New()
	speciesStore.Seed("taxa_species", []authority.Row{
		{ID: 10, Label: "Betula pendula", NormLabel: "betula pendula"},
	})
	o := newOrchestrator(t, speciesStore, authoritymock.New(), nil)

	plain, err := o.Search(context.Background(), "Betula pendula", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	qualified, err := o.Search(context.Background(), "cf. Betula pendula", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(plain) == 0 || len(qualified) == 0 {
		t.Fatal("expected candidates in both cases")
	}
	if qualified[0].Metadata["uncertainty"] != "cf." {
		t.Errorf("expected uncertainty metadata, got %+v", qualified[0].Metadata)
	}
	if want := plain[0].Blend * 0.85; qualified[0].Blend < want-1e-9 || qualified[0].Blend > want+1e-9 {
		t.Errorf("expected blend %v*0.85=%v, got %v", plain[0].Blend, want, qualified[0].Blend)
	}
}

func TestOrchestrator_HierarchyEnrichment(t *testing.T) {
	speciesStore := authoritymock.New()
	speciesStore.Seed("taxa_species", []authority.Row{
		{ID: 10, Label: "Betula pendula", NormLabel: "betula pendula"},
	})
	hierarchy := authoritymock.NewHierarchyStore()
	hierarchy.Seed(10, authority.Hierarchy{
		GenusID: 1, GenusName: "Betula",
		FamilyID: 2, FamilyName: "Betulaceae",
		OrderID: 3, OrderName: "Fagales",
	})
	o := newOrchestrator(t, speciesStore, authoritymock.New(), hierarchy)

	got, err := o.Search(context.Background(), "Betula pendula", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Metadata["family_name"] != "Betulaceae" || got[0].Metadata["order_name"] != "Fagales" {
		t.Errorf("expected hierarchy metadata, got %+v", got[0].Metadata)
	}
}

func TestOrchestrator_SplitIdentification(t *testing.T) {
	genusStore := authoritymock.New()
	genusStore.Seed("taxa_genus", []authority.Row{
		{ID: 30, Label: "Betula", NormLabel: "betula"},
		{ID: 31, Label: "Alnus", NormLabel: "alnus"},
	})
	o := newOrchestrator(t, authoritymock.New(), genusStore, nil)

	got, err := o.Search(context.Background(), "Betula/Alnus", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both alternatives, got %+v", got)
	}
	for _, c := range got {
		if c.Metadata["split_identification"] != "Betula/Alnus" {
			t.Errorf("expected split_identification metadata, got %+v", c.Metadata)
		}
	}
}

func TestOrchestrator_GetByID_FallsBackToGenus(t *testing.T) {
	genusStore := authoritymock.New()
	genusStore.Seed("taxa_genus", []authority.Row{{ID: 40, Label: "Betula", NormLabel: "betula"}})
	o := newOrchestrator(t, authoritymock.New(), genusStore, nil)

	row, err := o.GetByID(context.Background(), 40)
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Label != "Betula" {
		t.Fatalf("got %+v", row)
	}
}
