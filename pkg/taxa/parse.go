// Package taxa implements the taxa orchestrator: mention parsing for
// taxonomic qualifiers, cascading species→genus dispatch, split-identification
// fan-out, and hierarchy enrichment. It composes two [strategy.Strategy]
// instances (species and genus) rather than introducing a third bespoke
// strategy implementation: taxa needed one genuine behavioural fork, and
// this package is it.
package taxa

import "strings"

// Level is the taxonomic rank a parsed mention resolves to before dispatch.
type Level string

const (
	LevelGenus   Level = "genus"
	LevelSpecies Level = "species"
)

// Qualifier is an uncertainty marker detected on a mention.
type Qualifier string

const (
	QualifierNone     Qualifier = ""
	QualifierCf       Qualifier = "cf."
	QualifierAff      Qualifier = "aff."
	QualifierQuestion Qualifier = "?"
)

var indeterminateMarkers = map[string]bool{
	"sp.": true, "sp": true,
	"spp.": true, "spp": true,
	"indet.": true, "indet": true,
}

// Parsed is the structured result of [Parse].
type Parsed struct {
	Level         Level
	Genus         string
	Species       string
	Author        string
	Qualifier     Qualifier
	Indeterminate bool

	// SplitGenera holds the alternatives of a split identification
	// ("Betula/Alnus"), nil when the mention names a single genus.
	SplitGenera []string
}

// Parse parses a taxonomic mention: strip an uncertainty qualifier,
// detect a split genus, tokenize the remainder, and classify it to a rank.
func Parse(mention string) Parsed {
	fields := strings.Fields(mention)

	var qualifier Qualifier
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "cf.", "cf":
			qualifier = QualifierCf
		case "aff.", "aff":
			qualifier = QualifierAff
		case "?":
			qualifier = QualifierQuestion
		default:
			kept = append(kept, f)
		}
	}

	if len(kept) == 0 {
		return Parsed{Level: LevelGenus, Qualifier: qualifier}
	}

	var splitGenera []string
	if strings.Contains(kept[0], "/") {
		for _, g := range strings.Split(kept[0], "/") {
			if g = strings.TrimSpace(g); g != "" {
				splitGenera = append(splitGenera, g)
			}
		}
	}

	switch {
	case len(kept) == 1:
		return Parsed{Level: LevelGenus, Genus: kept[0], Qualifier: qualifier, SplitGenera: splitGenera}
	case len(kept) == 2 && indeterminateMarkers[strings.ToLower(strings.TrimSuffix(kept[1], "."))]:
		return Parsed{Level: LevelGenus, Genus: kept[0], Indeterminate: true, Qualifier: qualifier, SplitGenera: splitGenera}
	default:
		return Parsed{
			Level:       LevelSpecies,
			Genus:       kept[0],
			Species:     kept[1],
			Author:      strings.Join(kept[2:], " "),
			Qualifier:   qualifier,
			SplitGenera: splitGenera,
		}
	}
}
