package authority

import (
	"log/slog"
	"sort"
)

// Candidate is the blended output of the hybrid retrieval pipeline: the two
// channel scores (zero when a channel never returned the ID), the combined
// ranking score, and optional per-candidate metadata attached by a strategy
// (hierarchy info, uncertainty flags, matched field).
type Candidate struct {
	ID       int64
	Label    string
	TrgmSim  float64
	SemSim   float64
	Blend    float64
	Metadata map[string]any
}

// DefaultAlpha is the weight given to the trigram channel in the blend
// formula when a caller does not specify one.
const DefaultAlpha = 0.5

// BlendOptions configures [Blend].
type BlendOptions struct {
	// Alpha is α in blend = α·trgm_sim + (1−α)·sem_sim, in [0,1].
	Alpha float64

	// KFinal bounds the number of candidates returned.
	KFinal int
}

// Blend unions the trigram and semantic channel results
// by ID, fills a missing channel score with 0, computes the weighted blend,
// and returns the top KFinal candidates ordered by blend descending, label
// ascending.
//
// If the two channels disagree about the label for the same ID, that is a
// data integrity error: the row is dropped and a warning is
// logged, but the rest of the union is still returned — this never fails
// the caller's sub-query.
func Blend(trgm, sem []ScoredRow, opts BlendOptions) []Candidate {
	alpha := opts.Alpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	type merged struct {
		label      string
		trgm       float64
		sem        float64
		haveTrgm   bool
		haveSem    bool
		conflicted bool
	}

	rows := make(map[int64]*merged, len(trgm)+len(sem))
	order := make([]int64, 0, len(trgm)+len(sem))

	touch := func(id int64) *merged {
		if m, ok := rows[id]; ok {
			return m
		}
		m := &merged{}
		rows[id] = m
		order = append(order, id)
		return m
	}

	for _, r := range trgm {
		m := touch(r.ID)
		m.label = r.Label
		m.trgm = r.Score
		m.haveTrgm = true
	}
	for _, r := range sem {
		m := touch(r.ID)
		if m.haveTrgm && m.label != r.Label {
			m.conflicted = true
			slog.Warn("authority: channel label disagreement, dropping row",
				"id", r.ID, "trgm_label", m.label, "sem_label", r.Label)
		}
		if !m.haveTrgm {
			m.label = r.Label
		}
		m.sem = r.Score
		m.haveSem = true
	}

	candidates := make([]Candidate, 0, len(order))
	for _, id := range order {
		m := rows[id]
		if m.conflicted {
			continue
		}
		blend := alpha*m.trgm + (1-alpha)*m.sem
		candidates = append(candidates, Candidate{
			ID:      id,
			Label:   m.label,
			TrgmSim: m.trgm,
			SemSim:  m.sem,
			Blend:   clip01(blend),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Blend != candidates[j].Blend {
			return candidates[i].Blend > candidates[j].Blend
		}
		return candidates[i].Label < candidates[j].Label
	})

	if opts.KFinal > 0 && len(candidates) > opts.KFinal {
		candidates = candidates[:opts.KFinal]
	}
	return candidates
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
