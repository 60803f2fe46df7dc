package strategy

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/humlab-sead/sead-reconciler/pkg/authority"
)

// LatLon is the value shape accepted for a [KindProximityBoost] property.
type LatLon struct {
	Lat, Lon float64
}

// ParseLatLon accepts a LatLon value directly, or a "lat,lon" string, as
// submitted by the wire protocol's {pid, v} property entries.
func ParseLatLon(v any) (LatLon, bool) {
	switch t := v.(type) {
	case LatLon:
		return t, true
	case string:
		parts := strings.SplitN(t, ",", 2)
		if len(parts) != 2 {
			return LatLon{}, false
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return LatLon{}, false
		}
		return LatLon{Lat: lat, Lon: lon}, true
	default:
		return LatLon{}, false
	}
}

// ParseRange accepts an [authority.RangeFilter] directly, or a "min,max"
// string, as submitted by the wire protocol's {pid, v} property entries for
// a [KindRangeFilter] property (e.g. a publication year range).
func ParseRange(v any) (authority.RangeFilter, bool) {
	switch t := v.(type) {
	case authority.RangeFilter:
		return t, true
	case string:
		parts := strings.SplitN(t, ",", 2)
		if len(parts) != 2 {
			return authority.RangeFilter{}, false
		}
		min, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		max, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return authority.RangeFilter{}, false
		}
		return authority.RangeFilter{Min: min, Max: max}, true
	default:
		return authority.RangeFilter{}, false
	}
}

// postFilterValue pairs a descriptor with the value submitted for it.
type postFilterValue struct {
	desc PropertyDescriptor
	val  any
}

// splitProperties partitions submitted property values into a pre-filter
// (applied before retrieval) and a list of post-filter boosts (applied
// after blending). Properties not declared by the strategy are
// silently ignored here — unknown-property validation happens earlier, at
// the reconcile service boundary.
func splitProperties(descs []PropertyDescriptor, values map[string]any) (authority.PreFilter, []postFilterValue) {
	if len(values) == 0 {
		return nil, nil
	}
	byID := make(map[string]PropertyDescriptor, len(descs))
	for _, d := range descs {
		byID[d.ID] = d
	}

	var pre authority.PreFilter
	var post []postFilterValue
	for pid, v := range values {
		d, ok := byID[pid]
		if !ok {
			continue
		}
		switch d.Kind {
		case KindPreFilter:
			if pre == nil {
				pre = authority.PreFilter{}
			}
			pre[d.Column] = normalizePreFilterValue(v)
		case KindRangeFilter:
			rf, ok := ParseRange(v)
			if !ok {
				continue
			}
			if pre == nil {
				pre = authority.PreFilter{}
			}
			pre[d.Column] = rf
		case KindExactBoost, KindProximityBoost:
			post = append(post, postFilterValue{desc: d, val: v})
		}
	}
	return pre, post
}

// normalizePreFilterValue coerces a wire-decoded property value into the
// concrete shapes [authority.PreFilter] special-cases (location_type_ids is
// an ordinary array-valued pre_filter property). JSON decodes an array as
// []any of float64/string; a scalar JSON number decodes as float64. Anything
// already in a recognized shape, or that fails to coerce, passes through
// unchanged.
func normalizePreFilterValue(v any) any {
	switch t := v.(type) {
	case []any:
		if ints, ok := toInt64Slice(t); ok {
			return ints
		}
		if strs, ok := toStringSlice(t); ok {
			return strs
		}
		return t
	case float64:
		return int64(t)
	default:
		return t
	}
}

func toInt64Slice(vals []any) ([]int64, bool) {
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		switch n := v.(type) {
		case float64:
			out = append(out, int64(n))
		case int64:
			out = append(out, n)
		case int:
			out = append(out, int64(n))
		default:
			return nil, false
		}
	}
	return out, true
}

func toStringSlice(vals []any) ([]string, bool) {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// applyPostFilterBoosts boosts each candidate's Blend according to post,
// fetching each candidate's full row from store to read the advisory
// columns. An absent property value on the row is not a negative signal
// and leaves Blend untouched.
func applyPostFilterBoosts(ctx context.Context, store authority.RowStore, spec authority.TableSpec, candidates []authority.Candidate, post []postFilterValue) []authority.Candidate {
	if len(post) == 0 {
		return candidates
	}
	for i, c := range candidates {
		row, err := store.GetByID(ctx, spec, c.ID)
		if err != nil || row == nil {
			continue
		}
		boost := 0.0
		for _, pf := range post {
			boost += boostFor(pf, row)
		}
		candidates[i].Blend = clip01(candidates[i].Blend + boost)
	}
	return candidates
}

func boostFor(pf postFilterValue, row *authority.Row) float64 {
	switch pf.desc.Kind {
	case KindExactBoost:
		got, ok := row.Secondary[pf.desc.Column]
		if !ok {
			return 0
		}
		if stringsEqualFold(fmt.Sprint(got), fmt.Sprint(pf.val)) {
			w := pf.desc.BoostWeight
			if w == 0 {
				w = 0.1
			}
			return w
		}
		return 0
	case KindProximityBoost:
		ll, ok := ParseLatLon(pf.val)
		if !ok {
			return 0
		}
		latAny, okLat := row.Secondary[pf.desc.Column]
		lonAny, okLon := row.Secondary[pf.desc.PairColumn]
		if !okLat || !okLon {
			return 0
		}
		lat, ok1 := toFloat(latAny)
		lon, ok2 := toFloat(lonAny)
		if !ok1 || !ok2 {
			return 0
		}
		radius := pf.desc.RadiusKm
		if radius <= 0 {
			radius = 50
		}
		dist := haversineKm(ll.Lat, ll.Lon, lat, lon)
		if dist > radius {
			return 0
		}
		w := pf.desc.BoostWeight
		if w == 0 {
			w = 0.1
		}
		return w * (1 - dist/radius)
	default:
		return 0
	}
}

func stringsEqualFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

// haversineKm returns the great-circle distance in kilometers between two
// lat/lon points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
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
