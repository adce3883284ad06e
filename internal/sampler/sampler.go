// Package sampler implements the deterministic window selection policies: a
// plain sequential take, and a stratified sampler that balances stress
// windows against a bucketed cross-section of volatility/trend/volume.
package sampler

import (
	"hash/fnv"
	"math"
	"sort"

	"solclash/internal/arena"
	"solclash/internal/tape"
)

// Stats are the per-window statistics the stratified sampler buckets on.
type Stats struct {
	Volatility float64 // stdev of simple returns of close prices
	Trend      float64 // (last_close - first_close) / first_close
	Volume     float64 // mean bar volume
}

// ComputeStats derives Stats for a window from the slice of bars it spans.
func ComputeStats(bars []tape.Bar) Stats {
	if len(bars) == 0 {
		return Stats{}
	}
	closes := make([]float64, len(bars))
	volSum := 0.0
	for i, b := range bars {
		closes[i] = b.Close
		volSum += b.Volume
	}
	var rets []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, (closes[i]-closes[i-1])/closes[i-1])
	}
	var trend float64
	if closes[0] != 0 {
		trend = (closes[len(closes)-1] - closes[0]) / closes[0]
	}
	return Stats{
		Volatility: stdev(rets),
		Trend:      trend,
		Volume:     volSum / float64(len(bars)),
	}
}

func stdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}

// fnvHash32 is the deterministic tie-breaking / ordering hash: FNV-1a over
// seed ":" windowID.
func fnvHash32(seed, windowID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(windowID))
	return h.Sum32()
}

// Select picks target candidate windows from candidates according to cfg,
// using bars to compute per-window statistics. Deterministic: identical
// inputs and seed yield byte-identical output.
func Select(candidates []tape.Window, bars []tape.Bar, cfg arena.WindowSampling, seed string, target int) []tape.Window {
	if target <= 0 {
		return nil
	}
	if len(candidates) <= target {
		out := make([]tape.Window, len(candidates))
		copy(out, candidates)
		return out
	}
	if cfg.Mode == arena.ModeSequential {
		out := make([]tape.Window, target)
		copy(out, candidates[:target])
		return out
	}
	return selectStratified(candidates, bars, cfg, seed, target)
}

type windowStat struct {
	w     tape.Window
	stats Stats
}

func selectStratified(candidates []tape.Window, bars []tape.Bar, cfg arena.WindowSampling, seed string, target int) []tape.Window {
	stats := make([]windowStat, len(candidates))
	for i, w := range candidates {
		stats[i] = windowStat{w: w, stats: ComputeStats(bars[w.Start : w.End+1])}
	}

	// Stress selection: sort by volatility descending, ties broken by hash.
	stressSorted := make([]windowStat, len(stats))
	copy(stressSorted, stats)
	sort.SliceStable(stressSorted, func(i, j int) bool {
		if stressSorted[i].stats.Volatility != stressSorted[j].stats.Volatility {
			return stressSorted[i].stats.Volatility > stressSorted[j].stats.Volatility
		}
		return fnvHash32(seed, stressSorted[i].w.ID) < fnvHash32(seed, stressSorted[j].w.ID)
	})
	stressCount := cfg.StressCount
	if stressCount > target {
		stressCount = target
	}
	if stressCount > len(stressSorted) {
		stressCount = len(stressSorted)
	}
	if stressCount < 0 {
		stressCount = 0
	}

	selected := make([]tape.Window, 0, target)
	isStress := make(map[string]bool, stressCount)
	for i := 0; i < stressCount; i++ {
		selected = append(selected, stressSorted[i].w)
		isStress[stressSorted[i].w.ID] = true
	}
	if len(selected) >= target {
		return selected[:target]
	}

	// Buckets are ranked over every candidate; only the non-stress remainder
	// is grouped.
	volBucket := bucketize(stats, cfg.VolatilityBuckets, func(s windowStat) float64 { return s.stats.Volatility })
	trendBucket := bucketize(stats, cfg.TrendBuckets, func(s windowStat) float64 { return s.stats.Trend })
	volumeBucket := bucketize(stats, cfg.VolumeBuckets, func(s windowStat) float64 { return s.stats.Volume })

	type key struct{ v, t, u int }
	groups := make(map[key][]tape.Window)
	for i, s := range stats {
		if isStress[s.w.ID] {
			continue
		}
		k := key{volBucket[i], trendBucket[i], volumeBucket[i]}
		groups[k] = append(groups[k], s.w)
	}
	// Sort each group's windows by FNV hash of seed:windowID.
	for k := range groups {
		ws := groups[k]
		sort.SliceStable(ws, func(i, j int) bool {
			return fnvHash32(seed, ws[i].ID) < fnvHash32(seed, ws[j].ID)
		})
		groups[k] = ws
	}
	// Sort group keys by FNV hash of seed:key-string.
	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return fnvHash32(seed, keyString(keys[i])) < fnvHash32(seed, keyString(keys[j]))
	})

	// Round-robin across group-key order, popping each group's head.
	for len(selected) < target {
		progressed := false
		for _, k := range keys {
			if len(selected) >= target {
				break
			}
			ws := groups[k]
			if len(ws) == 0 {
				continue
			}
			selected = append(selected, ws[0])
			groups[k] = ws[1:]
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return selected
}

func keyString(k struct{ v, t, u int }) string {
	return sprintKey(k.v, k.t, k.u)
}

func sprintKey(v, t, u int) string {
	buf := make([]byte, 0, 24)
	buf = appendInt(buf, v)
	buf = append(buf, ',')
	buf = appendInt(buf, t)
	buf = append(buf, ',')
	buf = appendInt(buf, u)
	return string(buf)
}

func appendInt(buf []byte, v int) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	neg := v < 0
	if neg {
		v = -v
	}
	start := len(buf)
	for v > 0 {
		buf = append(buf, byte('0'+v%10))
		v /= 10
	}
	if neg {
		buf = append(buf, '-')
	}
	// reverse the appended digits
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

// bucketize sorts ws by axis(w) ascending and assigns
// bucket(w) = min(B-1, floor(rank(w)*B/|ws|)). The caller passes the full
// candidate set, stress windows included, so |ws| is the candidate count.
func bucketize(ws []windowStat, buckets int, axis func(windowStat) float64) []int {
	n := len(ws)
	out := make([]int, n)
	if buckets <= 0 || n == 0 {
		return out
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return axis(ws[order[i]]) < axis(ws[order[j]])
	})
	for rank, idx := range order {
		b := rank * buckets / n
		if b > buckets-1 {
			b = buckets - 1
		}
		out[idx] = b
	}
	return out
}
