package tape

import "fmt"

// Window is a closed range [Start, End] (both ends inclusive) over the bar
// array, tagged with a stable identifier derived from enumeration order.
type Window struct {
	ID    string
	Start int
	End   int // inclusive
}

// Len returns the number of bars the window spans.
func (w Window) Len() int { return w.End - w.Start + 1 }

// EnumerateWindows slices [0, len(bars)) into windows of durationBars length,
// stepping by max(1, floor(duration*(1-overlapPct/100))), stopping once a
// window's end would run past the end of the tape.
func EnumerateWindows(totalBars int, durationBars int, overlapPct float64) []Window {
	if durationBars <= 0 || totalBars <= 0 {
		return nil
	}
	step := int(float64(durationBars) * (1 - overlapPct/100))
	if step < 1 {
		step = 1
	}
	var out []Window
	for k := 0; ; k++ {
		start := k * step
		end := start + durationBars - 1
		if end >= totalBars {
			break
		}
		out = append(out, Window{ID: fmt.Sprintf("w%d", k), Start: start, End: end})
	}
	return out
}

// InvalidWindows maps each window whose index range contains at least one
// validation error to the first such error (verbatim, for the window
// summary). Windows with no error inside their range are omitted.
func InvalidWindows(windows []Window, errs []ValidationError) map[string]ValidationError {
	out := make(map[string]ValidationError)
	for _, w := range windows {
		if e := FirstErrorInRange(errs, w.Start, w.End); e != nil {
			out[w.ID] = *e
		}
	}
	return out
}
