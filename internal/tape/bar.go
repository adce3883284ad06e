// Package tape holds the immutable price tape: bars, instrument metadata,
// bar-integrity validation, and the window enumerator that slices the tape
// into the contiguous ranges the simulation engine replays.
package tape

import "fmt"

// Bar is one OHLCV element of the tape. Immutable once loaded.
type Bar struct {
	Symbol      string  `json:"symbol"`
	StartTSMs   int64   `json:"bar_start_ts_ms"`
	EndTSMs     int64   `json:"bar_end_ts_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
}

// Instrument carries the read-only metadata the native policy runner uses to
// interpret fixed-point scales; the core itself stays in floating point.
type Instrument struct {
	Symbol      string `json:"symbol"`
	BaseAsset   string `json:"base_asset"`
	QuoteAsset  string `json:"quote_asset"`
	PriceScale  int    `json:"price_scale"`
	VolumeScale int    `json:"volume_scale"`
}

// ValidationError describes a single bar-integrity violation.
type ValidationError struct {
	BarIndex int    `json:"bar_index"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("bar[%d].%s: %s", e.BarIndex, e.Field, e.Message)
}

// Validate checks bar-integrity invariants over the whole tape and returns
// every violation found, ordered by bar index then field. intervalMs is the
// expected spacing between consecutive bar start timestamps.
func Validate(bars []Bar, intervalMs int64) []ValidationError {
	var errs []ValidationError
	for i, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			errs = append(errs, ValidationError{i, "ohlc", "prices must be positive"})
		}
		if b.Volume < 0 {
			errs = append(errs, ValidationError{i, "volume", "volume must be non-negative"})
		}
		if b.Low > b.Open || b.Low > b.Close || b.Open > b.High || b.Close > b.High {
			errs = append(errs, ValidationError{i, "range", "low <= open,close <= high violated"})
		}
		if i >= 1 {
			want := bars[i-1].StartTSMs + intervalMs
			if b.StartTSMs != want {
				errs = append(errs, ValidationError{i, "bar_start_ts_ms", fmt.Sprintf("expected %d, got %d (non-contiguous)", want, b.StartTSMs)})
			}
		}
	}
	return errs
}

// FirstErrorInRange returns the first validation error (by the ordering
// Validate produces) whose bar index falls within [start, end], or nil.
func FirstErrorInRange(errs []ValidationError, start, end int) *ValidationError {
	for i := range errs {
		if errs[i].BarIndex >= start && errs[i].BarIndex <= end {
			e := errs[i]
			return &e
		}
	}
	return nil
}
