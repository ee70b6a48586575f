package shopee

import "time"

// MaxWindowSpan is the widest create_time range the order list accepts.
const MaxWindowSpan = 15 * 24 * time.Hour

// TimeWindow is the half-open range [From, To).
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Windows tiles [end-lookback, end) into consecutive windows of at most span.
// Only the newest window can be shorter than span.
func Windows(end time.Time, lookback, span time.Duration) []TimeWindow {
	if lookback <= 0 || span <= 0 {
		return nil
	}

	start := end.Add(-lookback)
	out := make([]TimeWindow, 0, int(lookback/span)+1)
	for from := start; from.Before(end); {
		to := from.Add(span)
		if to.After(end) {
			to = end
		}
		out = append(out, TimeWindow{From: from, To: to})
		from = to
	}
	return out
}
