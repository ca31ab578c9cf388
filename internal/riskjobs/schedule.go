package riskjobs

import (
	"fmt"
	"time"
)

// minuteOfDay converts a wall-clock instant to minutes since midnight in its
// own location.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// parseHHMM parses "15:10" into minutes since midnight.
func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("riskjobs.parseHHMM %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("riskjobs.parseHHMM %q: out of range", s)
	}
	return h*60 + m, nil
}

// DailyTrigger fires from a fixed time of day onward. Combined with a
// day-scoped execution record this gives at-most-once-per-day semantics that
// survive both restarts and late starts: a process coming up at 15:30 still
// runs the 15:10 job if no record exists for today.
type DailyTrigger struct {
	at int
}

func NewDailyTrigger(hhmm string) (DailyTrigger, error) {
	at, err := parseHHMM(hhmm)
	if err != nil {
		return DailyTrigger{}, err
	}
	return DailyTrigger{at: at}, nil
}

// Due reports whether now is at or past the trigger time.
func (d DailyTrigger) Due(now time.Time) bool {
	return minuteOfDay(now) >= d.at
}

// Window is a daily time window, inclusive on both ends.
type Window struct {
	from, to int
}

func NewWindow(fromHHMM, toHHMM string) (Window, error) {
	from, err := parseHHMM(fromHHMM)
	if err != nil {
		return Window{}, err
	}
	to, err := parseHHMM(toHHMM)
	if err != nil {
		return Window{}, err
	}
	if to < from {
		return Window{}, fmt.Errorf("riskjobs.NewWindow: %s before %s", toHHMM, fromHHMM)
	}
	return Window{from: from, to: to}, nil
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) bool {
	m := minuteOfDay(now)
	return m >= w.from && m <= w.to
}
