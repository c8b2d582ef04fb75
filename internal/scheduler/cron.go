package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is the set of values one cron position matches.
type field struct {
	any bool
	set map[int]bool
}

func (f field) matches(v int) bool { return f.any || f.set[v] }

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// Schedule is a parsed 5-field cron expression
// ("minute hour day-of-month month day-of-week"). Each field accepts "*",
// single values, ranges "a-b", steps "*/n" or "a-b/n", and comma lists of
// those. Day-of-week 7 is Sunday, like 0.
type Schedule struct {
	expr   string
	fields [5]field
}

// ParseCron parses expr.
func ParseCron(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(parts))
	}
	s := Schedule{expr: expr}
	for i, p := range parts {
		f, err := parseField(p, fieldBounds[i])
		if err != nil {
			return Schedule{}, fmt.Errorf("cron %q: %s: %w", expr, fieldBounds[i].name, err)
		}
		s.fields[i] = f
	}
	if s.fields[4].set[7] {
		s.fields[4].set[0] = true
	}
	return s, nil
}

func parseField(s string, b bounds) (field, error) {
	if s == "*" {
		return field{any: true}, nil
	}
	f := field{set: make(map[int]bool)}
	for _, term := range strings.Split(s, ",") {
		lo, hi, step := b.min, b.max, 1

		rng := term
		if i := strings.IndexByte(term, '/'); i >= 0 {
			n, err := strconv.Atoi(term[i+1:])
			if err != nil || n <= 0 {
				return field{}, fmt.Errorf("invalid step in %q", term)
			}
			step = n
			rng = term[:i]
		}

		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, z, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return field{}, fmt.Errorf("invalid range %q", term)
			}
			if hi, err = strconv.Atoi(z); err != nil {
				return field{}, fmt.Errorf("invalid range %q", term)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return field{}, fmt.Errorf("invalid value %q", term)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		if lo < b.min || hi > b.max || lo > hi {
			return field{}, fmt.Errorf("%q outside %d-%d", term, b.min, b.max)
		}
		for v := lo; v <= hi; v += step {
			f.set[v] = true
		}
	}
	return f, nil
}

func (s Schedule) String() string { return s.expr }

// matches applies the usual cron rule for the two day fields: when both are
// restricted a time matches if either one does.
func (s Schedule) matches(t time.Time) bool {
	if !s.fields[0].matches(t.Minute()) || !s.fields[1].matches(t.Hour()) || !s.fields[3].matches(int(t.Month())) {
		return false
	}
	dom, dow := s.fields[2], s.fields[4]
	domOK, dowOK := dom.matches(t.Day()), dow.matches(int(t.Weekday()))
	if !dom.any && !dow.any {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// Next returns the first minute strictly after the given time that matches,
// evaluated on the wall clock of loc. The zero time means no match within a
// year.
func (s Schedule) Next(after time.Time, loc *time.Location) time.Time {
	t := after.In(loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for t.Before(limit) {
		if s.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}
