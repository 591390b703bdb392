// Package schedule parses EventBridge schedule expressions.
//
// Supported forms:
//   - rate(value unit): "rate(1 hour)", "rate(15 minutes)", "rate(7 days)"
//   - cron(minutes hours day-of-month month day-of-week year): "cron(0 12 * * ? *)"
//
// Cron expressions are evaluated in UTC, the way EventBridge evaluates them.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/savaki/scheduled-tasks/internal/errors"
)

type Kind int

const (
	KindRate Kind = iota
	KindCron
)

func (k Kind) String() string {
	if k == KindCron {
		return "cron"
	}
	return "rate"
}

// Expression is a parsed schedule expression.
type Expression struct {
	Kind  Kind
	Raw   string
	Every time.Duration // rate only

	// schedule is nil when the cron expression uses EventBridge extensions
	// (L, W, #) that cannot be previewed.
	schedule cron.Schedule
}

var (
	reRate = regexp.MustCompile(`^rate\(\s*(\d+)\s+([a-z]+)\s*\)$`)
	reCron = regexp.MustCompile(`^cron\((.+)\)$`)
	reNum  = regexp.MustCompile(`\d+`)

	parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

var rateUnits = map[string]time.Duration{
	"minute":  time.Minute,
	"minutes": time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
}

// Parse validates raw and returns the parsed expression.
func Parse(raw string) (Expression, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Expression{}, fmt.Errorf("%w: schedule required", errors.ErrInvalidSchedule)
	}

	if m := reRate.FindStringSubmatch(s); m != nil {
		return parseRate(s, m[1], m[2])
	}
	if m := reCron.FindStringSubmatch(s); m != nil {
		return parseCron(s, m[1])
	}

	return Expression{}, fmt.Errorf("%w: %q (use rate(1 hour) or cron(0 12 * * ? *))", errors.ErrInvalidSchedule, raw)
}

func parseRate(raw, value, unit string) (Expression, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return Expression{}, fmt.Errorf("%w: rate value must be a positive integer in %q", errors.ErrInvalidSchedule, raw)
	}

	d, ok := rateUnits[unit]
	if !ok {
		return Expression{}, fmt.Errorf("%w: unknown rate unit %q", errors.ErrInvalidSchedule, unit)
	}

	// EventBridge requires the singular unit for 1 and the plural otherwise.
	plural := strings.HasSuffix(unit, "s")
	if n == 1 && plural {
		return Expression{}, fmt.Errorf("%w: use rate(1 %s) instead of %q", errors.ErrInvalidSchedule, strings.TrimSuffix(unit, "s"), raw)
	}
	if n > 1 && !plural {
		return Expression{}, fmt.Errorf("%w: use rate(%d %ss) instead of %q", errors.ErrInvalidSchedule, n, unit, raw)
	}

	return Expression{
		Kind:  KindRate,
		Raw:   raw,
		Every: time.Duration(n) * d,
	}, nil
}

func parseCron(raw, body string) (Expression, error) {
	fields := strings.Fields(body)
	if len(fields) != 6 {
		return Expression{}, fmt.Errorf("%w: cron requires 6 fields (minutes hours day-of-month month day-of-week year), got %d", errors.ErrInvalidSchedule, len(fields))
	}

	dom, dow := fields[2], fields[4]
	if (dom == "?") == (dow == "?") {
		return Expression{}, fmt.Errorf("%w: exactly one of day-of-month and day-of-week must be '?' in %q", errors.ErrInvalidSchedule, raw)
	}

	expr := Expression{Kind: KindCron, Raw: raw}
	if strings.ContainsAny(dom+dow, "LW#") {
		return expr, nil
	}

	dow = shiftWeekdays(dow)

	spec := strings.Join([]string{fields[0], fields[1], dom, fields[3], dow}, " ")
	schedule, err := parser.Parse(spec)
	if err != nil {
		return Expression{}, fmt.Errorf("%w: %q: %v", errors.ErrInvalidSchedule, raw, err)
	}
	expr.schedule = schedule

	return expr, nil
}

// shiftWeekdays converts EventBridge day numbers (1-7 from Sunday) to
// robfig's 0-6. Step values after "/" are counts, not days, and keep their
// value: 2/2 becomes 1/2.
func shiftWeekdays(field string) string {
	items := strings.Split(field, ",")
	for i, item := range items {
		days, step, hasStep := strings.Cut(item, "/")
		days = reNum.ReplaceAllStringFunc(days, func(s string) string {
			n, _ := strconv.Atoi(s)
			return strconv.Itoa(n - 1)
		})
		if hasStep {
			days += "/" + step
		}
		items[i] = days
	}
	return strings.Join(items, ",")
}

// Next returns up to n fire times after from. Rate schedules are anchored at
// from since EventBridge anchors them at rule creation. Cron expressions
// using L, W or # return nil.
func (e Expression) Next(from time.Time, n int) []time.Time {
	var times []time.Time
	switch e.Kind {
	case KindRate:
		t := from.UTC()
		for range n {
			t = t.Add(e.Every)
			times = append(times, t)
		}
	case KindCron:
		if e.schedule == nil {
			return nil
		}
		t := from.UTC()
		for range n {
			t = e.schedule.Next(t)
			times = append(times, t)
		}
	}
	return times
}

func (e Expression) String() string {
	return e.Raw
}
