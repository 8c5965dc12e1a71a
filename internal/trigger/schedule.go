package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is either a cron expression or a fixed interval.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

func (k Kind) String() string {
	if k == KindInterval {
		return "interval"
	}
	return "cron"
}

// Spec is a parsed schedule string.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 2 * * *" (seconds optional), "@hourly", "@every 55m"
//   - Go duration: "55m", "2h30m"
//   - HH:MM interval: "00:50" (50 minutes), "02:30" (2h30m)
//
// "cron:" forces cron parsing; "interval:" or "every:" force interval parsing.
type Spec struct {
	Raw   string
	Kind  Kind
	Cron  string
	Every time.Duration
}

// parser accepts both 5-field and 6-field (leading seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule classifies raw and checks that it evaluates.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	var (
		spec Spec
		err  error
	)
	switch {
	case strings.HasPrefix(low, "cron:"):
		spec = Spec{Kind: KindCron, Cron: strings.TrimSpace(s[len("cron:"):])}
		if spec.Cron == "" {
			return Spec{}, fmt.Errorf("cron expression required after 'cron:'")
		}
	case strings.HasPrefix(low, "interval:"):
		spec.Kind = KindInterval
		spec.Every, err = parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		spec.Kind = KindInterval
		spec.Every, err = parseInterval(s[len("every:"):])
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		spec = Spec{Kind: KindCron, Cron: s}
	default:
		spec.Kind = KindInterval
		spec.Every, err = parseInterval(s)
		if err != nil {
			return Spec{}, fmt.Errorf(
				"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m')", raw)
		}
	}
	if err != nil {
		return Spec{}, err
	}
	spec.Raw = s
	if _, err := spec.Schedule(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate is ParseSchedule without the result; it fits config.ScheduleValidator.
func Validate(raw string) error {
	_, err := ParseSchedule(raw)
	return err
}

// Schedule builds the robfig/cron schedule. Intervals below one second are
// rounded up to one second by cron.Every.
func (s Spec) Schedule() (cron.Schedule, error) {
	if s.Kind == KindInterval {
		if s.Every <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return cron.Every(s.Every), nil
	}
	sched, err := parser.Parse(s.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", s.Cron, err)
	}
	return sched, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		err error
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		d, err = hhmm(m[1], m[2])
	} else if d, err = time.ParseDuration(v); err != nil {
		err = fmt.Errorf("invalid interval %q (use HH:MM or a Go duration like '55m')", v)
	}
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func hhmm(hs, ms string) (time.Duration, error) {
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return 0, err
	}
	if m > 59 {
		return 0, fmt.Errorf("invalid minutes in %s:%s", hs, ms)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
