package scheduling

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FacilityLocation is the clinic's fixed UTC-5 zone. It has no daylight-saving rule.
var FacilityLocation = time.FixedZone("UTC-5", -5*60*60)

const (
	defaultSlotStride = 15 * time.Minute
	defaultLeadTime   = 24 * time.Hour
)

// DayPolicy holds one weekday's opening window in "15:04" form.
// LunchStart/LunchEnd are optional; when both are set no appointment may overlap them.
type DayPolicy struct {
	Open       string `yaml:"open"`
	Close      string `yaml:"close"`
	LunchStart string `yaml:"lunch_start,omitempty"`
	LunchEnd   string `yaml:"lunch_end,omitempty"`
}

// dayWindow is a DayPolicy converted to minutes after midnight.
type dayWindow struct {
	open, close          int
	lunchStart, lunchEnd int
	hasLunch             bool
}

func (d *DayPolicy) window() (dayWindow, error) {
	open, err := parseClock(d.Open)
	if err != nil {
		return dayWindow{}, fmt.Errorf("open: %w", err)
	}
	closing, err := parseClock(d.Close)
	if err != nil {
		return dayWindow{}, fmt.Errorf("close: %w", err)
	}
	if closing <= open {
		return dayWindow{}, fmt.Errorf("close %s must be after open %s", d.Close, d.Open)
	}
	w := dayWindow{open: open, close: closing}
	if strings.TrimSpace(d.LunchStart) == "" && strings.TrimSpace(d.LunchEnd) == "" {
		return w, nil
	}
	if w.lunchStart, err = parseClock(d.LunchStart); err != nil {
		return dayWindow{}, fmt.Errorf("lunch_start: %w", err)
	}
	if w.lunchEnd, err = parseClock(d.LunchEnd); err != nil {
		return dayWindow{}, fmt.Errorf("lunch_end: %w", err)
	}
	if w.lunchEnd <= w.lunchStart {
		return dayWindow{}, fmt.Errorf("lunch_end %s must be after lunch_start %s", d.LunchEnd, d.LunchStart)
	}
	w.hasLunch = true
	return w, nil
}

// Policy is the clinic's booking policy. A weekday missing from Days is closed.
type Policy struct {
	Location   *time.Location
	SlotStride time.Duration
	LeadTime   time.Duration
	Days       map[time.Weekday]*DayPolicy
}

// DefaultPolicy returns the clinic's standing schedule: weekdays 09:00-18:00
// with a 13:00-15:00 lunch blackout, Saturday 08:30-15:00, Sunday closed.
func DefaultPolicy() Policy {
	weekday := func() *DayPolicy {
		return &DayPolicy{Open: "09:00", Close: "18:00", LunchStart: "13:00", LunchEnd: "15:00"}
	}
	return Policy{
		Location:   FacilityLocation,
		SlotStride: defaultSlotStride,
		LeadTime:   defaultLeadTime,
		Days: map[time.Weekday]*DayPolicy{
			time.Monday:    weekday(),
			time.Tuesday:   weekday(),
			time.Wednesday: weekday(),
			time.Thursday:  weekday(),
			time.Friday:    weekday(),
			time.Saturday:  {Open: "08:30", Close: "15:00"},
		},
	}
}

// DayFor returns the policy for a weekday, or nil when the clinic is closed.
func (p Policy) DayFor(weekday time.Weekday) *DayPolicy {
	if p.Days == nil {
		return nil
	}
	return p.Days[weekday]
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return FacilityLocation
	}
	return p.Location
}

func (p Policy) strideMinutes() int {
	if p.SlotStride < time.Minute {
		return int(defaultSlotStride / time.Minute)
	}
	return int(p.SlotStride / time.Minute)
}

func (p Policy) leadTime() time.Duration {
	if p.LeadTime < 0 {
		return 0
	}
	return p.LeadTime
}

// Validate checks every configured day parses cleanly.
func (p Policy) Validate() error {
	for weekday, day := range p.Days {
		if day == nil {
			continue
		}
		if _, err := day.window(); err != nil {
			return fmt.Errorf("scheduling: %s: %w", strings.ToLower(weekday.String()), err)
		}
	}
	return nil
}

type policyFile struct {
	UTCOffsetHours *float64              `yaml:"utc_offset_hours"`
	SlotStride     string                `yaml:"slot_stride"`
	LeadTime       string                `yaml:"lead_time"`
	Days           map[string]*DayPolicy `yaml:"days"`
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
// Fields left out of the file keep their default values; a "days" block
// replaces the whole weekly schedule.
func LoadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("scheduling: read policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes YAML policy bytes on top of DefaultPolicy.
func ParsePolicy(raw []byte) (Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Policy{}, fmt.Errorf("scheduling: decode policy: %w", err)
	}

	policy := DefaultPolicy()
	if file.UTCOffsetHours != nil {
		offset := int(*file.UTCOffsetHours * 3600)
		policy.Location = time.FixedZone(fmt.Sprintf("UTC%+g", *file.UTCOffsetHours), offset)
	}
	if file.SlotStride != "" {
		d, err := time.ParseDuration(file.SlotStride)
		if err != nil || d < time.Minute {
			return Policy{}, fmt.Errorf("scheduling: invalid slot_stride %q", file.SlotStride)
		}
		policy.SlotStride = d
	}
	if file.LeadTime != "" {
		d, err := time.ParseDuration(file.LeadTime)
		if err != nil || d < 0 {
			return Policy{}, fmt.Errorf("scheduling: invalid lead_time %q", file.LeadTime)
		}
		policy.LeadTime = d
	}
	if file.Days != nil {
		policy.Days = make(map[time.Weekday]*DayPolicy, len(file.Days))
		for name, day := range file.Days {
			weekday, ok := weekdayByName(name)
			if !ok {
				return Policy{}, fmt.Errorf("scheduling: unknown weekday %q", name)
			}
			if day != nil {
				policy.Days[weekday] = day
			}
		}
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func weekdayByName(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, true
		}
	}
	return 0, false
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}
