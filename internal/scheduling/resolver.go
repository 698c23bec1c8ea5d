package scheduling

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthsES = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

var weekdaysES = map[string]time.Weekday{
	"domingo":   time.Sunday,
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
}

var (
	absoluteRe   = regexp.MustCompile(`\b(\d{1,2})\s+de\s+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)(?:\s+(?:de|del)\s+(\d{4}))?\b`)
	weeksRe      = regexp.MustCompile(`\ben\s+(\d{1,3}|una?)\s+semanas?\b`)
	daysRe       = regexp.MustCompile(`\ben\s+(\d{1,3}|una?)\s+dias?\b`)
	dayAfterRe   = regexp.MustCompile(`\bpasado\s+manana\b`)
	tomorrowRe   = regexp.MustCompile(`\bmanana\b`)
	todayRe      = regexp.MustCompile(`\bhoy\b`)
	weekdayRe    = regexp.MustCompile(`\b(?:(proximo|siguiente)\s+)?(lunes|martes|miercoles|jueves|viernes|sabado|domingo)\b`)
	bareDayRe    = regexp.MustCompile(`\b(\d{1,2})\b`)
	timeAfterRe  = regexp.MustCompile(`^\s*(?::|[.]\d|h\b|hs\b|hrs?\b|horas?\b|a\.?\s?m\b|p\.?\s?m\b|de\s+la\s+(?:manana|tarde|noche)\b|en\s+punto\b|y\s+media\b)`)
	timeBeforeRe = regexp.MustCompile(`(?:\d[:.]|\b(?:a\s+las?|las|la|desde\s+las?|hasta\s+las?))\s*$`)
)

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

// ResolveDate extracts a calendar date from a Spanish phrase, interpreting
// relative expressions against now in the facility zone. The boolean is false
// when the text states no date; callers must keep any previously known date.
func ResolveDate(text string, now time.Time) (Date, bool) {
	return ResolveDateIn(text, now, FacilityLocation)
}

// ResolveDateIn is ResolveDate for an explicit zone.
//
// Rules are tried in order and the first match wins: absolute "D de MES [de AÑO]",
// "en N semanas|días", "pasado mañana|mañana|hoy", weekday names (optionally
// "próximo"/"siguiente"), then a bare day-of-month number.
func ResolveDateIn(text string, now time.Time, loc *time.Location) (Date, bool) {
	if loc == nil {
		loc = FacilityLocation
	}
	normalized := accentFolder.Replace(strings.ToLower(text))
	if strings.TrimSpace(normalized) == "" {
		return Date{}, false
	}
	today := DateOf(now, loc)

	if m := absoluteRe.FindStringSubmatch(normalized); m != nil {
		return resolveAbsolute(m, today, now, loc)
	}
	if m := weeksRe.FindStringSubmatch(normalized); m != nil {
		return today.AddDays(7 * countWord(m[1])), true
	}
	if m := daysRe.FindStringSubmatch(normalized); m != nil {
		return today.AddDays(countWord(m[1])), true
	}
	if dayAfterRe.MatchString(normalized) {
		return today.AddDays(2), true
	}
	// Rule order is kept literally: "el lunes por la mañana" hits "mañana"
	// before the weekday rule.
	if tomorrowRe.MatchString(normalized) {
		return today.AddDays(1), true
	}
	if todayRe.MatchString(normalized) {
		return today, true
	}
	if m := weekdayRe.FindStringSubmatch(normalized); m != nil {
		return resolveWeekday(today, weekdaysES[m[2]], m[1] != ""), true
	}
	if day, ok := bareDayOfMonth(normalized); ok {
		return resolveBareDay(today, day)
	}
	return Date{}, false
}

func resolveAbsolute(m []string, today Date, now time.Time, loc *time.Location) (Date, bool) {
	day, _ := strconv.Atoi(m[1])
	month := monthsES[m[2]]
	if m[3] != "" {
		year, _ := strconv.Atoi(m[3])
		d, err := NewDate(year, month, day)
		return d, err == nil
	}
	d, err := NewDate(today.Year, month, day)
	if err != nil {
		return Date{}, false
	}
	if d.Noon(loc).Before(now.Add(-24 * time.Hour)) {
		next, err := NewDate(today.Year+1, month, day)
		if err != nil {
			return Date{}, false
		}
		return next, true
	}
	return d, true
}

// resolveWeekday advances to the next occurrence of target strictly after
// today. With "próximo", an occurrence still inside the current Monday-to-Sunday
// week is pushed one more week out.
func resolveWeekday(today Date, target time.Weekday, next bool) Date {
	current := today.Weekday()
	ahead := (int(target) - int(current) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	if next && ahead <= daysLeftInWeek(current) {
		ahead += 7
	}
	return today.AddDays(ahead)
}

func daysLeftInWeek(w time.Weekday) int {
	if w == time.Sunday {
		return 0
	}
	return 7 - int(w)
}

// resolveBareDay maps a day-of-month to this month, or next month when the
// day has already passed.
func resolveBareDay(today Date, day int) (Date, bool) {
	year, month := today.Year, today.Month
	if day < today.Day {
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	d, err := NewDate(year, month, day)
	if err != nil {
		return Date{}, false
	}
	return d, true
}

// bareDayOfMonth returns the first 1-31 number that is not written as a time
// of day ("9 am", "a las 10", "3:30", "4 de la tarde").
func bareDayOfMonth(text string) (int, bool) {
	for _, loc := range bareDayRe.FindAllStringSubmatchIndex(text, -1) {
		if timeAfterRe.MatchString(text[loc[1]:]) || timeBeforeRe.MatchString(text[:loc[0]]) {
			continue
		}
		day, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil || day < 1 || day > 31 {
			continue
		}
		return day, true
	}
	return 0, false
}

func countWord(raw string) int {
	switch raw {
	case "un", "una":
		return 1
	}
	n, _ := strconv.Atoi(raw)
	return n
}
