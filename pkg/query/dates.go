package query

import (
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/perdedora/safe/internal/apperr"
)

// parseTimeRange turns one date:/expiry: value into a half-open epoch
// window. Supported forms:
//
//	<duration    within the last duration (from = now - duration)
//	>duration    older than duration (to = now - duration)
//	[YYYY][/MM][/DD] [HH][:MM][:SS]   the span that prefix covers
//
// Absolute dates are interpreted in the client's timezone, reported as a
// minute offset.
func parseTimeRange(value string, minOffset int, now time.Time) (*int64, *int64, error) {
	if value == "" {
		return nil, nil, apperr.Clientf("empty date value")
	}

	if value[0] == '<' || value[0] == '>' {
		d, err := str2duration.ParseDuration(value[1:])
		if err != nil {
			return nil, nil, apperr.Clientf("invalid duration: %s", value[1:])
		}
		pivot := now.Add(-d).Unix()
		if value[0] == '<' {
			return &pivot, nil, nil
		}
		return nil, &pivot, nil
	}

	return parseAbsolute(value, minOffset)
}

// parseAbsolute expands a date prefix into the window it covers: "2024"
// spans the year, "2024/03/05 14" spans one hour, and so on.
func parseAbsolute(value string, minOffset int) (*int64, *int64, error) {
	loc := time.FixedZone("client", -minOffset*60)

	datePart, timePart, _ := strings.Cut(value, " ")

	year, month, day := 0, 1, 1
	precision := 0

	for i, p := range strings.SplitN(datePart, "/", 3) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, nil, apperr.Clientf("invalid date: %s", value)
		}
		switch i {
		case 0:
			year = n
		case 1:
			month = n
		case 2:
			day = n
		}
		precision = i + 1
	}
	if year < 1970 || month < 1 || month > 12 || day < 1 || day > 31 {
		return nil, nil, apperr.Clientf("invalid date: %s", value)
	}

	hour, minute, second := 0, 0, 0
	if timePart != "" {
		if precision < 3 {
			return nil, nil, apperr.Clientf("invalid date: %s", value)
		}
		for i, p := range strings.SplitN(timePart, ":", 3) {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, nil, apperr.Clientf("invalid date: %s", value)
			}
			switch i {
			case 0:
				hour = n
			case 1:
				minute = n
			case 2:
				second = n
			}
			precision = 4 + i
		}
		if hour > 23 || minute > 59 || second > 59 {
			return nil, nil, apperr.Clientf("invalid date: %s", value)
		}
	}

	start := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)

	var end time.Time
	switch precision {
	case 1:
		end = start.AddDate(1, 0, 0)
	case 2:
		end = start.AddDate(0, 1, 0)
	case 3:
		end = start.AddDate(0, 0, 1)
	case 4:
		end = start.Add(time.Hour)
	case 5:
		end = start.Add(time.Minute)
	default:
		end = start.Add(time.Second)
	}

	from, to := start.Unix(), end.Unix()
	return &from, &to, nil
}
