package core

import (
	"os"
	"strconv"
	"time"
)

// DefaultCutoffHour is the hour of day (24h) after which employees can no
// longer change their own participation for the current date.
const DefaultCutoffHour = 21

const DateLayout = "2006-01-02"

// Timezone returns the organization's timezone from APP_TIMEZONE, falling
// back to Asia/Dhaka and then UTC when the name does not resolve.
func Timezone() *time.Location {
	name := os.Getenv("APP_TIMEZONE")
	if name == "" {
		name = "Asia/Dhaka"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CutoffHour returns the configured cutoff hour from CUTOFF_HOUR, or the
// default when unset or out of range.
func CutoffHour() int {
	if v := os.Getenv("CUTOFF_HOUR"); v != "" {
		if h, err := strconv.Atoi(v); err == nil && h >= 0 && h <= 23 {
			return h
		}
	}
	return DefaultCutoffHour
}

// Today returns the current date in the organization's timezone.
func Today() string {
	return time.Now().In(Timezone()).Format(DateLayout)
}

// IsCutoffPassed reports whether now is at or past the cutoff hour. The
// caller is responsible for evaluating now in the organization's timezone.
func IsCutoffPassed(now time.Time, cutoffHour int) bool {
	return now.Hour() >= cutoffHour
}

// CutoffPassedNow evaluates the cutoff against the wall clock in the
// organization's timezone.
func CutoffPassedNow() bool {
	return IsCutoffPassed(time.Now().In(Timezone()), CutoffHour())
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
