package config

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the five-field form and descriptors such as @daily,
// the same dialect the scheduler registers entries with.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronSchedule rejects empty and unparsable cron expressions.
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return errors.New("invalid cron schedule: cannot be empty")
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateTimezone checks an IANA zone name against the tzdata available
// to the process.
func ValidateTimezone(timezone string) error {
	if timezone == "" {
		return errors.New("invalid timezone: cannot be empty")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return nil
}

func inRange[T cmp.Ordered](kind string, v, min, max T) error {
	switch {
	case min > max:
		return fmt.Errorf("invalid range: min (%v) cannot be greater than max (%v)", min, max)
	case v < min:
		return fmt.Errorf("%s %v is below minimum %v", kind, v, min)
	case v > max:
		return fmt.Errorf("%s %v exceeds maximum %v", kind, v, max)
	}
	return nil
}

// ValidateDuration checks min <= d <= max.
func ValidateDuration(d, min, max time.Duration) error { return inRange("duration", d, min, max) }

// ValidateIntRange checks min <= v <= max.
func ValidateIntRange(v, min, max int) error { return inRange("value", v, min, max) }

// ValidatePositiveDuration checks d > 0.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateHTTPURL checks that raw is an absolute http(s) URL.
func ValidateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: must be an absolute http(s) URL", raw)
	}
	return nil
}
