package authgate

import "time"

// MaxLoginAttempts is the maximun number of failed attempts a user gets
// in a CoolDownPeriod
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// IsWithinThresholdPeriodAt reports whether t falls inside the window of
// length pattern that ends at now. pattern uses time.ParseDuration syntax.
func IsWithinThresholdPeriodAt(now, t time.Time, pattern string) (bool, error) {
	window, err := time.ParseDuration(pattern)
	if err != nil {
		return false, err
	}
	return t.After(now.Add(-window)), nil
}

// LoginAttempts returns the failed attempt count that still applies at now.
// Attempts older than CoolDownPeriod no longer count. When the count is
// above MaxLoginAttempts the returned error is a rate-limited ProviderError.
func LoginAttempts(now time.Time, attempts int, lastAttempt *time.Time) (int, error) {
	if lastAttempt != nil {
		within, err := IsWithinThresholdPeriodAt(now, *lastAttempt, CoolDownPeriod)
		if err != nil {
			return attempts, err
		}
		if !within {
			attempts = 0
		}
	}

	if attempts > MaxLoginAttempts {
		return attempts, NewProviderError("sign_in", CodeRateLimited, "too many failed login attempts")
	}

	return attempts, nil
}
