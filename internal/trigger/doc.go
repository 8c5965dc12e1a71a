// Package trigger fires batch runs on a cron or interval schedule.
//
// The trigger only decides when; what runs is the caller's fire func.
// Firings that arrive while the previous batch is still running are skipped.
package trigger
