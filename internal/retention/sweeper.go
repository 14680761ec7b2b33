// Package retention periodically deletes stale uploads and generated audio.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
)

// Glob patterns for the rules.
const (
	PATTERN_ANY = "*"
	PATTERN_WAV = "*.wav"
)

// Rule selects the files of one directory that are subject to expiry.
type Rule struct {
	Dir     string
	Pattern string
}

// Report lists what a sweep did.
type Report struct {
	Removed []string
	Errors  []string
}

// Sweeper deletes regular files older than maxAge on every tick.
type Sweeper struct {
	rules    []Rule
	maxAge   time.Duration
	interval time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper. Non-positive durations default to one hour.
func NewSweeper(rules []Rule, maxAge, interval time.Duration, log *logger.Logger) *Sweeper {
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	if interval <= 0 {
		interval = time.Hour
	}

	return &Sweeper{
		rules:    rules,
		maxAge:   maxAge,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// DefaultRules expires any file in uploadsDir and WAV files in generatedDir.
func DefaultRules(uploadsDir, generatedDir string) []Rule {
	return []Rule{
		{Dir: uploadsDir, Pattern: PATTERN_ANY},
		{Dir: generatedDir, Pattern: PATTERN_WAV},
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := s.Sweep()
			if len(report.Removed) > 0 || len(report.Errors) > 0 {
				s.log.Info("Retention sweep removed %d files (%d errors)", len(report.Removed), len(report.Errors))
			}
		}
	}
}

// Sweep removes expired files now. Per-file failures are logged and recorded
// without stopping the sweep.
func (s *Sweeper) Sweep() Report {
	var report Report

	cutoff := s.now().Add(-s.maxAge)

	for _, rule := range s.rules {
		if rule.Dir == "" {
			continue
		}

		matches, err := filepath.Glob(filepath.Join(rule.Dir, rule.Pattern))
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rule.Dir, err))
			s.log.Error("Invalid retention pattern %s in %s: %v", rule.Pattern, rule.Dir, err)

			continue
		}

		for _, path := range matches {
			s.expire(path, cutoff, &report)
		}
	}

	return report
}

func (s *Sweeper) expire(path string, cutoff time.Time, report *Report) {
	info, err := os.Stat(path)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, err))
		s.log.Error("Failed to stat %s: %v", path, err)

		return
	}

	if !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
		return
	}

	removeErr := os.Remove(path)
	if removeErr != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, removeErr))
		s.log.Error("Failed to remove expired file %s: %v", path, removeErr)

		return
	}

	report.Removed = append(report.Removed, path)
	s.log.Info("Removed expired file: %s", path)
}
