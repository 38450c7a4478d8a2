package screenshot

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// maxFilenameBytes keeps names clear of common filesystem limits.
const maxFilenameBytes = 100

var illegalFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// sanitizeFilename sanitizes a filename by removing illegal characters
func sanitizeFilename(filename string) string {
	sanitized := illegalFilenameChars.ReplaceAllString(strings.TrimSpace(filename), "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")

	// Limit length on a rune boundary
	if len(sanitized) > maxFilenameBytes {
		cut := maxFilenameBytes
		for cut > 0 && !utf8.RuneStart(sanitized[cut]) {
			cut--
		}
		sanitized = sanitized[:cut]
	}
	if sanitized == "" || sanitized == "." || sanitized == ".." {
		return "page"
	}
	return sanitized
}

// sleepFunc pauses for d or until ctx ends.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
