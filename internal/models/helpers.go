package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a new unique ID with the given prefix
func GenerateID(prefix string) string {
	id := uuid.New().String()

	return fmt.Sprintf("%s-%s", prefix, id[:8])
}

// GenerateTimeID generates a time-derived id ("ORD1718000000000-3f2a"). The millisecond part
// keeps ids roughly creation-ordered; the random suffix separates ids minted in the same millisecond.
func GenerateTimeID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s%d-%s", prefix, t.UnixMilli(), uuid.New().String()[:4])
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// DisplayDate formats t the way order lists show a creation date (M/D/YYYY)
func DisplayDate(t time.Time) string {
	return t.Format("1/2/2006")
}
