package cache

import (
	"fmt"
	"time"
)

// JobTTL bounds how stale a cached job view may get before readers fall
// through to Postgres. Terminal jobs never change again, so their views can
// live much longer.
const (
	JobTTL         = 5 * time.Second
	TerminalJobTTL = 5 * time.Minute
)

func JobKey(batchID string) string {
	return fmt.Sprintf("job:%s", batchID)
}

func ActiveJobKey(userID int64) string {
	return fmt.Sprintf("job:active:%d", userID)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("ratelimit:%s", clientKey)
}
