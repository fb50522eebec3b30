package cache

import (
	"fmt"
	"time"
)

// RateLimitKey buckets requests for one API key prefix into fixed one-minute windows.
func RateLimitKey(keyPrefix string, now time.Time) string {
	return fmt.Sprintf("pulsekit:ratelimit:%s:%d", keyPrefix, now.Unix()/60)
}
