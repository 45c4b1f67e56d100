package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	SourceKeyPrefix       = "source:%d"
	SessionKeyPrefix      = "session:%d"
	SessionFailuresPrefix = "session:%d:failures"
)

const (
	SourceTTL        = 5 * time.Minute
	SessionTTL       = 10 * time.Minute
	FailureReportTTL = time.Minute
)

func SourceKey(sourceID uint) string {
	return fmt.Sprintf(SourceKeyPrefix, sourceID)
}

func SessionKey(sessionID uint) string {
	return fmt.Sprintf(SessionKeyPrefix, sessionID)
}

func SessionFailuresKey(sessionID uint) string {
	return fmt.Sprintf(SessionFailuresPrefix, sessionID)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateSource(ctx context.Context, sourceID uint) {
	Invalidate(ctx, SourceKey(sourceID))
}

func InvalidateSession(ctx context.Context, sessionID uint) {
	Invalidate(ctx, SessionKey(sessionID))
	Invalidate(ctx, SessionFailuresKey(sessionID))
}
