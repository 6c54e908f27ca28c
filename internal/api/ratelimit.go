package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"incidentdesk/internal/auth"
	"incidentdesk/internal/models"
)

const limiterIdle = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sendLimiter throttles message sends per caller.
type sendLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	callers map[models.Ref]*callerLimiter
	now     func() time.Time
}

func newSendLimiter(perSecond float64, burst int) *sendLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &sendLimiter{
		every:   rate.Limit(perSecond),
		burst:   burst,
		callers: make(map[models.Ref]*callerLimiter),
		now:     time.Now,
	}
}

func (l *sendLimiter) allow(caller models.Ref) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.callers[caller]
	if !ok {
		l.sweepLocked(now)
		entry = &callerLimiter{limiter: rate.NewLimiter(l.every, l.burst), lastSeen: now}
		l.callers[caller] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweepLocked forgets callers idle long enough to have refilled their bucket.
func (l *sendLimiter) sweepLocked(now time.Time) {
	for ref, entry := range l.callers {
		if now.Sub(entry.lastSeen) > limiterIdle {
			delete(l.callers, ref)
		}
	}
}

func (l *sendLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.every <= 0 {
			c.Next()
			return
		}
		caller, ok := auth.CallerFromContext(c)
		if ok && !l.allow(caller) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "too many messages, please retry"})
			return
		}
		c.Next()
	}
}
