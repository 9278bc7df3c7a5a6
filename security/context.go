package security

import (
	"hash/fnv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ThreatLevel classifies a user's accumulated risk.
type ThreatLevel string

// Threat levels, in increasing severity.
const (
	ThreatSafe     ThreatLevel = "safe"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// EMA weighting: cumulative risk carries 0.7 of the past and 0.3 of the new
// score on every update.
const (
	emaPastWeight = 0.7
	emaNewWeight  = 0.3
)

const (
	maxRecentScores = 10
	maxEvents       = 50
)

// Event is one entry in a user's bounded security log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RiskScore float64   `json:"risk_score"`
	Decision  Decision  `json:"decision"`
	Endpoint  string    `json:"endpoint"`
}

// Context is the per-user threat state. Keys are opaque origin hashes, never
// domain user identifiers.
type Context struct {
	UserID             string      `json:"user_id"`
	ThreatLevel        ThreatLevel `json:"threat_level"`
	CumulativeRisk     float64     `json:"cumulative_risk"`
	Warnings           int         `json:"warnings"`
	Blocks             int         `json:"blocks"`
	RecentScores       []float64   `json:"recent_scores"`
	Events             []Event     `json:"events"`
	Blocked            bool        `json:"blocked"`
	BlockReason        string      `json:"block_reason,omitempty"`
	EscalationDetected bool        `json:"escalation_detected"`
	CreatedAt          time.Time   `json:"created_at"`
	LastSeen           time.Time   `json:"last_seen"`
}

// record folds a new risk score into the context.
func (c *Context) record(score float64, decision Decision, endpoint string, now time.Time) {
	if len(c.RecentScores) == 0 {
		c.CumulativeRisk = score
	} else {
		c.CumulativeRisk = emaPastWeight*c.CumulativeRisk + emaNewWeight*score
	}

	c.RecentScores = append(c.RecentScores, score)
	if len(c.RecentScores) > maxRecentScores {
		c.RecentScores = c.RecentScores[len(c.RecentScores)-maxRecentScores:]
	}

	c.Events = append(c.Events, Event{
		Timestamp: now,
		RiskScore: score,
		Decision:  decision,
		Endpoint:  endpoint,
	})
	if len(c.Events) > maxEvents {
		c.Events = c.Events[len(c.Events)-maxEvents:]
	}

	c.LastSeen = now
	c.ThreatLevel = threatLevelFor(c.CumulativeRisk)
}

func threatLevelFor(ema float64) ThreatLevel {
	switch {
	case ema >= 80:
		return ThreatCritical
	case ema >= 60:
		return ThreatHigh
	case ema >= 40:
		return ThreatMedium
	case ema >= 20:
		return ThreatLow
	default:
		return ThreatSafe
	}
}

// escalating reports whether the context shows an escalation pattern:
// the last 5 scores are monotonically non-decreasing, or at least 3 of the
// last 5 exceed 60, or at least 3 events scored above 50 within 5 minutes.
func (c *Context) escalating(now time.Time) bool {
	if len(c.RecentScores) >= 5 {
		last5 := c.RecentScores[len(c.RecentScores)-5:]

		monotone := true
		for i := 1; i < len(last5); i++ {
			if last5[i] < last5[i-1] {
				monotone = false
				break
			}
		}
		// A flat run of zeros is not an escalation.
		if monotone && last5[len(last5)-1] > 0 {
			return true
		}

		high := 0
		for _, s := range last5 {
			if s > 60 {
				high++
			}
		}
		if high >= 3 {
			return true
		}
	}

	recent := 0
	for _, e := range c.Events {
		if e.RiskScore > 50 && now.Sub(e.Timestamp) <= 5*time.Minute {
			recent++
		}
	}
	return recent >= 3
}

// lockStripes bounds lock contention without a per-user mutex map.
const lockStripes = 64

// contextStore holds per-user contexts with idle expiry. Blocked contexts are
// pinned so a block survives the idle purge for the process lifetime.
type contextStore struct {
	cache   *gocache.Cache
	stripes [lockStripes]sync.Mutex
}

func newContextStore(idleTTL time.Duration) *contextStore {
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	return &contextStore{
		cache: gocache.New(idleTTL, idleTTL/4),
	}
}

func (s *contextStore) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &s.stripes[h.Sum32()%lockStripes]
}

// withContext runs fn under the user's stripe lock with the user's context,
// creating it on first interaction, and persists the result.
func (s *contextStore) withContext(userID string, fn func(*Context)) *Context {
	mu := s.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	var sctx *Context
	if v, ok := s.cache.Get(userID); ok {
		sctx = v.(*Context)
	} else {
		now := time.Now().UTC()
		sctx = &Context{
			UserID:      userID,
			ThreatLevel: ThreatSafe,
			CreatedAt:   now,
			LastSeen:    now,
		}
	}

	fn(sctx)

	if sctx.Blocked {
		s.cache.Set(userID, sctx, gocache.NoExpiration)
	} else {
		s.cache.SetDefault(userID, sctx)
	}
	return sctx
}

// get returns a copy of the user's context, if present.
func (s *contextStore) get(userID string) (Context, bool) {
	mu := s.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	v, ok := s.cache.Get(userID)
	if !ok {
		return Context{}, false
	}
	return *(v.(*Context)), true
}
