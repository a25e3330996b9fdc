package domain

import "time"

// EventStatus is the outcome recorded for a pipeline step.
type EventStatus string

const (
	EventOK   EventStatus = "ok"
	EventFail EventStatus = "fail"
)

// Pipeline step names used in audit events.
const (
	StepSeed          = "seed"
	StepFilter        = "filter"
	StepFetch         = "fetch"
	StepExtract       = "extract"
	StepContentFilter = "filter:content"
	StepScore         = "score"
	StepSave          = "save"
	StepHero          = "hero"
)

// Seed origins recorded in decision metadata.
const (
	OriginSeed  = "seed"
	OriginQuery = "query"
)

// Reason codes shared between the orchestrator and the analytics folds.
const (
	ReasonRobotsDisallowed = "robots_disallowed"
	ReasonDuplicate        = "duplicate"
	ReasonTooShort         = "too_short"
	ReasonPaywall          = "paywall"
	ReasonFetchFailed      = "fetch_failed"
	ReasonExtractFailed    = "extract_failed"
	ReasonSaveFailed       = "save_failed"
	ReasonStale            = "stale"
	ReasonLowRelevance     = "low_relevance"
	ReasonScoreFailed      = "score_failed"
	ReasonHeroFailed       = "hero_failed"
	ReasonInvalidURL       = "invalid_url"
)

// AuditEvent is one append-only record per pipeline step per candidate.
type AuditEvent struct {
	Seq          int64         `json:"seq"`
	RunID        string        `json:"run_id"`
	PatchID      string        `json:"patch_id"`
	Step         string        `json:"step"`
	Status       EventStatus   `json:"status"`
	Timestamp    time.Time     `json:"ts"`
	Provider     string        `json:"provider,omitempty"`
	Query        string        `json:"query,omitempty"`
	CandidateURL string        `json:"candidate_url,omitempty"`
	FinalURL     string        `json:"final_url,omitempty"`
	HTTP         *HTTPMeta     `json:"http,omitempty"`
	Decision     *DecisionMeta `json:"decision,omitempty"`
	Scores       *ScoreMeta    `json:"scores,omitempty"`
	Hash         *HashMeta     `json:"hash,omitempty"`
	Hero         *HeroMeta     `json:"hero,omitempty"`
	Timing       *TimingMeta   `json:"timing,omitempty"`
	Error        *ErrorMeta    `json:"error,omitempty"`
}

// OK reports whether the step succeeded.
func (e AuditEvent) OK() bool {
	return e.Status == EventOK
}

// Reason returns the decision reason code, if any.
func (e AuditEvent) Reason() string {
	if e.Decision == nil {
		return ""
	}
	return e.Decision.Reason
}

// HTTPMeta captures response metadata for fetch steps.
type HTTPMeta struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
}

// DecisionMeta carries reason codes for accept/reject decisions.
type DecisionMeta struct {
	Reason  string `json:"reason,omitempty"`
	Origin  string `json:"origin,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Paywall string `json:"paywall,omitempty"`
}

// ScoreMeta records scorer output.
type ScoreMeta struct {
	Quality   float64 `json:"quality"`
	Relevance float64 `json:"relevance"`
}

// HashMeta records content hashing for dedup.
type HashMeta struct {
	ContentHash string `json:"content_hash"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// HeroMeta records the hero resolution outcome.
type HeroMeta struct {
	Status string `json:"status"`
	Tier   string `json:"tier,omitempty"`
}

// TimingMeta records step timings.
type TimingMeta struct {
	DurationMs int64 `json:"duration_ms"`
	SinceRunMs int64 `json:"since_run_ms,omitempty"`
}

// ErrorMeta records a step failure.
type ErrorMeta struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}
