package usecase

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"DiscoveryFeed/internal/deeplink"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/feedqueue"
	"DiscoveryFeed/internal/hero"
	"DiscoveryFeed/internal/metrics"
)

const paywallHard = "hard"

// errRejected ends a candidate's pipeline after its rejection was recorded.
var errRejected = errors.New("candidate rejected")

// candidateRun carries one candidate through the stages.
type candidateRun struct {
	st        *runState
	cand      domain.Candidate
	started   time.Time
	fetched   domain.FetchResult
	extracted domain.Extraction
	hash      string
	score     domain.Score
	item      domain.ContentItem
}

// process runs filter, fetch, extract, content filter, score, save and hero for one candidate.
// Every stage emits exactly one audit event; the first failing stage ends the candidate.
func (o *Orchestrator) process(ctx context.Context, st *runState, cand domain.Candidate) {
	ctx, span := o.tracer.Start(ctx, "discovery.candidate", trace.WithAttributes(
		attribute.String("candidate.url", cand.URL),
		attribute.String("candidate.origin", cand.Origin),
		attribute.Int("candidate.depth", cand.Depth),
	))
	defer span.End()

	cr := &candidateRun{st: st, cand: cand, started: o.now()}
	stages := []struct {
		name string
		fn   func(context.Context, *candidateRun) error
	}{
		{domain.StepFilter, o.filterStage},
		{domain.StepFetch, o.fetchStage},
		{domain.StepExtract, o.extractStage},
		{domain.StepContentFilter, o.contentStage},
		{domain.StepScore, o.scoreStage},
		{domain.StepSave, o.saveStage},
	}

	outcome := "saved"
	for _, stage := range stages {
		if err := o.stage(ctx, stage.name, cr, stage.fn); err != nil {
			outcome = "rejected"
			if !errors.Is(err, errRejected) {
				outcome = "error"
				span.SetStatus(codes.Error, err.Error())
			}
			metrics.CandidateDuration.WithLabelValues(outcome).Observe(time.Since(cr.started).Seconds())
			return
		}
	}

	o.heroStage(ctx, cr)
	o.enqueue(ctx, cr)
	o.expand(cr)
	metrics.CandidateDuration.WithLabelValues(outcome).Observe(time.Since(cr.started).Seconds())
}

func (o *Orchestrator) stage(ctx context.Context, name string, cr *candidateRun, fn func(context.Context, *candidateRun) error) error {
	ctx, span := o.tracer.Start(ctx, "discovery."+name)
	defer span.End()
	err := fn(ctx, cr)
	if err != nil && !errors.Is(err, errRejected) {
		span.RecordError(err)
	}
	return err
}

// event fills the candidate-level fields shared by every stage.
func (o *Orchestrator) event(cr *candidateRun, step string, status domain.EventStatus, began time.Time) domain.AuditEvent {
	now := o.now()
	return domain.AuditEvent{
		Step:         step,
		Status:       status,
		Provider:     cr.cand.Provider,
		Query:        cr.cand.Query,
		CandidateURL: cr.cand.URL,
		FinalURL:     cr.fetched.FinalURL,
		Timing: &domain.TimingMeta{
			DurationMs: now.Sub(began).Milliseconds(),
			SinceRunMs: now.Sub(cr.st.run.StartedAt).Milliseconds(),
		},
	}
}

func (o *Orchestrator) reject(ctx context.Context, cr *candidateRun, step string, began time.Time, decision domain.DecisionMeta) error {
	ev := o.event(cr, step, domain.EventFail, began)
	ev.Decision = &decision
	o.record(ctx, cr.st, ev)
	return errRejected
}

func (o *Orchestrator) filterStage(ctx context.Context, cr *candidateRun) error {
	began := o.now()
	if o.filter != nil {
		host := hostOf(cr.cand.URL)
		// top-level seeds are explicit choices; only unparseable ones are refused
		explicit := cr.cand.Origin == domain.OriginSeed && cr.cand.Depth == 0
		d := o.filter.Decide(cr.cand.URL, host, cr.cand.PublishedAt)
		if !d.Accept && (!explicit || d.Reason == deeplink.ReasonUnparseable) {
			return o.reject(ctx, cr, domain.StepFilter, began, domain.DecisionMeta{Reason: d.Reason, Origin: cr.cand.Origin})
		}
	}
	ev := o.event(cr, domain.StepFilter, domain.EventOK, began)
	ev.Decision = &domain.DecisionMeta{Origin: cr.cand.Origin}
	o.record(ctx, cr.st, ev)
	return nil
}

func (o *Orchestrator) fetchStage(ctx context.Context, cr *candidateRun) error {
	began := o.now()
	cr.st.mu.Lock()
	cr.st.attempts++
	if cr.cand.Origin == domain.OriginQuery && isContestedQuery(cr.st.plan, cr.cand.Query) {
		cr.st.ctAttempts++
	}
	cr.st.mu.Unlock()

	res, err := o.fetcher.Fetch(ctx, cr.cand.URL)
	if err != nil {
		var blocked *domain.BlockedError
		if errors.As(err, &blocked) {
			return o.reject(ctx, cr, domain.StepFetch, began, domain.DecisionMeta{
				Reason: domain.ReasonRobotsDisallowed,
				Rule:   blocked.Rule,
			})
		}
		ev := o.event(cr, domain.StepFetch, domain.EventFail, began)
		ev.Decision = &domain.DecisionMeta{Reason: domain.ReasonFetchFailed}
		ev.Error = &domain.ErrorMeta{Kind: "fetch", Message: err.Error()}
		var status *domain.HTTPStatusError
		if errors.As(err, &status) {
			ev.HTTP = &domain.HTTPMeta{StatusCode: status.StatusCode}
		}
		o.record(ctx, cr.st, ev)
		return errRejected
	}
	cr.fetched = res

	ev := o.event(cr, domain.StepFetch, domain.EventOK, began)
	ev.HTTP = &domain.HTTPMeta{StatusCode: res.StatusCode, ContentType: res.ContentType, Bytes: int64(len(res.Body))}
	o.record(ctx, cr.st, ev)
	return nil
}

func (o *Orchestrator) extractStage(ctx context.Context, cr *candidateRun) error {
	began := o.now()
	ext, err := o.extractor.Extract(ctx, cr.fetched)
	if err != nil {
		ev := o.event(cr, domain.StepExtract, domain.EventFail, began)
		ev.Decision = &domain.DecisionMeta{Reason: domain.ReasonExtractFailed}
		ev.Error = &domain.ErrorMeta{Kind: "extract", Message: err.Error()}
		o.record(ctx, cr.st, ev)
		return errRejected
	}
	cr.extracted = ext
	o.record(ctx, cr.st, o.event(cr, domain.StepExtract, domain.EventOK, began))
	return nil
}

// contentStage rejects short, hard-paywalled, duplicate and stale documents.
// Documents (PDFs) are exempt from the length gate since their text layer is often thin.
func (o *Orchestrator) contentStage(ctx context.Context, cr *candidateRun) error {
	began := o.now()
	ext := cr.extracted
	if !isDocument(ext) && len(strings.TrimSpace(ext.Text)) < o.cfg.MinTextLength {
		return o.reject(ctx, cr, domain.StepContentFilter, began, domain.DecisionMeta{Reason: domain.ReasonTooShort})
	}
	if ext.Paywall == paywallHard {
		return o.reject(ctx, cr, domain.StepContentFilter, began, domain.DecisionMeta{
			Reason:  domain.ReasonPaywall,
			Paywall: ext.Paywall,
		})
	}

	cr.hash = o.contentHash(ext)
	cr.item.ID = uuid.NewString()
	if owner, ok := cr.st.claimHash(cr.hash, cr.item.ID); !ok {
		return o.duplicate(ctx, cr, began, owner)
	}
	existing, err := o.content.FindByHash(ctx, cr.st.run.PatchID, cr.hash)
	if err != nil {
		cr.st.releaseHash(cr.hash)
		ev := o.event(cr, domain.StepContentFilter, domain.EventFail, began)
		ev.Error = &domain.ErrorMeta{Kind: "dedup", Message: err.Error()}
		o.record(ctx, cr.st, ev)
		return err
	}
	if existing != nil {
		cr.st.setHashOwner(cr.hash, existing.ID)
		return o.duplicate(ctx, cr, began, existing.ID)
	}

	if o.filter != nil && o.filter.Stale(hostOf(firstNonEmpty(cr.fetched.FinalURL, cr.cand.URL)), ext.PublishedAt) {
		cr.st.releaseHash(cr.hash)
		return o.reject(ctx, cr, domain.StepContentFilter, began, domain.DecisionMeta{Reason: domain.ReasonStale})
	}

	ev := o.event(cr, domain.StepContentFilter, domain.EventOK, began)
	ev.Hash = &domain.HashMeta{ContentHash: cr.hash}
	if ext.Paywall != "" {
		ev.Decision = &domain.DecisionMeta{Paywall: ext.Paywall}
	}
	o.record(ctx, cr.st, ev)
	return nil
}

func isDocument(ext domain.Extraction) bool {
	return ext.Media.DocumentURL != ""
}

// contentHash keys dedup on the body, or on the document URL when a document has too little text
// to tell copies apart.
func (o *Orchestrator) contentHash(ext domain.Extraction) string {
	if isDocument(ext) && len(strings.TrimSpace(ext.Text)) < o.cfg.MinTextLength {
		return feedqueue.HashText("document " + firstNonEmpty(ext.CanonicalURL, ext.Media.DocumentURL))
	}
	return feedqueue.HashText(ext.Text)
}

func (o *Orchestrator) duplicate(ctx context.Context, cr *candidateRun, began time.Time, of string) error {
	ev := o.event(cr, domain.StepContentFilter, domain.EventFail, began)
	ev.Decision = &domain.DecisionMeta{Reason: domain.ReasonDuplicate}
	ev.Hash = &domain.HashMeta{ContentHash: cr.hash, DuplicateOf: of}
	o.record(ctx, cr.st, ev)
	return errRejected
}

func (o *Orchestrator) scoreStage(ctx context.Context, cr *candidateRun) error {
	began := o.now()
	score, err := o.scorer.Score(ctx, cr.st.plan, cr.extracted)
	if err != nil {
		cr.st.releaseHash(cr.hash)
		ev := o.event(cr, domain.StepScore, domain.EventFail, began)
		ev.Decision = &domain.DecisionMeta{Reason: domain.ReasonScoreFailed}
		ev.Error = &domain.ErrorMeta{Kind: "score", Message: err.Error()}
		o.record(ctx, cr.st, ev)
		return errRejected
	}
	cr.score = score

	meta := &domain.ScoreMeta{Quality: score.Quality, Relevance: score.Relevance}
	if score.Relevance < o.cfg.MinRelevance {
		cr.st.releaseHash(cr.hash)
		ev := o.event(cr, domain.StepScore, domain.EventFail, began)
		ev.Scores = meta
		ev.Decision = &domain.DecisionMeta{Reason: domain.ReasonLowRelevance}
		o.record(ctx, cr.st, ev)
		return errRejected
	}
	ev := o.event(cr, domain.StepScore, domain.EventOK, began)
	ev.Scores = meta
	o.record(ctx, cr.st, ev)
	return nil
}

func (o *Orchestrator) saveStage(ctx context.Context, cr *candidateRun) error {
	began := o.now()
	ext := cr.extracted
	plan := cr.st.plan

	finalURL := cr.fetched.FinalURL
	if finalURL == "" {
		finalURL = cr.cand.URL
	}
	item := domain.ContentItem{
		ID:           cr.item.ID,
		RunID:        cr.st.run.ID,
		PatchID:      cr.st.run.PatchID,
		Title:        firstNonEmpty(ext.Title, cr.cand.Title),
		URL:          finalURL,
		CanonicalURL: ext.CanonicalURL,
		Text:         ext.Text,
		ContentHash:  cr.hash,
		Quality:      cr.score.Quality,
		Relevance:    cr.score.Relevance,
		Angle:        assignAngle(plan, cr.cand.Query, ext),
		Contested:    isContested(plan, cr.cand.Query, ext),
		PublishedAt:  ext.PublishedAt,
		Media:        ext.Media,
		CreatedAt:    o.now().UTC(),
	}
	if item.PublishedAt == nil {
		item.PublishedAt = cr.cand.PublishedAt
	}

	verified, err := o.fetcher.Verify(ctx, item.SourceURL())
	if err != nil {
		o.logger.Debug("verify source", "url", item.SourceURL(), "error", err)
	}
	item.SourceVerified = verified

	if err := o.content.SaveContent(ctx, item); err != nil {
		cr.st.releaseHash(cr.hash)
		ev := o.event(cr, domain.StepSave, domain.EventFail, began)
		ev.Decision = &domain.DecisionMeta{Reason: domain.ReasonSaveFailed}
		ev.Error = &domain.ErrorMeta{Kind: "save", Message: err.Error()}
		o.record(ctx, cr.st, ev)
		return err
	}
	cr.item = item

	cr.st.mu.Lock()
	cr.st.saves++
	if item.Contested {
		cr.st.ctSaves++
	}
	if cr.st.timeToFirst == nil {
		ms := o.now().Sub(cr.st.run.StartedAt).Milliseconds()
		cr.st.timeToFirst = &ms
	}
	cr.st.mu.Unlock()

	ev := o.event(cr, domain.StepSave, domain.EventOK, began)
	ev.Hash = &domain.HashMeta{ContentHash: cr.hash}
	ev.Scores = &domain.ScoreMeta{Quality: item.Quality, Relevance: item.Relevance}
	o.record(ctx, cr.st, ev)
	return nil
}

// heroStage never rejects: a saved item without a hero is still a save.
func (o *Orchestrator) heroStage(ctx context.Context, cr *candidateRun) {
	if o.heroes == nil {
		return
	}
	began := o.now()
	ctx, span := o.tracer.Start(ctx, "discovery."+domain.StepHero)
	defer span.End()

	h, err := o.heroes.Resolve(ctx, cr.item, false)
	if err != nil {
		span.RecordError(err)
		ev := o.event(cr, domain.StepHero, domain.EventFail, began)
		ev.Hero = &domain.HeroMeta{Status: string(domain.HeroError)}
		ev.Decision = &domain.DecisionMeta{Reason: domain.ReasonHeroFailed}
		kind := "hero"
		if errors.Is(err, hero.ErrExhausted) {
			kind = "exhausted"
		}
		ev.Error = &domain.ErrorMeta{Kind: kind, Message: err.Error()}
		o.record(ctx, cr.st, ev)
		return
	}
	cr.item.HeroID = &h.ID
	ev := o.event(cr, domain.StepHero, domain.EventOK, began)
	ev.Hero = &domain.HeroMeta{Status: string(h.Status), Tier: string(h.Source)}
	o.record(ctx, cr.st, ev)
}

func (o *Orchestrator) enqueue(ctx context.Context, cr *candidateRun) {
	if o.feed == nil {
		return
	}
	for _, consumer := range cr.st.consumers {
		res, err := o.feed.Enqueue(ctx, feedqueue.Request{
			ConsumerID: consumer,
			Item:       cr.item,
			Source:     domain.FeedFromDiscovery,
		})
		if err != nil {
			o.logger.Warn("enqueue saved content", "run_id", cr.st.run.ID, "consumer", consumer, "content_id", cr.item.ID, "error", err)
			continue
		}
		if !res.Enqueued {
			o.logger.Debug("content not enqueued", "consumer", consumer, "content_id", cr.item.ID, "reason", res.Reason)
		}
	}
}

// expand pushes deep links found in a saved document one level further.
func (o *Orchestrator) expand(cr *candidateRun) {
	if cr.cand.Depth >= o.cfg.MaxDepth {
		return
	}
	for _, link := range cr.extracted.Links {
		if o.filter != nil && !o.filter.IsLikelyDeepLink(link) {
			continue
		}
		cr.st.frontier.push(domain.Candidate{
			URL:      link,
			Provider: cr.cand.Provider,
			Origin:   cr.cand.Origin,
			Query:    cr.cand.Query,
			Depth:    cr.cand.Depth + 1,
		})
	}
}

// assignAngle maps the generating query to its angle by position, falling back to the first
// angle whose terms appear in the document.
func assignAngle(plan domain.Plan, query string, ext domain.Extraction) string {
	if len(plan.Angles) == 0 {
		return ""
	}
	if query != "" {
		for i, q := range plan.Queries {
			if strings.EqualFold(strings.TrimSpace(q), strings.TrimSpace(query)) && i < len(plan.Angles) {
				return plan.Angles[i]
			}
		}
	}
	haystack := strings.ToLower(ext.Title + " " + ext.Text)
	for _, angle := range plan.Angles {
		if matchesTerms(haystack, angle) {
			return angle
		}
	}
	return ""
}

func isContestedQuery(plan domain.Plan, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	for _, claim := range plan.ContestedClaims {
		if strings.EqualFold(strings.TrimSpace(claim), q) {
			return true
		}
	}
	return false
}

func isContested(plan domain.Plan, query string, ext domain.Extraction) bool {
	if isContestedQuery(plan, query) {
		return true
	}
	haystack := strings.ToLower(ext.Title + " " + ext.Text)
	for _, claim := range plan.ContestedClaims {
		if matchesTerms(haystack, claim) {
			return true
		}
	}
	return false
}

// matchesTerms reports whether every word of phrase longer than three letters occurs in haystack.
func matchesTerms(haystack, phrase string) bool {
	matched := 0
	for _, term := range strings.Fields(strings.ToLower(phrase)) {
		if len(term) <= 3 {
			continue
		}
		if !strings.Contains(haystack, term) {
			return false
		}
		matched++
	}
	return matched > 0
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func runAttrs(run domain.Run) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("run.id", run.ID),
		attribute.String("patch.id", run.PatchID),
	}
}
