// Package hero resolves one representative image per content item through ordered fallback tiers.
package hero

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/metrics"
	"DiscoveryFeed/internal/ports"
)

// ErrExhausted is returned when every tier, generation included, failed.
var ErrExhausted = errors.New("hero tiers exhausted")

// errNotApplicable marks a tier with nothing to offer for an item.
var errNotApplicable = errors.New("tier not applicable")

// blob is the raw output of a tier.
type blob struct {
	data        []byte
	contentType string
}

// tier is one step of the fallback chain.
type tier struct {
	source  domain.HeroSource
	license string
	fetch   func(ctx context.Context, item domain.ContentItem) (blob, error)
}

// Deps groups collaborators of the pipeline.
type Deps struct {
	Heroes    ports.HeroStore
	Content   ports.ContentStore
	Objects   ports.ObjectStore
	Renderer  ports.PreviewRenderer
	// Generator is optional; without it the generated tier draws a local cover.
	Generator ports.ImageGenerator
	Client    *http.Client
	Logger    *slog.Logger
}

// Pipeline runs the tier chain and persists the result.
type Pipeline struct {
	heroes    ports.HeroStore
	content   ports.ContentStore
	objects   ports.ObjectStore
	renderer  ports.PreviewRenderer
	generator ports.ImageGenerator
	client    *http.Client
	cfg       config.HeroConfig
	logger    *slog.Logger
	tiers     []tier
}

// NewPipeline wires the tier chain: media, video thumbnail, document preview, gallery, generated cover.
func NewPipeline(cfg config.HeroConfig, deps Deps) *Pipeline {
	if deps.Client == nil {
		timeout := cfg.FetchTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		deps.Client = &http.Client{Timeout: timeout}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 8 << 20
	}
	p := &Pipeline{
		heroes:    deps.Heroes,
		content:   deps.Content,
		objects:   deps.Objects,
		renderer:  deps.Renderer,
		generator: deps.Generator,
		client:    deps.Client,
		cfg:       cfg,
		logger:    deps.Logger,
	}
	p.tiers = []tier{
		{source: domain.HeroSourceMedia, fetch: p.fromMedia},
		{source: domain.HeroSourceVideo, fetch: p.fromVideo},
		{source: domain.HeroSourceDocument, fetch: p.fromDocument},
		{source: domain.HeroSourceGallery, fetch: p.fromGallery},
		{source: domain.HeroSourceGenerated, license: domain.LicenseGenerated, fetch: p.generate},
	}
	return p
}

// Resolve returns the item's ready hero, or runs the tiers. A ready hero is returned untouched
// unless force is set; the hero id never changes across re-resolutions.
func (p *Pipeline) Resolve(ctx context.Context, item domain.ContentItem, force bool) (domain.Hero, error) {
	existing, err := p.heroes.GetHeroByContent(ctx, item.ID)
	if err != nil {
		return domain.Hero{}, fmt.Errorf("load hero: %w", err)
	}
	if existing != nil && existing.Status == domain.HeroReady && !force {
		return *existing, nil
	}

	var id string
	if existing != nil {
		id = existing.ID
	} else {
		draft, err := p.heroes.UpsertHero(ctx, domain.Hero{ContentID: item.ID, Status: domain.HeroDraft})
		if err != nil {
			return domain.Hero{}, fmt.Errorf("reserve hero: %w", err)
		}
		id = draft.ID
	}

	var failures []string
	for _, t := range p.tiers {
		h, err := p.attempt(ctx, item, t)
		if err == nil {
			h.ID = id
			saved, err := p.heroes.UpsertHero(ctx, h)
			if err != nil {
				return domain.Hero{}, fmt.Errorf("store hero: %w", err)
			}
			if err := p.content.AttachHero(ctx, item.ID, saved.ID); err != nil {
				return saved, fmt.Errorf("attach hero: %w", err)
			}
			metrics.HeroResolutions.WithLabelValues(string(t.source), string(domain.HeroReady)).Inc()
			return saved, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Hero{}, ctxErr
		}
		if !errors.Is(err, errNotApplicable) {
			p.logger.Debug("hero tier failed", "content_id", item.ID, "tier", t.source, "error", err)
			failures = append(failures, string(t.source)+": "+err.Error())
		}
	}

	metrics.HeroResolutions.WithLabelValues("none", string(domain.HeroError)).Inc()
	failed, err := p.heroes.UpsertHero(ctx, domain.Hero{
		ID:        id,
		ContentID: item.ID,
		Status:    domain.HeroError,
		LastError: strings.Join(failures, "; "),
	})
	if err != nil {
		return domain.Hero{}, fmt.Errorf("store failed hero: %w", err)
	}
	return failed, ErrExhausted
}

func (p *Pipeline) attempt(ctx context.Context, item domain.ContentItem, t tier) (domain.Hero, error) {
	b, err := t.fetch(ctx, item)
	if err != nil {
		return domain.Hero{}, err
	}
	a, err := analyze(b.data, p.cfg.PlaceholderSize)
	if err != nil {
		return domain.Hero{}, err
	}
	ct := b.contentType
	if !strings.HasPrefix(ct, "image/") {
		ct = "image/" + a.format
	}
	key := fmt.Sprintf("heroes/%s/%s.%s", item.ID, t.source, a.format)
	url, err := p.objects.Put(ctx, key, ct, b.data)
	if err != nil {
		return domain.Hero{}, fmt.Errorf("upload: %w", err)
	}
	return domain.Hero{
		ContentID:       item.ID,
		Status:          domain.HeroReady,
		ImageURL:        url,
		DominantColor:   a.dominantColor,
		BlurPlaceholder: a.blurPlaceholder,
		Source:          t.source,
		License:         t.license,
	}, nil
}

func (p *Pipeline) fromMedia(ctx context.Context, item domain.ContentItem) (blob, error) {
	if item.Media.HeroImageURL == "" {
		return blob{}, errNotApplicable
	}
	return p.download(ctx, item.Media.HeroImageURL)
}

func (p *Pipeline) fromVideo(ctx context.Context, item domain.ContentItem) (blob, error) {
	thumb := item.Media.VideoThumbnail()
	if thumb == "" {
		return blob{}, errNotApplicable
	}
	return p.download(ctx, thumb)
}

func (p *Pipeline) fromDocument(ctx context.Context, item domain.ContentItem) (blob, error) {
	doc := item.Media.DocumentURL
	if doc == "" && strings.HasSuffix(strings.ToLower(item.URL), ".pdf") {
		doc = item.URL
	}
	if doc == "" || p.renderer == nil {
		return blob{}, errNotApplicable
	}
	data, err := p.renderer.RenderPreview(ctx, doc)
	if err != nil {
		return blob{}, fmt.Errorf("render preview: %w", err)
	}
	return blob{data: data}, nil
}

func (p *Pipeline) fromGallery(ctx context.Context, item domain.ContentItem) (blob, error) {
	if len(item.Media.Gallery) == 0 {
		return blob{}, errNotApplicable
	}
	return p.download(ctx, item.Media.Gallery[0])
}

// generate asks the image generator first and draws the local title cover when it is absent,
// fails, or returns something that does not decode.
func (p *Pipeline) generate(ctx context.Context, item domain.ContentItem) (blob, error) {
	if p.generator != nil {
		data, err := p.generator.Generate(ctx, buildPrompt(item, p.cfg.GeneratorStyle))
		if err == nil {
			if _, _, err = image.DecodeConfig(bytes.NewReader(data)); err == nil {
				return blob{data: data}, nil
			}
		}
		if ctx.Err() != nil {
			return blob{}, ctx.Err()
		}
		p.logger.Warn("image generator failed, drawing cover", "content_id", item.ID, "error", err)
	}

	title := item.Title
	if strings.TrimSpace(title) == "" {
		title = item.SourceURL()
	}
	data, err := generateCover(title)
	if err != nil {
		return blob{}, err
	}
	return blob{data: data, contentType: "image/png"}, nil
}

func (p *Pipeline) download(ctx context.Context, url string) (blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return blob{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := p.client.Do(req)
	if err != nil {
		return blob{}, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return blob{}, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxImageBytes+1))
	if err != nil {
		return blob{}, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > p.cfg.MaxImageBytes {
		return blob{}, fmt.Errorf("download %s: image larger than %d bytes", url, p.cfg.MaxImageBytes)
	}
	return blob{data: data, contentType: resp.Header.Get("Content-Type")}, nil
}
