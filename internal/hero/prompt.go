package hero

import (
	"hash/fnv"
	"strings"

	"DiscoveryFeed/internal/domain"
)

const (
	negativeBase   = "blurry, lowres, bad anatomy, deformed, disfigured, extra limbs, bad hands, cross-eye, text, watermark, logo, jpeg artifacts, oversharpened, noisy, grainy, duplicate, malformed"
	defaultStyle   = "editorial"
	maxSubjectLen  = 240
	qualityTags    = "masterpiece, best quality, sharp details"
	promptSeedMask = 1<<31 - 1
)

// style is a preset of positive tags and sampler settings for the generator.
type style struct {
	tags     []string
	negative []string
	width    int
	height   int
	steps    int
	cfg      float64
}

var styles = map[string]style{
	"cinematic": {
		tags:   []string{"cinematic still", "volumetric light", "film grain subtle", "moody shadows", "rim light", qualityTags},
		width:  1024,
		height: 1024,
		steps:  35,
		cfg:    7.0,
	},
	"editorial": {
		tags:   []string{"editorial photograph", "studio lighting", "softbox", "crisp edges", "magazine look", "rich color"},
		width:  1024,
		height: 1280,
		steps:  36,
		cfg:    7.2,
	},
	"street": {
		tags:   []string{"documentary", "candid", "natural light", "realistic color", "fine texture", "subtle grain"},
		width:  1024,
		height: 1024,
		steps:  32,
		cfg:    6.8,
	},
	"watercolor": {
		tags:     []string{"watercolor illustration", "soft edges", "paper texture", "muted palette"},
		negative: []string{"photoreal"},
		width:    1024,
		height:   1024,
		steps:    28,
		cfg:      7.0,
	},
	"poster": {
		tags:   []string{"art deco poster", "bold geometry", "flat color", "strong symmetry"},
		width:  1024,
		height: 1536,
		steps:  30,
		cfg:    7.2,
	},
}

// buildPrompt describes the item by its title and first sentence, decorated with the preset tags.
// The seed derives from the content id so a forced re-resolve asks for the same image.
func buildPrompt(item domain.ContentItem, styleName string) domain.ImagePrompt {
	st, ok := styles[strings.ToLower(strings.TrimSpace(styleName))]
	if !ok {
		st = styles[defaultStyle]
	}

	subject := strings.TrimSpace(item.Title)
	if lead := firstSentence(item.Text); lead != "" && !strings.EqualFold(lead, subject) {
		if subject == "" {
			subject = lead
		} else {
			subject += ". " + lead
		}
	}
	if subject == "" {
		subject = item.SourceURL()
	}
	subject = truncateRunes(subject, maxSubjectLen)

	negative := append([]string{negativeBase}, st.negative...)
	h := fnv.New32a()
	_, _ = h.Write([]byte(item.ID))

	return domain.ImagePrompt{
		Positive: subject + ", " + strings.Join(st.tags, ", "),
		Negative: strings.Join(negative, ", "),
		Width:    st.width,
		Height:   st.height,
		Steps:    st.steps,
		CFGScale: st.cfg,
		Seed:     int64(h.Sum32() & promptSeedMask),
	}
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
