package hero

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	sampleSize   = 16
	coverWidth   = 300
	coverHeight  = 157
	coverScale   = 4
	coverMargin  = 14
	coverLineLen = 38
	coverLines   = 6

	maxImageSide   = 12000
	maxImagePixels = 40_000_000
)

// analysis is what every tier must produce before a hero can be marked ready.
type analysis struct {
	format          string
	dominantColor   string
	blurPlaceholder string
}

// analyze checks the header dimensions before decoding so an oversized image is refused
// without allocating its pixels.
func analyze(data []byte, placeholderWidth int) (analysis, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return analysis{}, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return analysis{}, fmt.Errorf("empty image")
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide || cfg.Width*cfg.Height > maxImagePixels {
		return analysis{}, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return analysis{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return analysis{}, fmt.Errorf("empty image")
	}

	blur, err := blurPlaceholder(img, placeholderWidth)
	if err != nil {
		return analysis{}, err
	}
	return analysis{format: format, dominantColor: dominantColor(img), blurPlaceholder: blur}, nil
}

// dominantColor downsamples to a small grid, buckets colors by their high bits and averages the largest bucket.
func dominantColor(img image.Image) string {
	small := image.NewRGBA(image.Rect(0, 0, sampleSize, sampleSize))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	type acc struct{ r, g, b, n int }
	buckets := map[uint16]*acc{}
	var best *acc
	for y := 0; y < sampleSize; y++ {
		for x := 0; x < sampleSize; x++ {
			c := small.RGBAAt(x, y)
			if c.A < 128 {
				continue
			}
			key := uint16(c.R>>4)<<8 | uint16(c.G>>4)<<4 | uint16(c.B>>4)
			a := buckets[key]
			if a == nil {
				a = &acc{}
				buckets[key] = a
			}
			a.r += int(c.R)
			a.g += int(c.G)
			a.b += int(c.B)
			a.n++
			if best == nil || a.n > best.n {
				best = a
			}
		}
	}
	if best == nil {
		return "#000000"
	}
	return fmt.Sprintf("#%02x%02x%02x", best.r/best.n, best.g/best.n, best.b/best.n)
}

func blurPlaceholder(img image.Image, width int) (string, error) {
	if width <= 0 {
		width = 16
	}
	b := img.Bounds()
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	thumb := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return "", fmt.Errorf("encode placeholder: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// generateCover draws title text on a color derived from the title, then upscales it.
func generateCover(title string) ([]byte, error) {
	bg := coverColor(title)
	small := image.NewRGBA(image.Rect(0, 0, coverWidth, coverHeight))
	draw.Draw(small, small.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: small, Src: image.NewUniform(textColor(bg)), Face: basicfont.Face7x13}
	lines := wrap(title, coverLineLen, coverLines)
	lineHeight := basicfont.Face7x13.Metrics().Height.Ceil() + 4
	y := coverMargin + lineHeight
	for _, line := range lines {
		d.Dot = fixed.P(coverMargin, y)
		d.DrawString(line)
		y += lineHeight
	}

	out := image.NewRGBA(image.Rect(0, 0, coverWidth*coverScale, coverHeight*coverScale))
	draw.NearestNeighbor.Scale(out, out.Bounds(), small, small.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

func coverColor(seed string) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	v := h.Sum32()
	// keep channels in a muted mid range so white text stays readable
	return color.RGBA{R: uint8(40 + v%120), G: uint8(40 + (v>>8)%120), B: uint8(40 + (v>>16)%120), A: 255}
}

func textColor(bg color.RGBA) color.Color {
	lum := 299*int(bg.R) + 587*int(bg.G) + 114*int(bg.B)
	if lum > 150*1000 {
		return color.Black
	}
	return color.White
}

// wrap breaks text into at most maxLines lines of width runes, ending with "..." when cut short.
func wrap(text string, width, maxLines int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var (
		lines []string
		cur   []rune
	)
	for _, word := range words {
		w := []rune(word)
		if len(w) > width {
			w = w[:width]
		}
		switch {
		case len(cur) == 0:
			cur = w
		case len(cur)+1+len(w) <= width:
			cur = append(append(cur, ' '), w...)
		default:
			lines = append(lines, string(cur))
			cur = w
		}
		if len(lines) == maxLines {
			break
		}
	}
	if len(cur) > 0 && len(lines) < maxLines {
		lines = append(lines, string(cur))
	}
	if len(lines) == maxLines && strings.Join(lines, " ") != strings.Join(words, " ") {
		last := []rune(lines[maxLines-1])
		if len(last) > width-3 {
			last = []rune(strings.TrimSpace(string(last[:width-3])))
		}
		lines[maxLines-1] = string(last) + "..."
	}
	return lines
}
