// Package texmath is the typesetting backend: a pure function from
// normalized markup to PNG bytes. It performs no resource control and no
// I/O beyond producing the encoded image.
package texmath

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/snaptexdev/snaptex/internal/sandbox"
)

// Style holds the static typesetting parameters. These are rendering
// configuration, fixed at startup, not per-request input.
type Style struct {
	FontSize   float64 // points
	DPI        float64
	Foreground color.Color
	Background color.Color
	Padding    int // pixels
}

// DefaultStyle matches a dark chat background so the output blends in.
func DefaultStyle() Style {
	return Style{
		FontSize:   16,
		DPI:        180,
		Foreground: color.White,
		Background: color.RGBA{R: 0x36, G: 0x39, B: 0x3F, A: 0xFF},
		Padding:    24,
	}
}

// Renderer typesets markup with an embedded italic serif face.
type Renderer struct {
	mu    sync.Mutex // the font.Face is not safe for concurrent use
	face  font.Face
	style Style
}

func NewRenderer(style Style) (*Renderer, error) {
	ft, err := opentype.Parse(goitalic.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(ft, &opentype.FaceOptions{
		Size:    style.FontSize,
		DPI:     style.DPI,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	return &Renderer{face: face, style: style}, nil
}

// Render typesets text into a PNG. budget, when non-nil, must admit the
// pixel buffer allocation before it is made; a rejected reservation
// surfaces as the memory-limit outcome. Malformed markup yields a
// *sandbox.InputError.
func (r *Renderer) Render(text string, budget *sandbox.Budget) ([]byte, error) {
	lines, err := prepare(text)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics := r.face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()

	width := 0
	for _, line := range lines {
		if w := font.MeasureString(r.face, line).Ceil(); w > width {
			width = w
		}
	}
	if width == 0 {
		width = lineHeight
	}

	w := width + 2*r.style.Padding
	h := len(lines)*lineHeight + 2*r.style.Padding

	// RGBA backing array, 4 bytes per pixel.
	if err := budget.Reserve(int64(w) * int64(h) * 4); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.style.Background), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(r.style.Foreground),
		Face: r.face,
	}
	for i, line := range lines {
		d.Dot = fixed.P(r.style.Padding, r.style.Padding+ascent+i*lineHeight)
		d.DrawString(line)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	textGroup  = regexp.MustCompile(`\\text\{([^{}]*)\}`)
	controlSeq = regexp.MustCompile(`\\([a-zA-Z]+)`)
)

// prepare validates markup and resolves it into printable lines.
func prepare(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &sandbox.InputError{Msg: "nothing to render"}
	}
	if strings.Count(text, "$")%2 != 0 {
		return nil, &sandbox.InputError{Msg: "unbalanced $ math delimiters"}
	}

	text = textGroup.ReplaceAllString(text, "$1")
	if strings.Contains(text, `\text`) {
		return nil, &sandbox.InputError{Msg: `unterminated \text group`}
	}

	var unknown string
	text = controlSeq.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1:]
		if sym, ok := symbols[name]; ok {
			return sym
		}
		if unknown == "" {
			unknown = name
		}
		return m
	})
	if unknown != "" {
		return nil, &sandbox.InputError{Msg: fmt.Sprintf(`unknown control sequence \%s`, unknown)}
	}

	// Math delimiters and grouping braces carry no visual weight here.
	text = strings.NewReplacer("$", "", "{", "", "}", "").Replace(text)

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return lines, nil
}
