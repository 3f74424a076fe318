package imaging

import (
	"fmt"
	"image"
	"image/color"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	chosenColor = color.NRGBA{R: 0, G: 200, B: 0, A: 255}
	otherColor  = color.NRGBA{R: 220, G: 30, B: 30, A: 255}
	labelColor  = color.NRGBA{R: 255, G: 255, B: 0, A: 255}
)

// Annotator draws detection boxes and a summary label for debug previews.
type Annotator struct {
	font *truetype.Font
}

func NewAnnotator() (*Annotator, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	return &Annotator{font: f}, nil
}

// Annotate outlines every face, the chosen one in green, and prints the
// face count in the top-left corner.
func (a *Annotator) Annotate(src *image.NRGBA, faces []image.Rectangle, chosen int) (*image.NRGBA, error) {
	dst := Flatten(src, color.NRGBA{A: 255})

	thickness := 2 + dst.Rect.Dx()/400
	for i, f := range faces {
		c := otherColor
		if i == chosen {
			c = chosenColor
		}
		outline(dst, f, thickness, c)
	}

	fontSize := float64(dst.Rect.Dy()) / 30
	if fontSize < 12 {
		fontSize = 12
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(a.font)
	ctx.SetFontSize(fontSize)
	ctx.SetClip(dst.Bounds())
	ctx.SetDst(dst)
	ctx.SetSrc(image.NewUniform(labelColor))

	label := fmt.Sprintf("faces: %d", len(faces))
	if len(faces) > 1 && chosen >= 0 {
		label = fmt.Sprintf("faces: %d, using largest", len(faces))
	}

	pt := freetype.Pt(int(fontSize/2), int(fontSize*1.2))
	if _, err := ctx.DrawString(label, pt); err != nil {
		return nil, fmt.Errorf("failed to draw label: %w", err)
	}

	return dst, nil
}

func outline(img *image.NRGBA, r image.Rectangle, t int, c color.NRGBA) {
	r = r.Intersect(img.Rect)
	if r.Empty() {
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if x-r.Min.X < t || r.Max.X-1-x < t || y-r.Min.Y < t || r.Max.Y-1-y < t {
				img.SetNRGBA(x, y, c)
			}
		}
	}
}
