package imaging

import (
	"fmt"
	"image"
	_ "image/png"
	"math"
	"os"
)

// Chart geometry of a 24 patch color checker: 6 columns, 4 rows, with the
// neutral series on the bottom row.
const (
	chartColumns = 6
	chartRows    = 4
	PatchCount   = chartColumns * chartRows
	neutralFirst = 18

	minGain = 0.25
	maxGain = 4.0
)

// Reference sRGB values of the neutral series, white to black.
var neutralReference = [chartColumns][3]float64{
	{243, 243, 242},
	{200, 200, 200},
	{160, 160, 160},
	{122, 122, 121},
	{85, 85, 85},
	{52, 52, 52},
}

// Patch holds the mean 8-bit RGB value of one chart patch.
type Patch struct {
	R, G, B float64
}

// Swatch is the set of measured chart patches in row-major order.
type Swatch struct {
	Patches [PatchCount]Patch
}

// Gains are per-channel multipliers applied during color correction.
type Gains struct {
	R, G, B float64
}

// IdentityGains leaves pixel values unchanged.
func IdentityGains() Gains {
	return Gains{R: 1, G: 1, B: 1}
}

// IsIdentity reports whether applying the gains would be a no-op.
func (g Gains) IsIdentity() bool {
	const eps = 1e-4
	return math.Abs(g.R-1) < eps && math.Abs(g.G-1) < eps && math.Abs(g.B-1) < eps
}

// MeasureSwatch decodes the blurred reference image at path and samples every
// chart patch.
func MeasureSwatch(path string) (Swatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return Swatch{}, fmt.Errorf("open reference: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return Swatch{}, fmt.Errorf("decode reference %s: %w", path, err)
	}
	return Measure(img)
}

// Measure samples the central half of each chart cell and averages it.
func Measure(img image.Image) (Swatch, error) {
	bounds := img.Bounds()
	if bounds.Dx() < chartColumns*2 || bounds.Dy() < chartRows*2 {
		return Swatch{}, fmt.Errorf("reference image too small: %dx%d", bounds.Dx(), bounds.Dy())
	}
	cellW := float64(bounds.Dx()) / chartColumns
	cellH := float64(bounds.Dy()) / chartRows

	var swatch Swatch
	for row := 0; row < chartRows; row++ {
		for col := 0; col < chartColumns; col++ {
			x0 := bounds.Min.X + int(cellW*(float64(col)+0.25))
			x1 := bounds.Min.X + int(cellW*(float64(col)+0.75))
			y0 := bounds.Min.Y + int(cellH*(float64(row)+0.25))
			y1 := bounds.Min.Y + int(cellH*(float64(row)+0.75))
			swatch.Patches[row*chartColumns+col] = meanPatch(img, x0, y0, max(x1, x0+1), max(y1, y0+1))
		}
	}
	return swatch, nil
}

func meanPatch(img image.Image, x0, y0, x1, y1 int) Patch {
	var r, g, b float64
	count := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += float64(pr >> 8)
			g += float64(pg >> 8)
			b += float64(pb >> 8)
			count++
		}
	}
	n := float64(count)
	return Patch{R: r / n, G: g / n, B: b / n}
}

// Gains derives per-channel multipliers that map the measured neutral series
// onto its reference values.
func (s Swatch) Gains() Gains {
	var measured, reference [3]float64
	for i := 0; i < chartColumns; i++ {
		p := s.Patches[neutralFirst+i]
		measured[0] += p.R
		measured[1] += p.G
		measured[2] += p.B
		for c := 0; c < 3; c++ {
			reference[c] += neutralReference[i][c]
		}
	}
	gain := func(c int) float64 {
		if measured[c] <= 0 {
			return 1
		}
		return clamp(reference[c]/measured[c], minGain, maxGain)
	}
	return Gains{R: gain(0), G: gain(1), B: gain(2)}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
