// Package visualization renders pipeline results for inspection: mask
// overlays on the source frames and per-nodule area trajectories.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"thyroidscan/internal/models"
	"thyroidscan/pkg/imaging"
)

var (
	// MaskColor tints segmented pixels
	MaskColor = color.RGBA{R: 255, A: 255}

	// BoxColor outlines nodule boxes
	BoxColor = color.RGBA{G: 255, A: 255}
)

// Viewer overlays per-frame masks on the original frames
type Viewer struct {
	// frames are the uncropped input frames
	frames []image.Image

	// masks holds one original-resolution mask per frame
	masks []*mat.Dense

	// boxes holds optional original-space boxes per frame
	boxes [][]image.Rectangle

	// alpha is the mask tint opacity in [0,1]
	alpha float64
}

// NewViewer creates a viewer over frames and their masks
func NewViewer(frames []image.Image, masks []*mat.Dense) *Viewer {
	return &Viewer{frames: frames, masks: masks, alpha: 0.4}
}

// WithBoxes sets per-frame boxes drawn as outlines on every overlay
func (v *Viewer) WithBoxes(boxes [][]image.Rectangle) *Viewer {
	v.boxes = boxes
	return v
}

// WithAlpha sets the mask tint opacity
func (v *Viewer) WithAlpha(alpha float64) *Viewer {
	v.alpha = min(max(alpha, 0), 1)
	return v
}

// Len returns the number of frames
func (v *Viewer) Len() int { return len(v.frames) }

// Overlay renders frame with its mask tinted and its boxes outlined
func (v *Viewer) Overlay(frame int) (image.Image, error) {
	if frame < 0 || frame >= len(v.frames) {
		return nil, fmt.Errorf("frame %d outside [0,%d)", frame, len(v.frames))
	}

	out := imaging.ToRGBA(v.frames[frame])
	b := out.Bounds()

	if frame < len(v.masks) && v.masks[frame] != nil {
		m := v.masks[frame]
		r, c := m.Dims()
		if r != b.Dy() || c != b.Dx() {
			return nil, fmt.Errorf("mask %d is %dx%d, frame is %dx%d", frame, c, r, b.Dx(), b.Dy())
		}
		for y := 0; y < r; y++ {
			for x := 0; x < c; x++ {
				if m.At(y, x) != 0 {
					out.SetRGBA(x, y, blend(out.RGBAAt(x, y), MaskColor, v.alpha))
				}
			}
		}
	}

	if frame < len(v.boxes) {
		for _, box := range v.boxes[frame] {
			outline(out, box.Intersect(b), BoxColor)
		}
	}
	return out, nil
}

func blend(dst, src color.RGBA, alpha float64) color.RGBA {
	mix := func(d, s uint8) uint8 { return uint8(float64(d)*(1-alpha) + float64(s)*alpha + 0.5) }
	return color.RGBA{R: mix(dst.R, src.R), G: mix(dst.G, src.G), B: mix(dst.B, src.B), A: 255}
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}

// ExtractRegion copies the r region of a frame's mask
func (v *Viewer) ExtractRegion(frame int, r image.Rectangle) (*mat.Dense, error) {
	if frame < 0 || frame >= len(v.masks) || v.masks[frame] == nil {
		return nil, fmt.Errorf("no mask for frame %d", frame)
	}
	if r.Empty() {
		return nil, fmt.Errorf("region must not be empty")
	}
	rows, cols := v.masks[frame].Dims()
	if !r.In(image.Rect(0, 0, cols, rows)) {
		return nil, fmt.Errorf("region %v extends beyond mask %dx%d", r, cols, rows)
	}
	return mat.DenseCopyOf(v.masks[frame].Slice(r.Min.Y, r.Max.Y, r.Min.X, r.Max.X)), nil
}

// SaveImage writes img as a PNG file
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveMask writes a {0,1} mask as a black and white PNG
func SaveMask(m mat.Matrix, filename string) error {
	return SaveImage(imaging.MaskToGray(m), filename)
}

// SaveOverlaySequence renders every overlay into outputDir as NNN.png
func (v *Viewer) SaveOverlaySequence(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for i := range v.frames {
		img, err := v.Overlay(i)
		if err != nil {
			return err
		}
		if err := SaveImage(img, filepath.Join(outputDir, fmt.Sprintf("%03d.png", i))); err != nil {
			return err
		}
	}
	return nil
}

// AreaPoints returns a nodule's enlarged box area per observed frame
func AreaPoints(n *models.Nodule) plotter.XYs {
	pts := make(plotter.XYs, 0, n.Len())
	for i, frame := range n.FrameNumbers {
		box := n.Boxes[i]
		pts = append(pts, plotter.XY{X: float64(frame), Y: float64(box.Dx() * box.Dy())})
	}
	return pts
}

// PlotNoduleAreas draws the area trajectory of a nodule and marks the
// observation used for classification
func PlotNoduleAreas(n *models.Nodule, filename string) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.Len() == 0 {
		return fmt.Errorf("nodule %d has no observations", n.ID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Nodule %d - ROI Area", n.ID)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Area (px²)"

	pts := AreaPoints(n)
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = BoxColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("area", line)

	best, err := plotter.NewScatter(plotter.XYs{pts[n.LargestROIIdx]})
	if err != nil {
		return err
	}
	best.Color = MaskColor
	best.Radius = vg.Points(3)
	p.Add(best)
	p.Legend.Add("largest", best)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, filename)
}
