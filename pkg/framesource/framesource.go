// Package framesource extracts the ordered raw frames of an ultrasound
// acquisition from disk.
package framesource

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"

	"thyroidscan/internal/models"
	"thyroidscan/pkg/imaging"
)

// ErrNoFrames is returned when the input holds no decodable frame
var ErrNoFrames = errors.New("no frames found")

// Load reads every frame of the acquisition at path. A directory is read as
// one frame per image file, ordered by the number in the file name. A GIF
// or multi-page TIFF yields all of its frames; other formats yield one.
func Load(path string) ([]models.Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var images []image.Image
	if info.IsDir() {
		images, err = loadDir(path)
	} else {
		images, err = loadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, path)
	}

	bounds := images[0].Bounds()
	frames := make([]models.Frame, len(images))
	for i, img := range images {
		if img.Bounds().Dx() != bounds.Dx() || img.Bounds().Dy() != bounds.Dy() {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d",
				i, img.Bounds().Dx(), img.Bounds().Dy(), bounds.Dx(), bounds.Dy())
		}
		frames[i] = models.Frame{Image: imaging.ToRGBA(img), Index: i}
	}

	return frames, nil
}

func loadDir(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := decoders[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, e.Name())
		}
	}

	// Sort by the numeric part of the name so that frame_10 follows frame_9
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	var images []image.Image
	for _, name := range files {
		imgs, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		images = append(images, imgs...)
	}
	return images, nil
}

type decoder func(io.Reader) ([]image.Image, error)

func single(decode func(io.Reader) (image.Image, error)) decoder {
	return func(r io.Reader) ([]image.Image, error) {
		img, err := decode(r)
		if err != nil {
			return nil, err
		}
		return []image.Image{img}, nil
	}
}

var decoders = map[string]decoder{
	".png":  single(png.Decode),
	".jpg":  single(jpeg.Decode),
	".jpeg": single(jpeg.Decode),
	".tif":  decodeTIFF,
	".tiff": decodeTIFF,
	".bmp":  single(bmp.Decode),
	".gif":  decodeGIF,
}

func loadFile(path string) ([]image.Image, error) {
	dec, ok := decoders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return dec(f)
}

// decodeGIF composites every GIF frame onto the logical screen so that each
// returned frame is a full raster, as a viewer would show it.
func decodeGIF(r io.Reader) ([]image.Image, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}

	screen := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if screen.Empty() && len(g.Image) > 0 {
		screen = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(screen)

	out := make([]image.Image, 0, len(g.Image))
	for i, frame := range g.Image {
		var backup *image.RGBA
		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalPrevious {
			backup = imaging.ToRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		out = append(out, imaging.ToRGBA(canvas))

		if i < len(g.Disposal) {
			switch g.Disposal[i] {
			case gif.DisposalBackground:
				draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
			case gif.DisposalPrevious:
				draw.Draw(canvas, canvas.Bounds(), backup, image.Point{}, draw.Src)
			}
		}
	}
	return out, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}

	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}
