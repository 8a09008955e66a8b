package framesource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"golang.org/x/image/tiff"
)

// ifdEntrySize is the size of one classic TIFF directory entry
const ifdEntrySize = 12

// decodeTIFF decodes every page of a TIFF file in page order. tiff.Decode
// reads the first directory only, so each page is decoded from a view whose
// header points at that page's directory.
func decodeTIFF(r io.Reader) ([]image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	order, pages, err := tiffPages(data)
	if err != nil {
		return nil, err
	}

	out := make([]image.Image, 0, len(pages))
	for i, ifd := range pages {
		img, err := tiff.Decode(newPageView(data, order, ifd))
		if err != nil {
			return nil, fmt.Errorf("tiff page %d: %w", i, err)
		}
		out = append(out, img)
	}
	return out, nil
}

// tiffPages walks the directory chain and returns every directory offset
func tiffPages(data []byte) (binary.ByteOrder, []uint32, error) {
	if len(data) < 8 {
		return nil, nil, errors.New("tiff: file too short")
	}

	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, nil, errors.New("tiff: invalid byte order mark")
	}
	if v := order.Uint16(data[2:4]); v != 42 {
		return nil, nil, fmt.Errorf("tiff: unsupported version %d", v)
	}

	var pages []uint32
	seen := make(map[uint32]bool)
	for off := order.Uint32(data[4:8]); off != 0; {
		if seen[off] {
			return nil, nil, fmt.Errorf("tiff: directory loop at offset %d", off)
		}
		seen[off] = true

		start := int(off)
		if start+2 > len(data) {
			return nil, nil, fmt.Errorf("tiff: directory offset %d beyond file", off)
		}
		next := start + 2 + ifdEntrySize*int(order.Uint16(data[start:]))
		if next+4 > len(data) {
			return nil, nil, fmt.Errorf("tiff: directory at %d is truncated", off)
		}

		pages = append(pages, off)
		off = order.Uint32(data[next:])
	}
	if len(pages) == 0 {
		return nil, nil, errors.New("tiff: no image directory")
	}
	return order, pages, nil
}

// pageView reads data with the first-directory offset replaced
type pageView struct {
	data   []byte
	header [8]byte
	pos    int64
}

func newPageView(data []byte, order binary.ByteOrder, ifd uint32) *pageView {
	v := &pageView{data: data}
	copy(v.header[:], data[:8])
	order.PutUint32(v.header[4:], ifd)
	return v
}

func (v *pageView) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("tiff: negative offset")
	}
	if off >= int64(len(v.data)) {
		return 0, io.EOF
	}

	n := copy(p, v.data[off:])
	for i := off; i < int64(len(v.header)) && i < off+int64(n); i++ {
		p[i-off] = v.header[i]
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (v *pageView) Read(p []byte) (int, error) {
	n, err := v.ReadAt(p, v.pos)
	v.pos += int64(n)
	return n, err
}
