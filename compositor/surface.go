package compositor

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
)

// Surface is the fixed-size drawing target of pixel compositing.
type Surface struct {
	mu  sync.Mutex
	img *image.RGBA
}

func NewSurface(width, height int) *Surface {
	return &Surface{
		img: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

func (s *Surface) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return image.Rectangle{}
	}

	return s.img.Bounds()
}

// Clear paints the whole surface black.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return
	}

	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
}

// DrawFill scales src to cover the full surface.
func (s *Surface) DrawFill(src image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return
	}

	draw.ApproxBiLinear.Scale(s.img, s.img.Bounds(), src, src.Bounds(), draw.Src, nil)
}

// DrawInset draws a border of the given width around r, then src scaled into r.
func (s *Surface) DrawInset(src image.Image, r image.Rectangle, border int, borderColor color.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return
	}

	if border > 0 {
		draw.Draw(s.img, r.Inset(-border), image.NewUniform(borderColor), image.Point{}, draw.Over)
	}

	draw.ApproxBiLinear.Scale(s.img, r, src, src.Bounds(), draw.Src, nil)
}

// Snapshot copies the current pixels into a new frame.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.img == nil {
		return nil
	}

	frame := image.NewRGBA(s.img.Bounds())
	copy(frame.Pix, s.img.Pix)

	return frame
}

// Close drops the pixel buffer, later draws are ignored.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.img = nil

	return nil
}
