package scene

import (
	"slices"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
)

// SetRGB pins the frame a camera returns until cleared with nil. The frame
// is returned as-is even when its size does not match the request.
func (s *Scene) SetRGB(name string, pixels []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if !ok || o.kind != registry.KindCamera {
		return false
	}
	o.rgb = slices.Clone(pixels)
	return true
}

// SetDepth pins the depth frame a camera returns until cleared with nil.
func (s *Scene) SetDepth(name string, samples []uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if !ok || o.kind != registry.KindCamera {
		return false
	}
	o.depth = slices.Clone(samples)
	return true
}

// CaptureRGB renders a moving test pattern unless a frame is pinned.
func (s *Scene) CaptureRGB(name string, res attribute.Resolution) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[name]
	if !ok || o.kind != registry.KindCamera {
		return nil, false
	}
	if o.rgb != nil {
		return slices.Clone(o.rgb), true
	}
	o.frame++
	out := make([]byte, res.Pixels()*3)
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			i := (y*res.Width + x) * 3
			out[i] = byte(x + int(o.frame))
			out[i+1] = byte(y)
			out[i+2] = byte(o.frame)
		}
	}
	return out, true
}

// CaptureDepth renders a horizontal ramp unless a frame is pinned.
func (s *Scene) CaptureDepth(name string, res attribute.Resolution) ([]uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[name]
	if !ok || o.kind != registry.KindCamera {
		return nil, false
	}
	if o.depth != nil {
		return slices.Clone(o.depth), true
	}
	out := make([]uint16, res.Pixels())
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			out[y*res.Width+x] = uint16(x)
		}
	}
	return out, true
}
