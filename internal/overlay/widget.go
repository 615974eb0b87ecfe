package overlay

import (
	"image"
	"image/color"
	"time"
)

// FrameInfo is the per-frame data widgets can draw
type FrameInfo struct {
	Serial string
	Seq    uint64
	Time   time.Time
	Format string
	Width  int
	Height int
	FPS    float64
}

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the frame
	Render(img *image.RGBA, info FrameInfo) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// Anchor pins a widget to a corner of the frame; x and y become offsets
// from that corner
type Anchor string

const (
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
)

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	anchor  Anchor
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	return &BaseWidget{
		id:      id,
		enabled: true,
		x:       x,
		y:       y,
		anchor:  AnchorTopLeft,
		opacity: opacity,
	}
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled = enabled
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.opacity = opacity
}

// origin returns the top-left corner of a width x height box placed
// according to the anchor inside bounds
func (w *BaseWidget) origin(bounds image.Rectangle, width, height int) (int, int) {
	x, y := bounds.Min.X+w.x, bounds.Min.Y+w.y
	switch w.anchor {
	case AnchorTopRight:
		x = bounds.Max.X - w.x - width
	case AnchorBottomLeft:
		y = bounds.Max.Y - w.y - height
	case AnchorBottomRight:
		x = bounds.Max.X - w.x - width
		y = bounds.Max.Y - w.y - height
	}
	return x, y
}

// updateBase applies the keys every widget understands
func (w *BaseWidget) updateBase(config map[string]interface{}) {
	if _, ok := config["x"]; ok {
		w.x = getInt(config["x"])
	}
	if _, ok := config["y"]; ok {
		w.y = getInt(config["y"])
	}
	if anchor, ok := config["position"].(string); ok {
		switch Anchor(anchor) {
		case AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight:
			w.anchor = Anchor(anchor)
		}
	}
	if opacity, ok := config["opacity"].(float64); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

func (w *BaseWidget) baseConfig() map[string]interface{} {
	return map[string]interface{}{
		"id":       w.id,
		"enabled":  w.enabled,
		"x":        w.x,
		"y":        w.y,
		"position": string(w.anchor),
		"opacity":  w.opacity,
	}
}

// BlendImage blends a source image onto a destination image at the given position
// with the specified opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			sr, sg, sb, sa := src.At(sx, sy).RGBA()
			alpha := float64(sa) * opacity / 65535.0
			if alpha <= 0 {
				continue
			}

			// Camera frames are opaque, so only the source alpha matters.
			d := dst.RGBAAt(dx, dy)
			blend := func(s uint32, d uint8) uint8 {
				return uint8(float64(s>>8)*alpha + float64(d)*(1-alpha))
			}
			dst.SetRGBA(dx, dy, color.RGBA{
				R: blend(sr, d.R),
				G: blend(sg, d.G),
				B: blend(sb, d.B),
				A: 255,
			})
		}
	}
}

// getInt extracts an integer value from an interface{} that might be int or float64
func getInt(v interface{}) int {
	switch val := v.(type) {
	case int:
		return val
	case float64:
		return int(val)
	case int64:
		return int(val)
	case uint8:
		return int(val)
	default:
		return 0
	}
}

// getColor parses an {r, g, b, a} map
func getColor(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	c := color.RGBA{
		R: uint8(getInt(m["r"])),
		G: uint8(getInt(m["g"])),
		B: uint8(getInt(m["b"])),
		A: 255,
	}
	if _, ok := m["a"]; ok {
		c.A = uint8(getInt(m["a"]))
	}
	return c, true
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": c.R, "g": c.G, "b": c.B, "a": c.A}
}
