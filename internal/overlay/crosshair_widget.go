package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// CrosshairWidget marks the optical centre of the frame, which is handy
// when aligning a camera on a target
type CrosshairWidget struct {
	*BaseWidget
	size      int
	thickness int
	lineColor color.RGBA
}

// NewCrosshairWidget creates a crosshair centred on the frame
func NewCrosshairWidget(id string, config map[string]interface{}) (*CrosshairWidget, error) {
	w := &CrosshairWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 0.8),
		size:       40,
		thickness:  1,
		lineColor:  color.RGBA{0, 255, 0, 255},
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns the widget type
func (w *CrosshairWidget) Type() string {
	return "crosshair"
}

// Render draws a horizontal and a vertical bar through the centre, shifted by x/y
func (w *CrosshairWidget) Render(img *image.RGBA, _ FrameInfo) error {
	if !w.IsEnabled() || w.size <= 0 || w.thickness <= 0 {
		return nil
	}
	b := img.Bounds()
	cx := (b.Min.X+b.Max.X)/2 + w.x
	cy := (b.Min.Y+b.Max.Y)/2 + w.y
	half, t := w.size/2, w.thickness

	bar := image.NewRGBA(image.Rect(0, 0, w.size, t))
	draw.Draw(bar, bar.Bounds(), &image.Uniform{w.lineColor}, image.Point{}, draw.Src)
	BlendImage(img, bar, cx-half, cy-t/2, w.opacity)

	// Skip the centre square so it is not blended twice.
	upper := image.NewRGBA(image.Rect(0, 0, t, half-t/2))
	draw.Draw(upper, upper.Bounds(), &image.Uniform{w.lineColor}, image.Point{}, draw.Src)
	BlendImage(img, upper, cx-t/2, cy-half, w.opacity)
	BlendImage(img, upper, cx-t/2, cy-t/2+t, w.opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *CrosshairWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig()
	delete(config, "position")
	config["type"] = w.Type()
	config["size"] = w.size
	config["thickness"] = w.thickness
	config["color"] = colorConfig(w.lineColor)
	return config
}

// UpdateConfig updates the widget configuration
func (w *CrosshairWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)
	if _, ok := config["size"]; ok {
		w.size = getInt(config["size"])
	}
	if _, ok := config["thickness"]; ok {
		w.thickness = getInt(config["thickness"])
	}
	if c, ok := getColor(config["color"]); ok {
		w.lineColor = c
	}
	return nil
}
