package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget displays a line of text rendered from a template over FrameInfo
type TextWidget struct {
	*BaseWidget
	text      string
	tmpl      *template.Template
	fontSize  int
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 10, 10, 1.0),
		fontSize:   13, // basicfont size
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}
	if err := w.SetText("{{.Serial}} #{{.Seq}}"); err != nil {
		return nil, err
	}

	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}

	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Expand executes the template for one frame
func (w *TextWidget) Expand(info FrameInfo) (string, error) {
	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, templateData(info)); err != nil {
		return "", errors.Wrapf(err, "widget %s", w.id)
	}
	// basicfont draws a single line
	return strings.ReplaceAll(buf.String(), "\n", " "), nil
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA, info FrameInfo) error {
	if !w.IsEnabled() {
		return nil
	}
	text, err := w.Expand(info)
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	face := basicfont.Face7x13
	textWidthPx := font.MeasureString(face, text).Ceil()

	widgetWidth := textWidthPx + w.padding*2
	widgetHeight := w.fontSize + w.padding*2
	x, y := w.origin(img.Bounds(), widgetWidth, widgetHeight)

	if w.bgColor != nil {
		bgImg := image.NewRGBA(image.Rect(0, 0, widgetWidth, widgetHeight))
		draw.Draw(bgImg, bgImg.Bounds(), &image.Uniform{*w.bgColor}, image.Point{}, draw.Src)
		BlendImage(img, bgImg, x, y, w.opacity)
	}

	// Draw into a transparent scratch image so the glyph edges blend.
	textImg := image.NewRGBA(image.Rect(0, 0, textWidthPx, w.fontSize+face.Descent))
	textDrawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(w.textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	textDrawer.DrawString(text)

	BlendImage(img, textImg, x+w.padding, y+w.padding, w.opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig()
	config["type"] = w.Type()
	config["template"] = w.text
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

// UpdateConfig updates the widget configuration. "text" is accepted as an
// alias for "template".
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	text, ok := config["template"].(string)
	if !ok {
		text, ok = config["text"].(string)
	}
	if ok {
		if err := w.SetText(text); err != nil {
			return err
		}
	}

	w.updateBase(config)

	if _, ok := config["padding"]; ok {
		w.padding = getInt(config["padding"])
	}
	if c, ok := getColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := getColor(config["background"]); ok {
		w.bgColor = &c
	}
	return nil
}

// SetText replaces the template
func (w *TextWidget) SetText(text string) error {
	tmpl, err := template.New(w.id).Option("missingkey=error").Parse(text)
	if err != nil {
		return errors.Wrap(err, "parse text template")
	}
	w.text = text
	w.tmpl = tmpl
	return nil
}

// GetText returns the current template source
func (w *TextWidget) GetText() string {
	return w.text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.bgColor = c
}

// frameData is what templates see: FrameInfo plus preformatted fields
type frameData struct {
	FrameInfo
	Clock string
	Rate  string
}

func templateData(info FrameInfo) frameData {
	d := frameData{FrameInfo: info, Rate: strconv.FormatFloat(info.FPS, 'f', 1, 64)}
	if !info.Time.IsZero() {
		d.Clock = info.Time.Format("15:04:05.000")
	}
	return d
}
