package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"
)

func blankFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{0, 0, 0, 255}}, image.Point{}, draw.Src)
	return img
}

func litPixels(img *image.RGBA, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if c := img.RGBAAt(x, y); c.R != 0 || c.G != 0 || c.B != 0 {
				n++
			}
		}
	}
	return n
}

func TestTextTemplateExpands(t *testing.T) {
	w, err := NewTextWidget("info", map[string]interface{}{
		"template": "{{.Serial}} #{{.Seq}} {{.Format}} {{.Rate}}",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.Expand(FrameInfo{Serial: "FDA0001", Seq: 42, Format: "BayerRG8", FPS: 29.97})
	if err != nil {
		t.Fatal(err)
	}
	if want := "FDA0001 #42 BayerRG8 30.0"; got != want {
		t.Fatalf("Expand() = %q, want %q", got, want)
	}
}

func TestTextTemplateErrors(t *testing.T) {
	if _, err := NewTextWidget("bad", map[string]interface{}{"template": "{{.Serial"}); err == nil {
		t.Fatal("unterminated template accepted")
	}
	w, err := NewTextWidget("missing", map[string]interface{}{"template": "{{.Nope}}"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Render(blankFrame(50, 50), FrameInfo{}); err == nil {
		t.Fatal("unknown field rendered without error")
	}
}

func TestTextAnchors(t *testing.T) {
	tests := []struct {
		position string
		corner   image.Rectangle
	}{
		{"top-left", image.Rect(0, 0, 100, 30)},
		{"top-right", image.Rect(100, 0, 200, 30)},
		{"bottom-left", image.Rect(0, 70, 100, 100)},
		{"bottom-right", image.Rect(100, 70, 200, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.position, func(t *testing.T) {
			w, err := NewTextWidget("t", map[string]interface{}{
				"template": "XX",
				"position": tt.position,
				"x":        2,
				"y":        2,
			})
			if err != nil {
				t.Fatal(err)
			}
			img := blankFrame(200, 100)
			if err := w.Render(img, FrameInfo{}); err != nil {
				t.Fatal(err)
			}
			inside := litPixels(img, tt.corner)
			if inside == 0 || inside != litPixels(img, img.Bounds()) {
				t.Fatalf("text not confined to %v: %d of %d pixels", tt.corner, inside, litPixels(img, img.Bounds()))
			}
		})
	}
}

func TestCrosshairCentred(t *testing.T) {
	w, err := NewCrosshairWidget("x", map[string]interface{}{"size": 20, "opacity": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	img := blankFrame(100, 80)
	if err := w.Render(img, FrameInfo{}); err != nil {
		t.Fatal(err)
	}
	if c := img.RGBAAt(50, 40); c.G != 255 {
		t.Fatalf("centre pixel = %v", c)
	}
	if c := img.RGBAAt(50, 32); c.G != 255 {
		t.Fatalf("vertical bar missing: %v", c)
	}
	if c := img.RGBAAt(5, 5); c.G != 0 {
		t.Fatalf("corner painted: %v", c)
	}
	if n := litPixels(img, img.Bounds()); n != 40 {
		t.Fatalf("lit pixels = %d, want 40", n)
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	added := m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "info", "template": "{{.Seq}}"},
		{"type": "crosshair", "id": "centre"},
		{"type": "clock", "id": "nope"},
		{"id": "untyped"},
		{"type": "text", "id": "info"},
	})
	if added != 2 {
		t.Fatalf("LoadFromConfig() added %d, want 2", added)
	}

	ids := []string{}
	for _, w := range m.GetAllWidgets() {
		ids = append(ids, w.ID())
	}
	if len(ids) != 2 || ids[0] != "info" || ids[1] != "centre" {
		t.Fatalf("widget order = %v", ids)
	}

	if err := m.UpdateWidget("info", map[string]interface{}{"template": "{{.Serial}}"}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateWidget("ghost", nil); err == nil {
		t.Fatal("UpdateWidget on unknown id succeeded")
	}
	if cfg := m.ExportConfig(); cfg[0]["template"] != "{{.Serial}}" {
		t.Fatalf("exported %v", cfg[0])
	}

	img := blankFrame(120, 90)
	m.SetEnabled(false)
	m.Render(img, FrameInfo{Serial: "S", Time: time.Now()})
	if litPixels(img, img.Bounds()) != 0 {
		t.Fatal("disabled overlay drew")
	}
	m.SetEnabled(true)
	m.Render(img, FrameInfo{Serial: "S", Time: time.Now()})
	if litPixels(img, img.Bounds()) == 0 {
		t.Fatal("overlay drew nothing")
	}

	if err := m.RemoveWidget("centre"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetWidget("centre"); ok {
		t.Fatal("removed widget still present")
	}
	m.Clear()
	if len(m.GetAllWidgets()) != 0 {
		t.Fatal("Clear() left widgets")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	w, err := NewTextWidget("info", map[string]interface{}{
		"template":   "hi",
		"background": map[string]interface{}{"r": 1.0, "g": 2.0, "b": 3.0, "a": 200.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	clone, err := NewTextWidget("info", w.GetConfig())
	if err != nil {
		t.Fatal(err)
	}
	if clone.bgColor == nil || *clone.bgColor != (color.RGBA{1, 2, 3, 200}) || clone.GetText() != "hi" {
		t.Fatalf("clone = %+v", clone.GetConfig())
	}
}
