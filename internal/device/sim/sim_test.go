package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/bryanchriswhite/galaxycam/internal/device"
)

func openStreaming(t *testing.T, opts Options) (*Driver, *Camera) {
	t.Helper()
	d := New(opts)
	if err := d.InitLibrary(); err != nil {
		t.Fatalf("InitLibrary() error = %v", err)
	}
	h, err := d.Open(0)
	if err != nil {
		t.Fatalf("Open(0) error = %v", err)
	}
	if err := h.StartStreaming(); err != nil {
		t.Fatalf("StartStreaming() error = %v", err)
	}
	return d, h.(*Camera)
}

func smallOptions() Options {
	opts := DefaultOptions()
	opts.Width, opts.Height = 8, 4
	opts.FPS = 0
	opts.PoolSize = 2
	return opts
}

func TestRenderBayerPhases(t *testing.T) {
	tests := []struct {
		format device.PixelFormat
		tile   [4]uint8
	}{
		{device.PixelFormatBayerRG8, [4]uint8{10, 20, 20, 30}},
		{device.PixelFormatBayerGR8, [4]uint8{20, 10, 30, 20}},
		{device.PixelFormatBayerGB8, [4]uint8{20, 30, 10, 20}},
		{device.PixelFormatBayerBG8, [4]uint8{30, 20, 20, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			buf := make([]byte, 4*2)
			Render(buf, tt.format, 4, 2, Solid(10, 20, 30))
			got := [4]uint8{buf[0], buf[1], buf[4], buf[5]}
			if got != tt.tile {
				t.Errorf("tile = %v, want %v", got, tt.tile)
			}
		})
	}
}

func TestRenderPacked(t *testing.T) {
	buf := make([]byte, 3)
	Render(buf, device.PixelFormatRGB8, 1, 1, Solid(1, 2, 3))
	if buf[0] != 1 || buf[1] != 2 || buf[2] != 3 {
		t.Errorf("RGB8 = %v", buf)
	}
	Render(buf, device.PixelFormatBGR8, 1, 1, Solid(1, 2, 3))
	if buf[0] != 3 || buf[1] != 2 || buf[2] != 1 {
		t.Errorf("BGR8 = %v", buf)
	}
}

func TestAcquireRelease(t *testing.T) {
	_, cam := openStreaming(t, smallOptions())

	f, err := cam.Acquire(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(f.Data) != 8*4 || f.Format != device.PixelFormatBayerRG8 {
		t.Fatalf("frame %dx%d %v len=%d", f.Width, f.Height, f.Format, len(f.Data))
	}
	if a := cam.Accounting(); a.Outstanding != 1 {
		t.Fatalf("Outstanding = %d, want 1", a.Outstanding)
	}
	if err := cam.Release(f); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := cam.Release(f); err == nil {
		t.Fatal("second Release() succeeded")
	}
	a := cam.Accounting()
	if a.Outstanding != 0 || a.Released != 1 || a.DoubleReleases != 1 {
		t.Fatalf("Accounting() = %+v", a)
	}
}

func TestPoolExhaustionTimesOut(t *testing.T) {
	_, cam := openStreaming(t, smallOptions())

	for i := 0; i < 2; i++ {
		if _, err := cam.Acquire(50 * time.Millisecond); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}
	_, err := cam.Acquire(20 * time.Millisecond)
	if !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("Acquire() with empty pool error = %v, want timeout", err)
	}
}

func TestAcquireRequiresStreaming(t *testing.T) {
	d := New(smallOptions())
	_ = d.InitLibrary()
	h, _ := d.Open(0)
	if _, err := h.Acquire(10 * time.Millisecond); err == nil {
		t.Fatal("Acquire() before StartStreaming succeeded")
	}
}

func TestFaultPlan(t *testing.T) {
	d := New(smallOptions())
	d.Faults = func(n uint64) Outcome {
		switch n {
		case 1:
			return Timeout
		case 2:
			return Incomplete
		case 3:
			return Truncated
		}
		return Deliver
	}
	_ = d.InitLibrary()
	h, _ := d.Open(0)
	_ = h.StartStreaming()

	if _, err := h.Acquire(10 * time.Millisecond); !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("attempt 1 error = %v, want timeout", err)
	}
	f, err := h.Acquire(10 * time.Millisecond)
	if err != nil || f.Status != device.FrameStatusIncomplete {
		t.Fatalf("attempt 2 = %v, %v; want incomplete frame", f, err)
	}
	_ = h.Release(f)
	f, err = h.Acquire(10 * time.Millisecond)
	if err != nil || len(f.Data) >= f.Width*f.Height {
		t.Fatalf("attempt 3 = len %d, %v; want truncated data", len(f.Data), err)
	}
	_ = h.Release(f)
}

func TestSetPixelFormat(t *testing.T) {
	opts := smallOptions()
	opts.Formats = []string{"RGB8"}
	d := New(opts)
	_ = d.InitLibrary()
	h, _ := d.Open(0)

	if err := h.SetEnum(device.FeaturePixelFormat, int64(device.PixelFormatBGR8)); err == nil {
		t.Fatal("unsupported BGR8 accepted")
	}
	if err := h.SetEnum(device.FeaturePixelFormat, int64(device.PixelFormatRGB8)); err != nil {
		t.Fatalf("RGB8 rejected: %v", err)
	}
	if got := h.(*Camera).PixelFormat(); got != device.PixelFormatRGB8 {
		t.Fatalf("PixelFormat() = %v, want RGB8", got)
	}
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(map[string]any{
		"width":        "320",
		"height":       240,
		"pixel_format": "Mono8",
		"serials":      []any{"A1", "B2"},
	})
	if err != nil {
		t.Fatalf("DecodeOptions() error = %v", err)
	}
	if opts.Width != 320 || opts.Height != 240 || len(opts.Serials) != 2 || opts.PoolSize != 4 {
		t.Fatalf("DecodeOptions() = %+v", opts)
	}

	if _, err := DecodeOptions(map[string]any{"pixel_format": "Mono16"}); err == nil {
		t.Fatal("unknown pixel format accepted")
	}
	if _, err := DecodeOptions(map[string]any{"colour": "red"}); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestLibraryLifetime(t *testing.T) {
	d := New(smallOptions())
	if _, err := d.Enumerate(time.Second); err == nil {
		t.Fatal("Enumerate() before InitLibrary succeeded")
	}
	_ = d.InitLibrary()
	infos, err := d.Enumerate(time.Second)
	if err != nil || len(infos) != 1 || infos[0].Serial != "SIM00001" {
		t.Fatalf("Enumerate() = %v, %v", infos, err)
	}
	_ = d.CloseLibrary()
	if inits, closes := d.Counts(); inits != 1 || closes != 1 {
		t.Fatalf("Counts() = %d, %d", inits, closes)
	}
}
