package device_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/galaxycam/internal/device"
	"github.com/bryanchriswhite/galaxycam/internal/device/sim"
)

func TestSelect(t *testing.T) {
	infos := []device.Info{
		{Serial: "FDA21110001"},
		{Serial: "FDB22050042"},
		{Serial: "KJ0042"},
	}
	tests := []struct {
		name     string
		selector string
		want     int
		matched  bool
	}{
		{"empty selector", "", 0, false},
		{"exact", "KJ0042", 2, true},
		{"substring", "0042", 1, true},
		{"no match falls back", "ZZZ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := device.Select(infos, tt.selector)
			if got != tt.want || matched != tt.matched {
				t.Errorf("Select(%q) = %d, %v; want %d, %v", tt.selector, got, matched, tt.want, tt.matched)
			}
		})
	}
}

func openSim(t *testing.T, opts sim.Options) *sim.Camera {
	t.Helper()
	d := sim.New(opts)
	if err := d.InitLibrary(); err != nil {
		t.Fatal(err)
	}
	h, err := d.Open(0)
	if err != nil {
		t.Fatal(err)
	}
	return h.(*sim.Camera)
}

func TestConfigureClampsAndNegotiates(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Formats = []string{"RGB8"}
	cam := openSim(t, opts)
	log := zerolog.Nop()

	applied := device.Configure(cam, device.Settings{ExposureMS: 5000, Gain: -3}, &log)

	if applied.PixelFormat != device.PixelFormatRGB8 {
		t.Errorf("PixelFormat = %v, want RGB8 (BGR8 unsupported)", applied.PixelFormat)
	}
	if applied.ExposureUS != 1_000_000 {
		t.Errorf("ExposureUS = %v, want clamped 1e6", applied.ExposureUS)
	}
	if applied.Gain != 0 {
		t.Errorf("Gain = %v, want clamped 0", applied.Gain)
	}
	if v, _ := cam.Enum(device.FeatureTriggerMode); v != device.TriggerModeOff {
		t.Errorf("trigger mode = %d", v)
	}
	if v, _ := cam.Enum(device.FeatureAcquisitionMode); v != device.AcquisitionModeContinuous {
		t.Errorf("acquisition mode = %d", v)
	}
	if v, _ := cam.Enum(device.FeatureFrameRateMode); v != device.FrameRateModeOff {
		t.Errorf("frame rate mode = %d", v)
	}
	if len(applied.Warnings) != 0 {
		t.Errorf("Warnings = %v", applied.Warnings)
	}
}

func TestConfigureExposureUnits(t *testing.T) {
	cam := openSim(t, sim.DefaultOptions())
	log := zerolog.Nop()

	applied := device.Configure(cam, device.Settings{ExposureMS: 2.5, Gain: 6}, &log)

	if got, _ := cam.Float(device.FeatureExposureTime); got != 2500 {
		t.Errorf("exposure written = %v µs, want 2500", got)
	}
	if applied.Gain != 6 {
		t.Errorf("Gain = %v, want 6", applied.Gain)
	}
	if applied.PixelFormat != device.PixelFormatBayerRG8 {
		t.Errorf("PixelFormat = %v, want BayerRG8 fallback", applied.PixelFormat)
	}
}

func TestConfigureSkipsMissingFeatures(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Unimplemented = []string{"Gain", "AcquisitionFrameRateMode"}
	cam := openSim(t, opts)
	log := zerolog.Nop()

	applied := device.Configure(cam, device.Settings{ExposureMS: 10, Gain: 3}, &log)

	if applied.GainRange != nil {
		t.Error("gain range reported for a camera without gain")
	}
	if _, ok := cam.Float(device.FeatureGain); ok {
		t.Error("gain written to a camera without gain")
	}
	if _, ok := cam.Enum(device.FeatureFrameRateMode); ok {
		t.Error("frame rate mode written to a camera without it")
	}
	if len(applied.Warnings) != 0 {
		t.Errorf("Warnings = %v", applied.Warnings)
	}
}

func TestConfigureFrameRate(t *testing.T) {
	cam := openSim(t, sim.DefaultOptions())
	log := zerolog.Nop()

	applied := device.Configure(cam, device.Settings{ExposureMS: 1, FrameRate: 500}, &log)
	if applied.FrameRate != 200 {
		t.Errorf("FrameRate = %v, want clamped 200", applied.FrameRate)
	}
	if v, _ := cam.Enum(device.FeatureFrameRateMode); v != device.FrameRateModeOn {
		t.Errorf("frame rate mode = %d, want on", v)
	}
}

type countingDriver struct {
	*sim.Driver
	name string
}

func (d countingDriver) Name() string { return d.name }

func TestLibraryRefcount(t *testing.T) {
	d := countingDriver{Driver: sim.New(sim.DefaultOptions()), name: t.Name()}

	a, err := device.AcquireLibrary(d)
	if err != nil {
		t.Fatal(err)
	}
	b, err := device.AcquireLibrary(d)
	if err != nil {
		t.Fatal(err)
	}
	if inits, _ := d.Counts(); inits != 1 {
		t.Fatalf("library initialised %d times, want 1", inits)
	}
	if n := device.LibraryRefs(d.Name()); n != 2 {
		t.Fatalf("LibraryRefs() = %d, want 2", n)
	}

	_ = a.Release()
	_ = a.Release()
	if _, closes := d.Counts(); closes != 0 {
		t.Fatal("library closed while still referenced")
	}
	_ = b.Release()
	if _, closes := d.Counts(); closes != 1 {
		t.Fatalf("library closed %d times, want 1", closes)
	}
	if n := device.LibraryRefs(d.Name()); n != 0 {
		t.Fatalf("LibraryRefs() = %d after release", n)
	}
}

func TestLibraryPerDriverValue(t *testing.T) {
	a := sim.New(sim.DefaultOptions())
	b := sim.New(sim.DefaultOptions())

	la, err := device.AcquireLibrary(a)
	if err != nil {
		t.Fatal(err)
	}
	lb, err := device.AcquireLibrary(b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Enumerate(0); err != nil {
		t.Fatalf("second driver Enumerate() error = %v", err)
	}
	if n := device.LibraryRefs(sim.Name); n != 2 {
		t.Fatalf("LibraryRefs() = %d, want 2", n)
	}

	if err := lb.Release(); err != nil {
		t.Fatalf("second driver Release() error = %v", err)
	}
	if err := la.Release(); err != nil {
		t.Fatalf("first driver Release() error = %v", err)
	}
	for name, d := range map[string]*sim.Driver{"first": a, "second": b} {
		if inits, closes := d.Counts(); inits != 1 || closes != 1 {
			t.Errorf("%s driver init/close = %d/%d, want 1/1", name, inits, closes)
		}
	}
}

func TestLibraryInitFailure(t *testing.T) {
	s := sim.New(sim.DefaultOptions())
	s.InitErr = device.StatusNotFoundTL
	d := countingDriver{Driver: s, name: t.Name()}

	if _, err := device.AcquireLibrary(d); !errors.Is(err, device.StatusNotFoundTL) {
		t.Fatalf("AcquireLibrary() error = %v, want NotFoundTL", err)
	}
	if n := device.LibraryRefs(d.Name()); n != 0 {
		t.Fatalf("failed init left %d refs", n)
	}
}

func TestLookup(t *testing.T) {
	d, err := device.Lookup(sim.Name, map[string]any{"width": 16, "height": 8})
	if err != nil {
		t.Fatalf("Lookup(sim) error = %v", err)
	}
	if d.Name() != sim.Name {
		t.Errorf("Name() = %q", d.Name())
	}
	if _, err := device.Lookup("nope", nil); !errors.Is(err, device.ErrUnknownDriver) {
		t.Errorf("Lookup(nope) error = %v, want ErrUnknownDriver", err)
	}
}

func TestStatusError(t *testing.T) {
	if !errors.Is(device.StatusTimeout, device.ErrTimeout) {
		t.Error("StatusTimeout does not match ErrTimeout")
	}
	if device.StatusSuccess.Err() != nil {
		t.Error("StatusSuccess.Err() != nil")
	}
	if got := device.StatusNotFoundDevice.Error(); got != "galaxy status -3: device not found" {
		t.Errorf("Error() = %q", got)
	}
	if got := device.PixelFormat(0x01100003).String(); got != "PixelFormat(0x01100003)" {
		t.Errorf("String() = %q", got)
	}
}
