package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/galaxycam/internal/device"
	"github.com/bryanchriswhite/galaxycam/internal/device/sim"
	"github.com/bryanchriswhite/galaxycam/internal/queue"
)

func testDriver(mutate func(*sim.Options)) *sim.Driver {
	opts := sim.DefaultOptions()
	opts.Width, opts.Height = 32, 24
	opts.FPS = 0
	if mutate != nil {
		mutate(&opts)
	}
	return sim.New(opts)
}

func testOptions(d device.Driver) Options {
	log := zerolog.Nop()
	opts := DefaultOptions()
	opts.Driver = d
	opts.Logger = &log
	opts.AcquireTimeout = 20 * time.Millisecond
	opts.Settings = device.Settings{ExposureMS: 10, Gain: 1}
	return opts
}

func openCamera(t *testing.T, opts Options) *Camera {
	t.Helper()
	cam, err := Open(opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { cam.Close() })
	return cam
}

func onlyCamera(t *testing.T, d *sim.Driver) *sim.Camera {
	t.Helper()
	opened := d.Opened()
	if len(opened) != 1 {
		t.Fatalf("driver opened %d cameras, want 1", len(opened))
	}
	return opened[0]
}

func TestReadDeliversOrderedFrames(t *testing.T) {
	d := testDriver(nil)
	cam := openCamera(t, testOptions(d))

	var lastTS time.Time
	for want := uint64(1); want <= 10; want++ {
		f, err := cam.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if f.Seq != want {
			t.Fatalf("Seq = %d, want %d", f.Seq, want)
		}
		if f.Timestamp.Before(lastTS) {
			t.Fatalf("timestamp went backwards at seq %d", f.Seq)
		}
		if f.Image.Cols() != 32 || f.Image.Rows() != 24 || f.Image.Channels() != 3 {
			t.Fatalf("frame %dx%d/%d", f.Image.Cols(), f.Image.Rows(), f.Image.Channels())
		}
		if f.Format != device.PixelFormatBayerRG8 {
			t.Fatalf("Format = %v", f.Format)
		}
		lastTS = f.Timestamp
		f.Close()
	}

	if err := cam.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	acct := onlyCamera(t, d).Accounting()
	if acct.Outstanding != 0 || acct.Acquired != acct.Released || acct.DoubleReleases != 0 {
		t.Fatalf("buffer accounting after Close = %+v", acct)
	}
	if !onlyCamera(t, d).Closed() {
		t.Fatal("device left open")
	}
	if inits, closes := d.Counts(); inits != 1 || closes != 1 {
		t.Fatalf("library init/close = %d/%d, want 1/1", inits, closes)
	}
	if _, err := cam.Read(); !errors.Is(err, ErrNotStreaming) {
		t.Fatalf("Read() after Close error = %v, want ErrNotStreaming", err)
	}
	if cam.State() != NotRunning {
		t.Fatalf("State() = %v after Close", cam.State())
	}
}

func TestFullQueueBlocksProducerAndCloseStillReturns(t *testing.T) {
	d := testDriver(nil)
	cam := openCamera(t, testOptions(d))

	time.Sleep(200 * time.Millisecond)
	s := cam.Stats()
	if s.Queued != 3 || s.Delivered != 3 {
		t.Fatalf("Stats() = queued %d delivered %d, want 3/3", s.Queued, s.Delivered)
	}
	if s.Dropped != 0 {
		t.Fatalf("Dropped = %d under block policy", s.Dropped)
	}

	start := time.Now()
	done := make(chan error)
	go func() { done <- cam.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() hung with a full queue")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Close() took %v", elapsed)
	}

	acct := onlyCamera(t, d).Accounting()
	if acct.Outstanding != 0 || acct.Acquired != acct.Released {
		t.Fatalf("buffer accounting after Close = %+v", acct)
	}
}

func TestDropOldestKeepsNewest(t *testing.T) {
	d := testDriver(nil)
	opts := testOptions(d)
	opts.Overflow = queue.DropOldest
	cam := openCamera(t, opts)

	time.Sleep(100 * time.Millisecond)
	if s := cam.Stats(); s.Dropped == 0 || s.Queued != 3 {
		t.Fatalf("Stats() = %+v, want drops and a full queue", s)
	}

	first, err := cam.Read()
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	if first.Seq <= 1 {
		t.Fatalf("oldest frame was not dropped, got seq %d", first.Seq)
	}
	second, err := cam.Read()
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if second.Seq <= first.Seq {
		t.Fatalf("seq %d after %d", second.Seq, first.Seq)
	}
}

func TestLoopSurvivesFaults(t *testing.T) {
	d := testDriver(nil)
	d.Faults = func(n uint64) sim.Outcome {
		switch n {
		case 1:
			return sim.Timeout
		case 2:
			return sim.Fail
		case 3:
			return sim.Incomplete
		case 4:
			return sim.Truncated
		case 5:
			return sim.Unsupported
		}
		return sim.Deliver
	}
	cam := openCamera(t, testOptions(d))

	f, err := cam.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	f.Close()
	if f.Seq != 1 {
		t.Fatalf("first delivered Seq = %d, want 1", f.Seq)
	}

	s := cam.Stats()
	if s.Timeouts < 1 || s.AcquireErrors != 1 || s.Incomplete != 1 || s.ConvertErrors != 2 {
		t.Fatalf("Stats() = %+v", s)
	}

	cam.Close()
	acct := onlyCamera(t, d).Accounting()
	if acct.Outstanding != 0 || acct.Acquired != acct.Released || acct.DoubleReleases != 0 {
		t.Fatalf("buffer accounting = %+v", acct)
	}
}

// panickyDriver hands out handles whose first Release panics after the
// buffer has already gone back to the pool.
type panickyDriver struct{ *sim.Driver }

func (d panickyDriver) Open(index int) (device.Handle, error) {
	h, err := d.Driver.Open(index)
	if err != nil {
		return nil, err
	}
	return &panickyHandle{Handle: h}, nil
}

type panickyHandle struct {
	device.Handle
	panicked atomic.Bool
}

func (h *panickyHandle) Release(frame *device.RawFrame) error {
	err := h.Handle.Release(frame)
	if h.panicked.CompareAndSwap(false, true) {
		panic("release bookkeeping")
	}
	return err
}

func TestPanicAfterReleaseDoesNotReleaseTwice(t *testing.T) {
	d := testDriver(nil)
	cam := openCamera(t, testOptions(panickyDriver{d}))

	f, err := cam.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	f.Close()
	if s := cam.Stats(); s.Panics != 1 || s.ReleaseErrors != 0 {
		t.Fatalf("Stats() = %+v", s)
	}

	cam.Close()
	acct := onlyCamera(t, d).Accounting()
	if acct.DoubleReleases != 0 || acct.Outstanding != 0 || acct.Acquired != acct.Released {
		t.Fatalf("buffer accounting = %+v", acct)
	}
}

type emptyDriver struct{ *sim.Driver }

func (emptyDriver) Enumerate(time.Duration) ([]device.Info, error) { return nil, nil }

func TestOpenFailuresUnwind(t *testing.T) {
	tests := []struct {
		name       string
		driver     func() *sim.Driver
		wrap       func(*sim.Driver) device.Driver
		want       error
		wantCloses int
		wantClosed bool
	}{
		{
			name: "library init",
			driver: func() *sim.Driver {
				d := testDriver(nil)
				d.InitErr = device.StatusNotFoundTL
				return d
			},
			want: device.StatusNotFoundTL,
		},
		{
			name:       "no devices",
			driver:     func() *sim.Driver { return testDriver(nil) },
			wrap:       func(d *sim.Driver) device.Driver { return emptyDriver{d} },
			want:       device.ErrNoDevice,
			wantCloses: 1,
		},
		{
			name: "open",
			driver: func() *sim.Driver {
				d := testDriver(nil)
				d.OpenErr = device.StatusOfflineDevice
				return d
			},
			want:       device.StatusOfflineDevice,
			wantCloses: 1,
		},
		{
			name: "stream on",
			driver: func() *sim.Driver {
				d := testDriver(nil)
				d.StreamErr = device.StatusInvalidCall
				return d
			},
			want:       device.StatusInvalidCall,
			wantCloses: 1,
			wantClosed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.driver()
			var drv device.Driver = d
			if tt.wrap != nil {
				drv = tt.wrap(d)
			}

			cam, err := Open(testOptions(drv))
			if cam != nil {
				cam.Close()
				t.Fatal("Open() returned a camera")
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Open() error = %v, want %v", err, tt.want)
			}
			if _, closes := d.Counts(); closes != tt.wantCloses {
				t.Fatalf("library closed %d times, want %d", closes, tt.wantCloses)
			}
			if n := device.LibraryRefs(sim.Name); n != 0 {
				t.Fatalf("%d library references leaked", n)
			}
			if tt.wantClosed && !onlyCamera(t, d).Closed() {
				t.Fatal("device left open after stream-on failure")
			}
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d := testDriver(nil)
	cam := openCamera(t, testOptions(d))
	if err := cam.Close(); err != nil {
		t.Fatal(err)
	}
	if err := cam.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, closes := d.Counts(); closes != 1 {
		t.Fatalf("library closed %d times", closes)
	}
}

func TestTwoDriversOpenIndependently(t *testing.T) {
	a := testDriver(func(o *sim.Options) { o.Serials = []string{"SIMA0001"} })
	b := testDriver(func(o *sim.Options) { o.Serials = []string{"SIMB0001"} })

	camA := openCamera(t, testOptions(a))
	camB := openCamera(t, testOptions(b))
	for _, cam := range []*Camera{camA, camB} {
		if _, err := cam.Read(); err != nil {
			t.Fatalf("%s Read() error = %v", cam.Info().Serial, err)
		}
	}
	if camB.Info().Serial != "SIMB0001" {
		t.Fatalf("second camera serial %q", camB.Info().Serial)
	}

	if err := camA.Close(); err != nil {
		t.Fatal(err)
	}
	if inits, closes := a.Counts(); inits != 1 || closes != 1 {
		t.Fatalf("first driver init/close = %d/%d, want 1/1", inits, closes)
	}
	if _, err := camB.Read(); err != nil {
		t.Fatalf("second camera stopped with the first: %v", err)
	}
	if err := camB.Close(); err != nil {
		t.Fatal(err)
	}
	if inits, closes := b.Counts(); inits != 1 || closes != 1 {
		t.Fatalf("second driver init/close = %d/%d, want 1/1", inits, closes)
	}
}

func TestSelectorPicksDevice(t *testing.T) {
	tests := []struct {
		selector string
		want     string
	}{
		{"", "FDA0001"},
		{"B00", "FDB0002"},
		{"nothing", "FDA0001"},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			d := testDriver(func(o *sim.Options) { o.Serials = []string{"FDA0001", "FDB0002"} })
			opts := testOptions(d)
			opts.DeviceSelector = tt.selector
			cam := openCamera(t, opts)
			if got := cam.Info().Serial; got != tt.want {
				t.Fatalf("opened %q, want %q", got, tt.want)
			}
			cam.Close()
		})
	}
}

func TestReadContextHonoursDeadline(t *testing.T) {
	d := testDriver(func(o *sim.Options) { o.FPS = 1 })
	cam := openCamera(t, testOptions(d))

	f, err := cam.Read()
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := cam.ReadContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadContext() error = %v, want DeadlineExceeded", err)
	}
}

func TestAppliedSettings(t *testing.T) {
	d := testDriver(func(o *sim.Options) { o.Formats = []string{"BGR8"} })
	cam := openCamera(t, testOptions(d))

	a := cam.Applied()
	if a.PixelFormat != device.PixelFormatBGR8 || a.ExposureUS != 10000 || a.Gain != 1 {
		t.Fatalf("Applied() = %+v", a)
	}
	f, err := cam.Read()
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Format != device.PixelFormatBGR8 {
		t.Fatalf("frame format %v, want BGR8", f.Format)
	}
}
