package output

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestWriteFrameRequiresStart(t *testing.T) {
	m := NewMJPEGOutput(Config{FPS: 10})
	if err := m.WriteFrame(solidFrame(8, 8, color.RGBA{A: 255})); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("WriteFrame() before Start error = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err == nil {
		t.Fatal("second Start() succeeded")
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	m := NewMJPEGOutput(Config{Quality: 95})
	srv := httptest.NewServer(m.SnapshotHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before first frame = %d", resp.StatusCode)
	}

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()
	if err := m.WriteFrame(solidFrame(16, 12, color.RGBA{200, 40, 40, 255})); err != nil {
		t.Fatal(err)
	}

	resp, err = http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 12 {
		t.Fatalf("snapshot %v", b)
	}
	r, g, _, _ := img.At(8, 6).RGBA()
	if r>>8 < 180 || g>>8 > 70 {
		t.Fatalf("snapshot colour r=%d g=%d", r>>8, g>>8)
	}
}

func TestStreamDeliversParts(t *testing.T) {
	m := NewMJPEGOutput(Config{FPS: 30})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(m.StreamHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("Content-Type = %q (%v)", resp.Header.Get("Content-Type"), err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		frame := solidFrame(8, 8, color.RGBA{10, 200, 10, 255})
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				m.WriteFrame(frame)
			}
		}
	}()

	mr := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Fatalf("part Content-Type = %q", ct)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			t.Fatalf("part %d is not a JPEG: %v", i, err)
		}
	}

	if s := m.Stats(); s.Frames < 3 || s.Clients != 1 || !s.Running {
		t.Fatalf("Stats() = %+v", s)
	}

	m.Stop()
	deadline = time.Now().Add(2 * time.Second)
	for m.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not released after Stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamRefusedWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.StreamHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
