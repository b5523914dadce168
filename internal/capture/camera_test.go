package capture

import (
	"path/filepath"
	"testing"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Source
		wantErr bool
	}{
		{name: "empty is device 0", in: "", want: Source{}},
		{name: "device 0", in: "0", want: Source{DeviceID: 0}},
		{name: "device 2 with spaces", in: " 2 ", want: Source{DeviceID: 2}},
		{name: "file path", in: "testdata/meet.mp4", want: Source{File: "testdata/meet.mp4"}},
		{name: "negative device", in: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSource(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSource(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSource(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSource_String(t *testing.T) {
	if got := (Source{DeviceID: 1}).String(); got != "camera 1" {
		t.Errorf("String() = %q, want %q", got, "camera 1")
	}
	if got := (Source{File: "a.mp4"}).String(); got != "a.mp4" {
		t.Errorf("String() = %q, want %q", got, "a.mp4")
	}
}

func TestNewCamera(t *testing.T) {
	for _, src := range []Source{{DeviceID: 0}, {DeviceID: 1}, {File: "clip.mp4"}} {
		t.Run(src.String(), func(t *testing.T) {
			cam := NewCamera(src)

			if cam == nil {
				t.Fatal("NewCamera returned nil")
			}
			if got := cam.FPS(); got != DefaultFPS {
				t.Errorf("FPS() = %d, want %d (default)", got, DefaultFPS)
			}
			if cam.IsOpen() {
				t.Error("camera should not be running initially")
			}
		})
	}
}

func TestCamera_SetFPS(t *testing.T) {
	cam := NewCamera(Source{})

	tests := []struct {
		name    string
		fps     int
		wantFPS int
	}{
		{name: "set to 10", fps: 10, wantFPS: 10},
		{name: "set to 30", fps: 30, wantFPS: 30},
		{name: "set to 1", fps: 1, wantFPS: 1},
		{name: "set to 0 should keep previous", fps: 0, wantFPS: 1},
		{name: "set to negative should keep previous", fps: -5, wantFPS: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam.SetFPS(tt.fps)

			if got := cam.FPS(); got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}
		})
	}
}

func TestCamera_OpenMissingFile(t *testing.T) {
	cam := NewCamera(Source{File: filepath.Join(t.TempDir(), "missing.mp4")})

	if err := cam.Open(); err == nil {
		cam.Close()
		t.Fatal("Open() should fail for a missing file")
	}
	if cam.IsOpen() {
		t.Error("IsOpen() should be false after a failed Open()")
	}
}

func TestCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(Source{})

	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}
	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat.Empty() {
			t.Error("ReadFrame() returned empty mat")
		}
		mat.Close()
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
}

func TestCamera_ReadFrame_NotOpened(t *testing.T) {
	cam := NewCamera(Source{})

	if _, err := cam.ReadFrame(); err != ErrCameraNotOpen {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestCamera_Close_NotOpened(t *testing.T) {
	cam := NewCamera(Source{})

	if err := cam.Close(); err != nil {
		t.Errorf("Close() on not opened camera should return nil, got: %v", err)
	}
}
