package tray

import "testing"

func TestTitles(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"enabled", toggleTitle(true), "● Capturing"},
		{"paused", toggleTitle(false), "○ Paused"},
		{"no sign", signTitle(""), "Last: none"},
		{"sign with spaces", signTitle("hard of hearing"), "Last: hard of hearing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTray_StateWithoutMenu(t *testing.T) {
	tr := New(false)
	if tr.IsEnabled() {
		t.Error("IsEnabled() should reflect the initial state")
	}

	// Updates before the menu exists are kept for onReady.
	tr.SetLastSign("meet")
	if tr.lastSign != "meet" {
		t.Errorf("lastSign = %q, want %q", tr.lastSign, "meet")
	}
}
