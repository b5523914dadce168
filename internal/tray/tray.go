// Package tray provides a system tray menu for local capture.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool)
	onReset  func()
	onQuit   func()
	enabled  bool
	lastSign string
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuLastSign *systray.MenuItem
}

// New creates a new Tray with the given initial enabled state.
func New(enabled bool) *Tray {
	return &Tray{
		enabled: enabled,
	}
}

// OnToggle sets the callback function to be called when the enabled state is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnReset sets the callback function to be called when the reset menu item is clicked.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Signavatar")
	systray.SetTooltip("Signavatar sign recognition")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Pause or resume capture")
	systray.AddSeparator()

	t.menuLastSign = systray.AddMenuItem(signTitle(t.lastSign), "Last recognized sign")
	t.menuLastSign.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuReset := systray.AddMenuItem("Reset window", "Clear the frame window and return to rest")
	menuQuit := systray.AddMenuItem("Quit", "Quit Signavatar")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuReset.ClickedCh:
				t.handleReset()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	t.menuToggle.SetTitle(toggleTitle(enabled))
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleReset() {
	t.mu.RLock()
	callback := t.onReset
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
	t.SetLastSign("")
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetLastSign updates the last sign display in the menu. An empty label
// means the avatar is at rest.
func (t *Tray) SetLastSign(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastSign = label
	if t.menuLastSign != nil {
		t.menuLastSign.SetTitle(signTitle(label))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Capturing"
	}
	return "○ Paused"
}

func signTitle(label string) string {
	if label == "" {
		return "Last: none"
	}
	return fmt.Sprintf("Last: %s", label)
}
