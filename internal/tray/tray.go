// Package tray provides a system tray control surface for signcaption.
package tray

import (
	"sync"
	"unicode/utf8"

	"github.com/getlantern/systray"
)

// maxCaptionTitle bounds the caption shown in the menu.
const maxCaptionTitle = 40

// Tray represents the system tray application.
type Tray struct {
	onToggle func(enabled bool) error
	onClear  func()
	onViewer func()
	onQuit   func()
	enabled  bool
	caption  string
	conn     string
	mu       sync.RWMutex

	// Menu items stored for later updates
	menuToggle  *systray.MenuItem
	menuCaption *systray.MenuItem
	menuConn    *systray.MenuItem
}

// New creates a new Tray with detection shown as disabled.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback run when detection is toggled. When it returns
// an error the menu keeps the previous state.
func (t *Tray) OnToggle(fn func(enabled bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnClear sets the callback run by the clear caption item.
func (t *Tray) OnClear(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClear = fn
}

// OnOpenViewer sets the callback run by the open viewer item.
func (t *Tray) OnOpenViewer(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onViewer = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray event loop.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("SignCaption")
	systray.SetTooltip("SignCaption live captions")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle hand detection")
	systray.AddSeparator()

	t.menuCaption = systray.AddMenuItem(captionTitle(t.caption), "Current caption")
	t.menuCaption.Disable()
	t.menuConn = systray.AddMenuItem(connTitle(t.conn), "Predictor connection")
	t.menuConn.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuClear := systray.AddMenuItem("Clear Caption", "Clear the running caption")
	menuViewer := systray.AddMenuItem("Open Viewer...", "Open the caption viewer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit SignCaption")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuClear.ClickedCh:
				t.handleClear()
			case <-menuViewer.ClickedCh:
				t.handleViewer()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	want := !t.enabled
	callback := t.onToggle
	t.mu.RUnlock()

	// The callback may block on camera startup; run it outside the lock.
	if callback != nil {
		if err := callback(want); err != nil {
			return
		}
	}
	t.SetEnabled(want)
}

func (t *Tray) handleClear() {
	t.mu.RLock()
	callback := t.onClear
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleViewer() {
	t.mu.RLock()
	callback := t.onViewer
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetEnabled updates the toggle to reflect the detection state.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// SetCaption updates the caption display in the menu.
func (t *Tray) SetCaption(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.caption = text
	if t.menuCaption != nil {
		t.menuCaption.SetTitle(captionTitle(text))
	}
}

// SetConnection updates the predictor connection display.
func (t *Tray) SetConnection(state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = state
	if t.menuConn != nil {
		t.menuConn.SetTitle(connTitle(state))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// Caption returns the caption last passed to SetCaption.
func (t *Tray) Caption() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caption
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Detecting"
	}
	return "○ Paused"
}

// captionTitle keeps the tail of long captions, which holds the newest words.
func captionTitle(text string) string {
	if text == "" {
		return "Caption: none"
	}
	if n := utf8.RuneCountInString(text); n > maxCaptionTitle {
		r := []rune(text)
		text = "…" + string(r[n-maxCaptionTitle:])
	}
	return "Caption: " + text
}

func connTitle(state string) string {
	if state == "" {
		state = "closed"
	}
	return "Predictor: " + state
}
