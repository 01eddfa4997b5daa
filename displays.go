package roombridge

import (
	"context"
	"sync"
)

// Display describes one capture source (a physical display).
type Display struct {
	ID      string // Platform-specific identifier
	Name    string // Human-readable name
	Width   int    // Pixel width
	Height  int    // Pixel height
	Primary bool   // True for the main display
}

// DisplayProvider is implemented by platform-specific display enumerators.
type DisplayProvider interface {
	// ListDisplays returns the displays available for capture.
	ListDisplays(ctx context.Context) ([]*Display, error)
}

var (
	displayProviderMu sync.RWMutex
	displayProvider   DisplayProvider
)

// RegisterDisplayProvider replaces the process-wide display provider.
// The platform default is installed at init time where supported.
func RegisterDisplayProvider(p DisplayProvider) {
	displayProviderMu.Lock()
	defer displayProviderMu.Unlock()
	displayProvider = p
}

// ListDisplays enumerates displays through the registered provider.
func ListDisplays(ctx context.Context) ([]*Display, error) {
	displayProviderMu.RLock()
	p := displayProvider
	displayProviderMu.RUnlock()
	if p == nil {
		return nil, ErrNotSupported
	}
	return p.ListDisplays(ctx)
}
