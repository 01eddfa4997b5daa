//go:build linux

package roombridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	x11Once    sync.Once
	x11InitErr error

	xOpenDisplay   func(name uintptr) uintptr
	xCloseDisplay  func(display uintptr) int32
	xScreenCount   func(display uintptr) int32
	xDisplayWidth  func(display uintptr, screen int32) int32
	xDisplayHeight func(display uintptr, screen int32) int32
)

func initX11() {
	handle, err := purego.Dlopen("libX11.so.6", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		x11InitErr = fmt.Errorf("load libX11: %w", err)
		return
	}

	purego.RegisterLibFunc(&xOpenDisplay, handle, "XOpenDisplay")
	purego.RegisterLibFunc(&xCloseDisplay, handle, "XCloseDisplay")
	purego.RegisterLibFunc(&xScreenCount, handle, "XScreenCount")
	purego.RegisterLibFunc(&xDisplayWidth, handle, "XDisplayWidth")
	purego.RegisterLibFunc(&xDisplayHeight, handle, "XDisplayHeight")
}

// x11DisplayProvider enumerates X screens via libX11.
type x11DisplayProvider struct{}

func (x11DisplayProvider) ListDisplays(ctx context.Context) ([]*Display, error) {
	x11Once.Do(initX11)
	if x11InitErr != nil {
		return nil, x11InitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dpy := xOpenDisplay(0)
	if dpy == 0 {
		return nil, fmt.Errorf("cannot open X display")
	}
	defer xCloseDisplay(dpy)

	count := xScreenCount(dpy)
	displays := make([]*Display, 0, count)
	for screen := int32(0); screen < count; screen++ {
		displays = append(displays, &Display{
			ID:      fmt.Sprintf("x11-screen-%d", screen),
			Name:    fmt.Sprintf("Screen %d", screen),
			Width:   int(xDisplayWidth(dpy, screen)),
			Height:  int(xDisplayHeight(dpy, screen)),
			Primary: screen == 0,
		})
	}
	return displays, nil
}

func init() {
	RegisterDisplayProvider(x11DisplayProvider{})
}
