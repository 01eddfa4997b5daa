//go:build darwin

package roombridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

const coreGraphicsPath = "/System/Library/Frameworks/CoreGraphics.framework/CoreGraphics"

var (
	cgOnce    sync.Once
	cgInitErr error

	cgGetActiveDisplayList func(maxDisplays uint32, activeDisplays *uint32, displayCount *uint32) int32
	cgDisplayPixelsWide    func(display uint32) uint64
	cgDisplayPixelsHigh    func(display uint32) uint64
	cgMainDisplayID        func() uint32
)

func initCoreGraphics() {
	handle, err := purego.Dlopen(coreGraphicsPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		cgInitErr = fmt.Errorf("load CoreGraphics: %w", err)
		return
	}

	purego.RegisterLibFunc(&cgGetActiveDisplayList, handle, "CGGetActiveDisplayList")
	purego.RegisterLibFunc(&cgDisplayPixelsWide, handle, "CGDisplayPixelsWide")
	purego.RegisterLibFunc(&cgDisplayPixelsHigh, handle, "CGDisplayPixelsHigh")
	purego.RegisterLibFunc(&cgMainDisplayID, handle, "CGMainDisplayID")
}

// cgDisplayProvider enumerates active displays via CoreGraphics.
type cgDisplayProvider struct{}

func (cgDisplayProvider) ListDisplays(ctx context.Context) ([]*Display, error) {
	cgOnce.Do(initCoreGraphics)
	if cgInitErr != nil {
		return nil, cgInitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	const maxDisplays = 16
	ids := make([]uint32, maxDisplays)
	var count uint32
	if rc := cgGetActiveDisplayList(maxDisplays, &ids[0], &count); rc != 0 {
		return nil, fmt.Errorf("CGGetActiveDisplayList failed: %d", rc)
	}

	main := cgMainDisplayID()
	displays := make([]*Display, 0, count)
	for _, id := range ids[:count] {
		displays = append(displays, &Display{
			ID:      fmt.Sprintf("cg-display-%d", id),
			Name:    fmt.Sprintf("Display %d", id),
			Width:   int(cgDisplayPixelsWide(id)),
			Height:  int(cgDisplayPixelsHigh(id)),
			Primary: id == main,
		})
	}
	return displays, nil
}

func init() {
	RegisterDisplayProvider(cgDisplayProvider{})
}
