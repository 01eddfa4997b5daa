//go:build !linux && !darwin

package roombridge

// No display provider is registered on this platform; ListDisplays returns
// ErrNotSupported unless the application registers its own.
