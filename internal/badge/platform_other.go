//go:build !linux

package badge

// NewPlatform returns a no-op setter; only Linux launchers are supported.
func NewPlatform(string) (Setter, error) { return Nop(), nil }
