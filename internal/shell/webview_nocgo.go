//go:build !cgo

package shell

import "context"

// Run reports ErrUnsupported: the webview backend needs cgo.
func Run(ctx context.Context, win Window, h *Host) error {
	h.Close()
	return ErrUnsupported
}
