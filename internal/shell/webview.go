//go:build cgo

package shell

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	webview "github.com/webview/webview_go"

	logx "msgshell/pkg/logx"
)

func init() {
	// The webview event loop must own the main OS thread.
	runtime.LockOSThread()
}

// Run opens the window, binds h into the page and blocks until the window
// is closed or ctx is done. It must be called from the main goroutine.
func Run(ctx context.Context, win Window, h *Host) error {
	js, err := h.Preload()
	if err != nil {
		return fmt.Errorf("shell: preload: %w", err)
	}

	w := webview.New(win.Debug)
	if w == nil {
		return errors.New("shell: webview create failed")
	}
	defer w.Destroy()

	w.SetTitle(win.Title)
	w.SetSize(win.Width, win.Height, webview.HintNone)
	for name, fn := range h.Bindings() {
		if err := w.Bind(name, fn); err != nil {
			return fmt.Errorf("shell: bind %s: %w", name, err)
		}
	}
	w.Init(js)
	w.Navigate(win.URL)

	stop := context.AfterFunc(ctx, func() { w.Dispatch(w.Terminate) })
	defer stop()

	h.log.Info("window opened", logx.String("url", win.URL))
	w.Run()
	h.Close()
	h.log.Info("window closed")
	return nil
}
