// Package desktop delivers notifications through the OS notification center.
package desktop

import (
	"context"
	"strings"

	"github.com/gen2brain/beeep"

	kit "msgshell/internal/transport"
)

// Backend is the subset of beeep used by Sink.
type Backend interface {
	Notify(title, message, icon string) error
	Alert(title, message, icon string) error
}

type beeepBackend struct{}

func (beeepBackend) Notify(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

func (beeepBackend) Alert(title, message, icon string) error {
	return beeep.Alert(title, message, icon)
}

// Sink shows a toast per notification. Silent notifications use Notify;
// the rest use Alert, which also plays the platform sound.
type Sink struct {
	backend Backend
	icon    string
}

func New(icon string) *Sink { return &Sink{backend: beeepBackend{}, icon: strings.TrimSpace(icon)} }

// NewWithBackend is used by tests and by hosts with their own toast code.
func NewWithBackend(b Backend, icon string) *Sink { return &Sink{backend: b, icon: icon} }

func (s *Sink) Name() string { return kit.ChannelDesktop }

func (s *Sink) Send(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Silent {
		return s.backend.Notify(n.Title, n.Body, s.icon)
	}
	return s.backend.Alert(n.Title, n.Body, s.icon)
}
