//go:build linux

package badge

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// NewPlatform connects to the session bus for launcher badges.
func NewPlatform(desktopID string) (Setter, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	return NewUnity(conn, desktopID), nil
}
