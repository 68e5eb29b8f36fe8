package badge

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/godbus/dbus/v5"
)

// DefaultDesktopID is the launcher entry announced when none is configured.
const DefaultDesktopID = "msgshell.desktop"

const unityUpdateSignal = "com.canonical.Unity.LauncherEntry.Update"

// Emitter is the part of *dbus.Conn used to broadcast launcher signals.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	Close() error
}

// Unity sets the count through the Unity LauncherEntry API, which GNOME
// (dash-to-dock), KDE Plasma and Unity all listen to.
type Unity struct {
	conn  Emitter
	appID string
	path  dbus.ObjectPath
}

func NewUnity(conn Emitter, desktopID string) *Unity {
	desktopID = strings.TrimSpace(desktopID)
	if desktopID == "" {
		desktopID = DefaultDesktopID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(desktopID))
	return &Unity{
		conn:  conn,
		appID: "application://" + desktopID,
		path:  dbus.ObjectPath(fmt.Sprintf("/com/canonical/unity/launcherentry/%d", h.Sum32())),
	}
}

func (u *Unity) Set(count int) error {
	props := map[string]dbus.Variant{
		"count":         dbus.MakeVariant(int64(count)),
		"count-visible": dbus.MakeVariant(count > 0),
	}
	if err := u.conn.Emit(u.path, unityUpdateSignal, u.appID, props); err != nil {
		return fmt.Errorf("launcher entry update: %w", err)
	}
	return nil
}

func (u *Unity) Close() error { return u.conn.Close() }
