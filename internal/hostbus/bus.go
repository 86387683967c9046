package hostbus

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("hostbus: bus name already taken")

// Config names the helper on the bus.
type Config struct {
	BusName    string
	ObjectPath string
	// Interface defaults to BusName.
	Interface string
}

func (c Config) iface() string {
	if c.Interface != "" {
		return c.Interface
	}
	return c.BusName
}

// Bus is an owned session bus connection.
type Bus struct {
	cfg    Config
	conn   *dbus.Conn
	logger *slog.Logger
}

// Connect opens the session bus and claims cfg.BusName.
func Connect(cfg Config, logger *slog.Logger) (*Bus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(cfg.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name %s: %w", cfg.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, cfg.BusName)
	}
	logger.Info("bus name acquired", "name", cfg.BusName, "path", cfg.ObjectPath)
	return &Bus{cfg: cfg, conn: conn, logger: logger}, nil
}

func (b *Bus) path() dbus.ObjectPath {
	return dbus.ObjectPath(b.cfg.ObjectPath)
}

// Host returns a Host emitting on this connection.
func (b *Bus) Host() *Host {
	return NewHost(b.conn, b.path(), b.cfg.iface(), b.logger)
}

// Surface returns a Surface emitting on this connection.
func (b *Bus) Surface() *Surface {
	return NewSurface(b.conn, b.path(), b.cfg.iface(), b.logger)
}

// Export publishes svc and its introspection data.
func (b *Bus) Export(svc *Service) error {
	if err := b.conn.Export(svc, b.path(), b.cfg.iface()); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	node := &introspect.Node{
		Name: b.cfg.ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: b.cfg.iface(), Methods: introspect.Methods(svc), Signals: Signals()},
		},
	}
	if err := b.conn.Export(introspect.NewIntrospectable(node), b.path(), "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}
	return nil
}

// Close releases the name and the connection.
func (b *Bus) Close() error {
	if _, err := b.conn.ReleaseName(b.cfg.BusName); err != nil {
		b.logger.Debug("release bus name", "error", err)
	}
	return b.conn.Close()
}

func arg(name, typ string) introspect.Arg {
	return introspect.Arg{Name: name, Type: typ, Direction: "out"}
}

// Signals describes the signals emitted by Host and Surface.
func Signals() []introspect.Signal {
	return []introspect.Signal{
		{Name: "CommitString", Args: []introspect.Arg{arg("ic", "i"), arg("text", "s")}},
		{Name: "UpdatePreeditString", Args: []introspect.Arg{arg("ic", "i"), arg("text", "s")}},
		{Name: "HidePreeditString", Args: []introspect.Arg{arg("ic", "i")}},
		{Name: "ForwardKeyEvent", Args: []introspect.Arg{arg("ic", "i"), arg("code", "u"), arg("mask", "u")}},
		{Name: "SetKeyboardSizeHints", Args: []introspect.Arg{arg("portrait_width", "i"), arg("portrait_height", "i"), arg("landscape_width", "i"), arg("landscape_height", "i")}},
		{Name: "SetSelection", Args: []introspect.Arg{arg("start", "i"), arg("end", "i")}},
		{Name: "GetSelection"},
		{Name: "GetSurroundingText", Args: []introspect.Arg{arg("max_before", "i"), arg("max_after", "i")}},
		{Name: "DeleteSurroundingText", Args: []introspect.Arg{arg("offset", "i"), arg("length", "i")}},
		{Name: "SelectKeyboard", Args: []introspect.Arg{arg("id", "s")}},
		{Name: "Exited"},
		{Name: "ShowSurface"},
		{Name: "HideSurface"},
		{Name: "ResizeSurface", Args: []introspect.Arg{arg("width", "i"), arg("height", "i")}},
	}
}
