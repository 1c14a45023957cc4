//go:build linux

package link

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/sweeney/climate-sensor/internal/protocol"
)

const (
	busName          = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	gattManagerIface = "org.bluez.GattManager1"
	advManagerIface  = "org.bluez.LEAdvertisingManager1"
	serviceIface     = "org.bluez.GattService1"
	charIface        = "org.bluez.GattCharacteristic1"
	advIface         = "org.bluez.LEAdvertisement1"
	propsIface       = "org.freedesktop.DBus.Properties"
	objManagerIface  = "org.freedesktop.DBus.ObjectManager"
)

const (
	appPath     dbus.ObjectPath = "/org/sweeney/climate"
	servicePath                 = appPath + "/service0"
	rxPath                      = servicePath + "/char0"
	txPath                      = servicePath + "/char1"
	advPath                     = appPath + "/advertisement0"
)

// BlueZConfig selects the controller and the advertised name.
type BlueZConfig struct {
	Adapter   string // e.g. "hci0"
	LocalName string
}

// BlueZStack is a Stack backed by BlueZ over the system D-Bus. It exports a
// GATT application with the RX/TX characteristics and an LE advertisement,
// and follows Device1.Connected to report connections.
type BlueZStack struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	localName   string

	props   map[dbus.ObjectPath]*prop.Properties
	signals chan *dbus.Signal
	done    chan struct{}

	mu          sync.Mutex
	handlers    Handlers
	device      dbus.ObjectPath
	notifying   bool
	advertising bool
}

// NewBlueZStack connects to the system bus, powers the adapter and
// registers the GATT application. Advertising starts on demand.
func NewBlueZStack(cfg BlueZConfig) (*BlueZStack, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus; is bluetooth.service running?")
	}

	s := &BlueZStack{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + cfg.Adapter),
		localName:   cfg.LocalName,
		props:       make(map[dbus.ObjectPath]*prop.Properties),
		done:        make(chan struct{}),
	}

	if err := s.setAdapterProp("Powered", true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("power on %s: %w", cfg.Adapter, err)
	}
	if err := s.export(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.adapter().Call(gattManagerIface+".RegisterApplication", 0, appPath, map[string]dbus.Variant{}).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("register gatt application: %w", err)
	}

	s.signals = s.subscribePropertyChanges()
	go s.watch()

	return s, nil
}

// SetHandlers installs the callbacks.
func (s *BlueZStack) SetHandlers(h Handlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

// StartAdvertising registers the LE advertisement. Already advertising is not an error.
func (s *BlueZStack) StartAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advertising {
		return nil
	}
	if err := s.adapter().Call(advManagerIface+".RegisterAdvertisement", 0, advPath, map[string]dbus.Variant{}).Err; err != nil {
		return fmt.Errorf("register advertisement: %w", err)
	}
	s.advertising = true
	return nil
}

// StopAdvertising unregisters the LE advertisement.
func (s *BlueZStack) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.advertising {
		return nil
	}
	s.advertising = false
	if err := s.adapter().Call(advManagerIface+".UnregisterAdvertisement", 0, advPath).Err; err != nil {
		return fmt.Errorf("unregister advertisement: %w", err)
	}
	return nil
}

// Notify updates the TX value; BlueZ turns the PropertiesChanged into a
// notification to the subscribed client.
func (s *BlueZStack) Notify(data []byte) error {
	s.mu.Lock()
	notifying := s.notifying
	s.mu.Unlock()
	if !notifying {
		return fmt.Errorf("notify: no subscribed client")
	}
	s.props[txPath].SetMust(charIface, "Value", data)
	return nil
}

// Disconnect asks BlueZ to drop the current peer.
func (s *BlueZStack) Disconnect() error {
	s.mu.Lock()
	device := s.device
	s.mu.Unlock()
	if device == "" {
		return fmt.Errorf("disconnect: no connected peer")
	}
	if err := s.conn.Object(busName, device).Call(deviceIface+".Disconnect", 0).Err; err != nil {
		return fmt.Errorf("disconnect %s: %w", macFromPath(s.adapterPath, device), err)
	}
	return nil
}

// Close unregisters everything and closes the bus connection.
func (s *BlueZStack) Close() error {
	if err := s.StopAdvertising(); err != nil {
		log.Printf("bluez: %v", err)
	}
	if err := s.adapter().Call(gattManagerIface+".UnregisterApplication", 0, appPath).Err; err != nil {
		log.Printf("bluez: unregister gatt application: %v", err)
	}
	s.conn.RemoveSignal(s.signals)
	close(s.done)
	return s.conn.Close()
}

func (s *BlueZStack) adapter() dbus.BusObject {
	return s.conn.Object(busName, s.adapterPath)
}

func (s *BlueZStack) setAdapterProp(name string, val interface{}) error {
	return s.adapter().Call(propsIface+".Set", 0, adapterIface, name, dbus.MakeVariant(val)).Err
}

// export publishes the application objects on the bus.
func (s *BlueZStack) export() error {
	ro := func(v interface{}) *prop.Prop {
		return &prop.Prop{Value: v, Emit: prop.EmitFalse}
	}
	tables := map[dbus.ObjectPath]prop.Map{
		servicePath: {serviceIface: {
			"UUID":    ro(protocol.ServiceUUID),
			"Primary": ro(true),
		}},
		rxPath: {charIface: {
			"UUID":    ro(protocol.RXCharUUID),
			"Service": ro(servicePath),
			"Flags":   ro([]string{"write", "write-without-response"}),
		}},
		txPath: {charIface: {
			"UUID":      ro(protocol.TXCharUUID),
			"Service":   ro(servicePath),
			"Flags":     ro([]string{"notify"}),
			"Notifying": {Value: false, Emit: prop.EmitTrue},
			"Value":     {Value: []byte{}, Emit: prop.EmitTrue},
		}},
		advPath: {advIface: {
			"Type":         ro("peripheral"),
			"ServiceUUIDs": ro([]string{protocol.ServiceUUID}),
			"LocalName":    ro(s.localName),
		}},
	}
	for path, m := range tables {
		p, err := prop.Export(s.conn, path, m)
		if err != nil {
			return fmt.Errorf("export properties %s: %w", path, err)
		}
		s.props[path] = p
	}

	exports := []struct {
		v     interface{}
		path  dbus.ObjectPath
		iface string
	}{
		{&objectManager{s}, appPath, objManagerIface},
		{&rxChar{s}, rxPath, charIface},
		{&txChar{s}, txPath, charIface},
		{&advertisement{}, advPath, advIface},
	}
	for _, e := range exports {
		if err := s.conn.Export(e.v, e.path, e.iface); err != nil {
			return fmt.Errorf("export %s: %w", e.path, err)
		}
	}
	return nil
}

func (s *BlueZStack) subscribePropertyChanges() chan *dbus.Signal {
	s.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path_namespace='"+string(s.adapterPath)+"'",
	)
	ch := make(chan *dbus.Signal, 16)
	s.conn.Signal(ch)
	return ch
}

// watch follows Device1.Connected changes under our adapter.
func (s *BlueZStack) watch() {
	for {
		select {
		case <-s.done:
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			s.handleSignal(sig)
		}
	}
}

func (s *BlueZStack) handleSignal(sig *dbus.Signal) {
	if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return
	}
	if !strings.HasPrefix(string(sig.Path), string(s.adapterPath)+"/dev_") {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	if iface != deviceIface {
		return
	}
	v, ok := changed["Connected"]
	if !ok {
		return
	}
	connected, _ := v.Value().(bool)
	peer := macFromPath(s.adapterPath, sig.Path)

	s.mu.Lock()
	h := s.handlers
	if connected {
		s.device = sig.Path
	} else {
		if sig.Path != s.device {
			s.mu.Unlock()
			return
		}
		s.device = ""
		s.notifying = false
	}
	s.mu.Unlock()

	if connected {
		log.Printf("bluez: peer %s connected", peer)
		if h.OnConnect != nil {
			h.OnConnect(peer)
		}
		return
	}
	log.Printf("bluez: peer %s disconnected", peer)
	s.props[txPath].SetMust(charIface, "Notifying", false)
	if h.OnDisconnect != nil {
		h.OnDisconnect(peer)
	}
}

func (s *BlueZStack) setNotifying(on bool) {
	s.mu.Lock()
	s.notifying = on
	h := s.handlers.OnSubscriptionChange
	s.mu.Unlock()

	s.props[txPath].SetMust(charIface, "Notifying", on)
	if h != nil {
		h(on)
	}
}

// objectManager serves GetManagedObjects for RegisterApplication.
type objectManager struct{ s *BlueZStack }

func (o *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	for path, iface := range map[dbus.ObjectPath]string{
		servicePath: serviceIface,
		rxPath:      charIface,
		txPath:      charIface,
	} {
		all, derr := o.s.props[path].GetAll(iface)
		if derr != nil {
			return nil, derr
		}
		out[path] = map[string]map[string]dbus.Variant{iface: all}
	}
	return out, nil
}

// rxChar is the write-only characteristic carrying ack/retry codes.
type rxChar struct{ s *BlueZStack }

func (c *rxChar) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if v, ok := options["device"]; ok {
		if path, ok := v.Value().(dbus.ObjectPath); ok {
			c.s.mu.Lock()
			if c.s.device == "" {
				c.s.device = path
			}
			c.s.mu.Unlock()
		}
	}

	c.s.mu.Lock()
	h := c.s.handlers.OnWrite
	c.s.mu.Unlock()
	if h != nil {
		cp := make([]byte, len(value))
		copy(cp, value)
		h(cp)
	}
	return nil
}

// txChar is the notify-only characteristic; StartNotify/StopNotify are the
// client's CCC writes.
type txChar struct{ s *BlueZStack }

func (c *txChar) StartNotify() *dbus.Error {
	c.s.setNotifying(true)
	return nil
}

func (c *txChar) StopNotify() *dbus.Error {
	c.s.setNotifying(false)
	return nil
}

func (c *txChar) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return []byte{}, nil
}

type advertisement struct{}

func (a *advertisement) Release() *dbus.Error {
	log.Printf("bluez: advertisement released")
	return nil
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(adapterPath, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapterPath) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}
