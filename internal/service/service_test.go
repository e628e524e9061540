package service_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"testing"

	"dev.eqrx.net/wgup"
	"dev.eqrx.net/wgup/internal/device"
	"dev.eqrx.net/wgup/internal/key"
	"dev.eqrx.net/wgup/internal/netlink"
	"dev.eqrx.net/wgup/internal/service"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vnl "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// host fakes the kernel: a link table and the wireguard control plane of the wireguard links in it.
type host struct {
	links      map[string]*link
	devices    map[string]*wgtypes.Device
	addErr     error
	addrErr    error
	configured int
	sessions   int
}

type link struct {
	attrs vnl.LinkAttrs
	kind  string
	addrs []string
	up    bool
}

func (l *link) Attrs() *vnl.LinkAttrs { return &l.attrs }

func (l *link) Type() string { return l.kind }

func newHost() *host {
	return &host{links: map[string]*link{}, devices: map[string]*wgtypes.Device{}}
}

func (h *host) openLinks() (netlink.Handle, error) {
	h.sessions++

	return linkHandle{h}, nil
}

func (h *host) openControl() (device.WGController, error) {
	h.sessions++

	return control{h}, nil
}

type linkHandle struct{ h *host }

func (l linkHandle) LinkAdd(nl vnl.Link) error {
	if l.h.addErr != nil {
		return l.h.addErr
	}

	name := nl.Attrs().Name
	if _, ok := l.h.links[name]; ok {
		return unix.EEXIST
	}

	l.h.links[name] = &link{attrs: vnl.LinkAttrs{Name: name, Index: len(l.h.links) + 1}, kind: nl.Type()}
	if nl.Type() == netlink.LinkType {
		l.h.devices[name] = &wgtypes.Device{Name: name}
	}

	return nil
}

func (l linkHandle) LinkDel(nl vnl.Link) error {
	delete(l.h.links, nl.Attrs().Name)
	delete(l.h.devices, nl.Attrs().Name)

	return nil
}

func (l linkHandle) LinkByName(name string) (vnl.Link, error) {
	found, ok := l.h.links[name]
	if !ok {
		return nil, unix.ENODEV
	}

	return found, nil
}

func (l linkHandle) LinkSetUp(nl vnl.Link) error {
	nl.(*link).up = true

	return nil
}

func (l linkHandle) AddrAdd(nl vnl.Link, addr *vnl.Addr) error {
	if l.h.addrErr != nil {
		return l.h.addrErr
	}

	found := nl.(*link)
	found.addrs = append(found.addrs, addr.IPNet.String())

	return nil
}

func (l linkHandle) Delete() { l.h.sessions-- }

type control struct{ h *host }

func (c control) Devices() ([]*wgtypes.Device, error) {
	devices := make([]*wgtypes.Device, 0, len(c.h.devices))
	for _, d := range c.h.devices {
		devices = append(devices, d)
	}

	return devices, nil
}

func (c control) Device(name string) (*wgtypes.Device, error) {
	d, ok := c.h.devices[name]
	if !ok {
		return nil, os.ErrNotExist
	}

	return d, nil
}

func (c control) ConfigureDevice(name string, cfg wgtypes.Config) error {
	d, ok := c.h.devices[name]
	if !ok {
		return os.ErrNotExist
	}

	c.h.configured++

	if cfg.PrivateKey != nil {
		d.PrivateKey = *cfg.PrivateKey
		d.PublicKey = cfg.PrivateKey.PublicKey()
	}

	if cfg.ListenPort != nil {
		d.ListenPort = *cfg.ListenPort
	}

	if cfg.ReplacePeers {
		d.Peers = nil
	}

	for _, p := range cfg.Peers {
		wp := wgtypes.Peer{PublicKey: p.PublicKey, Endpoint: p.Endpoint, AllowedIPs: p.AllowedIPs}
		if p.PresharedKey != nil {
			wp.PresharedKey = *p.PresharedKey
		}

		if p.PersistentKeepaliveInterval != nil {
			wp.PersistentKeepaliveInterval = *p.PersistentKeepaliveInterval
		}

		d.Peers = append(d.Peers, wp)
	}

	return nil
}

func (c control) Close() error {
	c.h.sessions--

	return nil
}

type resolver struct{}

func (resolver) LookupIP(context.Context, string, string) ([]net.IP, error) {
	return []net.IP{net.ParseIP("198.51.100.7")}, nil
}

func configuration(t *testing.T) (wgup.Configuration, key.Key) {
	t.Helper()

	remote, err := key.Generate()
	require.NoError(t, err)

	return wgup.Configuration{
		IfaceName:  "wg0",
		Address:    netip.MustParsePrefix("192.168.1.2/24"),
		ListenPort: wgup.DefaultPort,
		Peer: wgup.Peer{
			Public:   remote.PublicKey(),
			Endpoint: "198.51.100.7:51820",
			Address:  netip.MustParseAddr("10.0.0.1"),
		},
	}, remote.PublicKey()
}

func newService(h *host, conf wgup.Configuration) *service.Service {
	return service.New(resolver{}, conf, netlink.NewManager(h.openLinks), device.NewClient(h.openControl))
}

func TestUp(t *testing.T) {
	t.Parallel()

	h := newHost()
	conf, remote := configuration(t)
	svc := newService(h, conf)

	state, err := svc.Up(context.Background(), logr.Discard())
	require.NoError(t, err)
	assert.Equal(t, netlink.Active, state)

	require.Contains(t, h.links, "wg0")
	assert.Equal(t, []string{"192.168.1.2/24"}, h.links["wg0"].addrs)
	assert.True(t, h.links["wg0"].up)

	wg := h.devices["wg0"]
	assert.False(t, key.FromWG(wg.PrivateKey).IsZero())
	assert.Equal(t, wgup.DefaultPort, wg.ListenPort)
	require.Len(t, wg.Peers, 1)
	assert.Equal(t, remote.WG(), wg.Peers[0].PublicKey)
	assert.Equal(t, "198.51.100.7:51820", wg.Peers[0].Endpoint.String())
	require.Len(t, wg.Peers[0].AllowedIPs, 1)
	assert.Equal(t, "10.0.0.1/32", wg.Peers[0].AllowedIPs[0].String())

	require.NoError(t, svc.Verify(logr.Discard()))
	assert.Zero(t, h.sessions)
}

func TestUpTwiceConverges(t *testing.T) {
	t.Parallel()

	h := newHost()
	conf, _ := configuration(t)

	private, err := key.Generate()
	require.NoError(t, err)

	conf.PrivateKey = private
	conf.Peer.Endpoint = "vpn.example.com:51820"
	conf.Peer.Keepalive = 25

	psk, err := key.Generate()
	require.NoError(t, err)

	conf.Peer.PresharedKey = psk

	svc := newService(h, conf)

	for i := 0; i < 2; i++ {
		state, err := svc.Up(context.Background(), logr.Discard())
		require.NoError(t, err)
		assert.Equal(t, netlink.Active, state)
	}

	wg := h.devices["wg0"]
	assert.Equal(t, private.WG(), wg.PrivateKey)
	require.Len(t, wg.Peers, 1)
	assert.Equal(t, psk.WG(), wg.Peers[0].PresharedKey)
	assert.Equal(t, "198.51.100.7:51820", wg.Peers[0].Endpoint.String())
	assert.Equal(t, 2, h.configured)
	require.NoError(t, svc.Verify(logr.Discard()))
}

func TestUpStopsWhenCreateFails(t *testing.T) {
	t.Parallel()

	h := newHost()
	h.addErr = unix.EOPNOTSUPP

	conf, _ := configuration(t)

	state, err := newService(h, conf).Up(context.Background(), logr.Discard())
	assert.Equal(t, netlink.Absent, state)
	assert.ErrorIs(t, err, unix.EOPNOTSUPP)
	assert.Zero(t, h.configured)
	assert.Zero(t, h.sessions)
}

func TestUpLeavesForeignLinkAlone(t *testing.T) {
	t.Parallel()

	h := newHost()
	h.links["wg0"] = &link{attrs: vnl.LinkAttrs{Name: "wg0", Index: 1}, kind: "bridge"}

	conf, _ := configuration(t)

	state, err := newService(h, conf).Up(context.Background(), logr.Discard())
	assert.Equal(t, netlink.Absent, state)
	assert.ErrorIs(t, err, netlink.ErrForeignLink)
	assert.Empty(t, h.links["wg0"].addrs)
	assert.False(t, h.links["wg0"].up)
	assert.Zero(t, h.configured)
	assert.Zero(t, h.sessions)
}

func TestUpReportsEveryFailedStep(t *testing.T) {
	t.Parallel()

	h := newHost()
	h.addrErr = unix.EACCES

	conf, _ := configuration(t)
	conf.Peer.Endpoint = "not-an-endpoint"

	state, err := newService(h, conf).Up(context.Background(), logr.Discard())
	assert.Equal(t, netlink.Created, state)
	assert.ErrorIs(t, err, unix.EACCES)
	assert.Contains(t, err.Error(), "configure device")
	assert.Contains(t, err.Error(), "assign address")
	assert.True(t, h.links["wg0"].up)
}

func TestUpCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHost()
	conf, _ := configuration(t)

	state, err := newService(h, conf).Up(ctx, logr.Discard())
	assert.Equal(t, netlink.Created, state)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, h.links["wg0"].up)
}

func TestUpGeneratesKeyFile(t *testing.T) {
	t.Parallel()

	h := newHost()
	conf, _ := configuration(t)
	conf.KeyFile = t.TempDir() + "/private.key"

	_, err := newService(h, conf).Up(context.Background(), logr.Discard())
	require.NoError(t, err)

	stored, err := key.Load(conf.KeyFile)
	require.NoError(t, err)
	assert.Equal(t, stored.WG(), h.devices["wg0"].PrivateKey)
}

func TestVerifyDetectsForeignPeers(t *testing.T) {
	t.Parallel()

	h := newHost()
	conf, _ := configuration(t)
	svc := newService(h, conf)

	_, err := svc.Up(context.Background(), logr.Discard())
	require.NoError(t, err)

	other, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	h.devices["wg0"].Peers = append(h.devices["wg0"].Peers, wgtypes.Peer{PublicKey: other.PublicKey()})
	assert.Error(t, svc.Verify(logr.Discard()))

	h.devices["wg0"].Peers = nil
	assert.Error(t, svc.Verify(logr.Discard()))
}

func TestDown(t *testing.T) {
	t.Parallel()

	h := newHost()
	conf, _ := configuration(t)
	svc := newService(h, conf)

	_, err := svc.Up(context.Background(), logr.Discard())
	require.NoError(t, err)

	require.NoError(t, svc.Down(logr.Discard()))
	assert.Empty(t, h.links)
	require.NoError(t, svc.Down(logr.Discard()))
}

func TestShow(t *testing.T) {
	t.Parallel()

	h := newHost()
	client := device.NewClient(h.openControl)

	require.NoError(t, service.Show(logr.Discard(), client))

	conf, _ := configuration(t)
	_, err := newService(h, conf).Up(context.Background(), logr.Discard())
	require.NoError(t, err)

	require.NoError(t, service.Show(logr.Discard(), client))

	names, err := client.ListDeviceNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"wg0"}, names)
}
