//go:build freebsd

/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"fmt"
	"net"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/net/ipv4"
	xroute "golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// BSD ioctl request numbers not exposed by golang.org/x/sys/unix on
// freebsd; values mirror <sys/sockio.h>'s _IOW('i', 92/91, struct ifreq)
// definitions for SIOCSIFFIB/SIOCGIFFIB.
const (
	iocIn      = 0x80000000
	iocGroup   = 'i' << 8
	sizeIfreq  = 32
	siocsiffib = iocIn | (sizeIfreq << 16) | iocGroup | 92
)

type ifreqName struct {
	Name [unix.IFNAMSIZ]byte
	Pad  [16]byte
}

type ifreqFlags struct {
	Name  [unix.IFNAMSIZ]byte
	Flags int16
	Pad   [14]byte
}

type ifreqFib struct {
	Name [unix.IFNAMSIZ]byte
	Fib  uint32
	Pad  [12]byte
}

type sockaddrIn struct {
	Len    uint8
	Family uint8
	Port   uint16
	Addr   [4]byte
	Zero   [8]byte
}

type inAliasReq struct {
	Name    [unix.IFNAMSIZ]byte
	Addr    sockaddrIn
	DstAddr sockaddrIn
	Mask    sockaddrIn
	VHid    uint32
}

type ifreqAddr struct {
	Name [unix.IFNAMSIZ]byte
	Addr sockaddrIn
}

func ifName(name string) [unix.IFNAMSIZ]byte {
	var b [unix.IFNAMSIZ]byte
	copy(b[:], name)
	return b
}

func sinFromAddress(a Address) sockaddrIn {
	var s sockaddrIn
	s.Len = uint8(unsafe.Sizeof(s))
	s.Family = unix.AF_INET
	s.Addr = a.NetOrder()
	return s
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// FreebsdKernelAdapter talks to a FreeBSD kernel through the control
// socket, the routing socket and gif-style tunnel ioctls, following
// original_source/freebsd/sys.c's uptunnel/downtunnel/addroute/chroute/
// rmroute step ordering.
type FreebsdKernelAdapter struct {
	ctlfd  int
	rtfd   int
	rtable int
	seqno  int
}

func NewFreebsdKernelAdapter() *FreebsdKernelAdapter {
	return &FreebsdKernelAdapter{ctlfd: -1, rtfd: -1}
}

func newFreebsdAdapterIfSupported() KernelAdapter {
	return NewFreebsdKernelAdapter()
}

func (k *FreebsdKernelAdapter) Init(rtable int) error {

	ctlfd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("ctl socket: %w", err)
	}
	rtfd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_INET)
	if err != nil {
		unix.Close(ctlfd)
		return fmt.Errorf("route socket: %w", err)
	}
	if err := unix.Shutdown(rtfd, unix.SHUT_RD); err != nil {
		return fmt.Errorf("route shutdown read: %w", err)
	}
	if err := unix.SetsockoptInt(rtfd, unix.SOL_SOCKET, unix.SO_SETFIB, rtable); err != nil {
		return fmt.Errorf("setsockopt rtfd SO_SETFIB: %w", err)
	}

	k.ctlfd = ctlfd
	k.rtfd = rtfd
	k.rtable = rtable
	return nil
}

func (k *FreebsdKernelAdapter) OpenListener(group Address, port int, rtable int) (*net.UDPConn, error) {

	sd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("listener socket: %w", err)
	}
	if err := unix.SetsockoptInt(sd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(sd, unix.SOL_SOCKET, unix.SO_SETFIB, rtable); err != nil {
		return nil, fmt.Errorf("listener SO_SETFIB: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(sd, sa); err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}

	f := os.NewFile(uintptr(sd), "ripd-listener")
	conn, err := net.FilePacketConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("FilePacketConn: %w", err)
	}
	udpconn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("expected UDP packet conn")
	}

	p := ipv4.NewPacketConn(udpconn)
	if err := p.JoinGroup(nil, &net.UDPAddr{IP: net.IPv4(group.AsSlice()[0], group.AsSlice()[1], group.AsSlice()[2], group.AsSlice()[3])}); err != nil {
		udpconn.Close()
		return nil, fmt.Errorf("join multicast group: %w", err)
	}

	return udpconn, nil
}

func (k *FreebsdKernelAdapter) Discover(rtable int) ([]InterfaceRecord, []RouteRecord, error) {

	rib, err := xroute.FetchRIB(unix.AF_INET, xroute.RIBTypeRoute, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch route table: %w", err)
	}
	msgs, err := xroute.ParseRIB(xroute.RIBTypeRoute, rib)
	if err != nil {
		return nil, nil, fmt.Errorf("parse route table: %w", err)
	}

	ifs, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("interfaces: %w", err)
	}
	byIndex := make(map[int]string, len(ifs))
	for _, ifc := range ifs {
		byIndex[ifc.Index] = ifc.Name
	}

	var ifaces []InterfaceRecord
	var routes []RouteRecord

	for _, m := range msgs {
		rm, ok := m.(*xroute.RouteMessage)
		if !ok {
			continue
		}
		if len(rm.Addrs) < unix.RTAX_NETMASK+1 {
			continue
		}
		dst, ok1 := rm.Addrs[unix.RTAX_DST].(*xroute.Inet4Addr)
		mask, ok2 := rm.Addrs[unix.RTAX_NETMASK].(*xroute.Inet4Addr)
		if !ok1 || !ok2 {
			continue
		}
		rr := RouteRecord{
			Net:  AddressFromSlice(dst.IP[:]),
			Mask: AddressFromSlice(mask.IP[:]),
		}
		if gw, ok := rm.Addrs[unix.RTAX_GATEWAY].(*xroute.Inet4Addr); ok {
			rr.GwKind = GatewayAddress
			rr.Gateway = AddressFromSlice(gw.IP[:])
		} else if lgw, ok := rm.Addrs[unix.RTAX_GATEWAY].(*xroute.LinkAddr); ok {
			rr.GwKind = GatewayInterface
			rr.IfName = byIndex[lgw.Index]
		}
		routes = append(routes, rr)
	}

	for _, ifc := range ifs {
		if len(ifc.Name) < 3 || ifc.Name[:3] != "gif" {
			continue
		}
		var ifnum int
		fmt.Sscanf(ifc.Name[3:], "%d", &ifnum)

		rec := InterfaceRecord{Name: ifc.Name, Ifnum: ifnum}
		rec.OuterLocal, _ = k.ifreqAddr(ifc.Name, unix.SIOCGIFPSRCADDR)
		rec.OuterRemote, _ = k.ifreqAddr(ifc.Name, unix.SIOCGIFPDSTADDR)
		rec.InnerLocal, _ = k.ifreqAddr(ifc.Name, unix.SIOCGIFADDR)
		rec.InnerRemote, _ = k.ifreqAddr(ifc.Name, unix.SIOCGIFDSTADDR)
		ifaces = append(ifaces, rec)
	}

	return ifaces, routes, nil
}

// ifreqAddr issues an address-fetching ioctl (SIOCGIFPSRCADDR and friends,
// all sharing the ifreq-with-trailing-sockaddr_in shape) against name.
func (k *FreebsdKernelAdapter) ifreqAddr(name string, req uintptr) (Address, error) {

	ifr := ifreqAddr{Name: ifName(name)}
	if err := ioctl(k.ctlfd, req, unsafe.Pointer(&ifr)); err != nil {
		return 0, err
	}
	return AddressFromSlice(ifr.Addr.Addr[:]), nil
}

func (k *FreebsdKernelAdapter) UpTunnel(t *Tunnel, rtable int) error {

	if err := ioctl(k.ctlfd, unix.SIOCIFCREATE, unsafe.Pointer(&ifreqName{Name: ifName(t.ifname)})); err != nil {
		return fmt.Errorf("create %v: %w", t.ifname, err)
	}

	ifar := inAliasReq{
		Name:    ifName(t.ifname),
		Addr:    sinFromAddress(t.outer_local),
		DstAddr: sinFromAddress(t.outer_remote),
	}
	if err := ioctl(k.ctlfd, unix.SIOCSIFPHYADDR, unsafe.Pointer(&ifar)); err != nil {
		return fmt.Errorf("phyaddr %v (local %v remote %v): %w", t.ifname, t.outer_local, t.outer_remote, err)
	}

	fib := ifreqFib{Name: ifName(t.ifname), Fib: uint32(rtable)}
	if err := ioctl(k.ctlfd, siocsiffib, unsafe.Pointer(&fib)); err != nil {
		return fmt.Errorf("set fib %v: %w", t.ifname, err)
	}
	if err := ioctl(k.ctlfd, unix.SIOCSIFFIB, unsafe.Pointer(&fib)); err != nil {
		return fmt.Errorf("set interface fib %v: %w", t.ifname, err)
	}

	var flags ifreqFlags
	flags.Name = ifName(t.ifname)
	if err := ioctl(k.ctlfd, unix.SIOCGIFFLAGS, unsafe.Pointer(&flags)); err != nil {
		return fmt.Errorf("get flags %v: %w", t.ifname, err)
	}
	flags.Flags |= unix.IFF_UP | unix.IFF_RUNNING
	if err := ioctl(k.ctlfd, unix.SIOCSIFFLAGS, unsafe.Pointer(&flags)); err != nil {
		return fmt.Errorf("set flags %v: %w", t.ifname, err)
	}

	inner := inAliasReq{
		Name:    ifName(t.ifname),
		Addr:    sinFromAddress(t.inner_local),
		DstAddr: sinFromAddress(t.inner_remote),
	}
	if err := ioctl(k.ctlfd, unix.SIOCAIFADDR, unsafe.Pointer(&inner)); err != nil {
		return fmt.Errorf("inet %v (local %v remote %v): %w", t.ifname, t.inner_local, t.inner_remote, err)
	}

	return nil
}

func (k *FreebsdKernelAdapter) ClearInner(t *Tunnel) error {

	inner := inAliasReq{
		Name:    ifName(t.ifname),
		Addr:    sinFromAddress(t.inner_local),
		DstAddr: sinFromAddress(t.inner_remote),
	}
	if err := ioctl(k.ctlfd, unix.SIOCDIFADDR, unsafe.Pointer(&inner)); err != nil {
		return fmt.Errorf("clear inner %v: %w", t.ifname, err)
	}
	return nil
}

func (k *FreebsdKernelAdapter) SetInner(t *Tunnel) error {

	inner := inAliasReq{
		Name:    ifName(t.ifname),
		Addr:    sinFromAddress(t.inner_local),
		DstAddr: sinFromAddress(t.inner_remote),
	}
	if err := ioctl(k.ctlfd, unix.SIOCAIFADDR, unsafe.Pointer(&inner)); err != nil {
		return fmt.Errorf("set inner %v (remote %v): %w", t.ifname, t.inner_remote, err)
	}
	return nil
}

func (k *FreebsdKernelAdapter) DownTunnel(t *Tunnel) error {

	if err := ioctl(k.ctlfd, unix.SIOCIFDESTROY, unsafe.Pointer(&ifreqName{Name: ifName(t.ifname)})); err != nil {
		return fmt.Errorf("destroy %v: %w", t.ifname, err)
	}
	return nil
}

func (k *FreebsdKernelAdapter) nextSeq() int {
	k.seqno++
	if k.seqno == 1<<31-1 {
		k.seqno = 0
	}
	return k.seqno
}

func (k *FreebsdKernelAdapter) buildRouteMessage(typ int, r *Route, t *Tunnel) *xroute.RouteMessage {

	flags := unix.RTF_UP
	if r.mask == 0xffffffff {
		flags |= unix.RTF_HOST
	} else {
		flags |= unix.RTF_GATEWAY
	}

	msg := &xroute.RouteMessage{
		Version: unix.RTM_VERSION,
		Type:    typ,
		Flags:   flags,
		Seq:     k.nextSeq(),
		Addrs:   make([]xroute.Addr, unix.RTAX_MAX),
	}
	msg.Addrs[unix.RTAX_DST] = &xroute.Inet4Addr{IP: r.net.NetOrder()}
	msg.Addrs[unix.RTAX_NETMASK] = &xroute.Inet4Addr{IP: r.mask.NetOrder()}
	if typ != unix.RTM_DELETE {
		msg.Addrs[unix.RTAX_GATEWAY] = &xroute.Inet4Addr{IP: t.outer_remote.NetOrder()}
	}
	return msg
}

func (k *FreebsdKernelAdapter) sendRouteMessage(msg *xroute.RouteMessage) error {

	b, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal route message: %w", err)
	}
	_, err = unix.Write(k.rtfd, b)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok && errno == unix.ESRCH {
			return ErrNoSuchEntry
		}
		return err
	}
	return nil
}

func (k *FreebsdKernelAdapter) AddRoute(r *Route, t *Tunnel, rtable int) error {

	if r.net == t.inner_remote && r.mask == 0xffffffff {
		// duplicates the kernel's own auto-inserted host route.
		return nil
	}
	return k.sendRouteMessage(k.buildRouteMessage(unix.RTM_ADD, r, t))
}

func (k *FreebsdKernelAdapter) ChangeRoute(r *Route, t *Tunnel, rtable int) error {

	err := k.sendRouteMessage(k.buildRouteMessage(unix.RTM_CHANGE, r, t))
	if err == ErrNoSuchEntry {
		if rmErr := k.RemoveRoute(r, rtable); rmErr != nil && rmErr != ErrNoSuchEntry {
			return rmErr
		}
		return k.AddRoute(r, t, rtable)
	}
	return err
}

func (k *FreebsdKernelAdapter) RemoveRoute(r *Route, rtable int) error {

	err := k.sendRouteMessage(k.buildRouteMessage(unix.RTM_DELETE, r, nil))
	if err == ErrNoSuchEntry {
		return nil
	}
	return err
}
