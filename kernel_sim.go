/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"fmt"
	"net"
)

// KernelSim is an in-memory KernelAdapter used by tests: it records every
// operation invoked on it and lets a test script the state Discover
// returns, without touching any real socket or interface.
type KernelSim struct {
	Calls []string

	DiscoverIfaces []InterfaceRecord
	DiscoverRoutes []RouteRecord

	installed map[Prefix]bool
	nextIfnum int
}

func NewKernelSim() *KernelSim {
	return &KernelSim{installed: make(map[Prefix]bool)}
}

func (k *KernelSim) log(format string, args ...interface{}) {
	k.Calls = append(k.Calls, fmt.Sprintf(format, args...))
}

func (k *KernelSim) Init(rtable int) error {
	k.log("init(%v)", rtable)
	return nil
}

func (k *KernelSim) OpenListener(group Address, port int, rtable int) (*net.UDPConn, error) {
	k.log("open_listener(%v, %v, %v)", group, port, rtable)
	return nil, nil
}

func (k *KernelSim) Discover(rtable int) ([]InterfaceRecord, []RouteRecord, error) {
	k.log("discover(%v)", rtable)
	return k.DiscoverIfaces, k.DiscoverRoutes, nil
}

func (k *KernelSim) UpTunnel(t *Tunnel, rtable int) error {
	k.log("up_tunnel(%v, outer=%v-%v, inner=%v-%v, rtable=%v)",
		t.ifname, t.outer_local, t.outer_remote, t.inner_local, t.inner_remote, rtable)
	k.installed[Prefix{t.inner_remote, 32}] = true
	return nil
}

func (k *KernelSim) ClearInner(t *Tunnel) error {
	k.log("clear_inner(%v)", t.ifname)
	delete(k.installed, Prefix{t.inner_remote, 32})
	return nil
}

func (k *KernelSim) SetInner(t *Tunnel) error {
	k.log("set_inner(%v, remote=%v)", t.ifname, t.inner_remote)
	k.installed[Prefix{t.inner_remote, 32}] = true
	return nil
}

func (k *KernelSim) DownTunnel(t *Tunnel) error {
	k.log("down_tunnel(%v)", t.ifname)
	delete(k.installed, Prefix{t.inner_remote, 32})
	return nil
}

func (k *KernelSim) AddRoute(r *Route, t *Tunnel, rtable int) error {
	if r.net == t.inner_remote && r.cidr() == 32 {
		return nil // duplicates the tunnel's auto-inserted host route
	}
	k.log("add_route(%v, tunnel=%v)", Prefix{r.net, r.cidr()}, t.ifname)
	k.installed[Prefix{r.net, r.cidr()}] = true
	return nil
}

func (k *KernelSim) ChangeRoute(r *Route, t *Tunnel, rtable int) error {

	p := Prefix{r.net, r.cidr()}
	if !k.installed[p] {
		k.log("change_route(%v, tunnel=%v) -> ESRCH, falling back", p, t.ifname)
		if err := k.RemoveRoute(r, rtable); err != nil && err != ErrNoSuchEntry {
			return err
		}
		return k.AddRoute(r, t, rtable)
	}
	k.log("change_route(%v, tunnel=%v)", p, t.ifname)
	k.installed[p] = true
	return nil
}

func (k *KernelSim) RemoveRoute(r *Route, rtable int) error {

	p := Prefix{r.net, r.cidr()}
	if !k.installed[p] {
		k.log("remove_route(%v) -> ESRCH, tolerated", p)
		return nil
	}
	k.log("remove_route(%v)", p)
	delete(k.installed, p)
	return nil
}
