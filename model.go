/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import "time"

// Route and Tunnel form the in-memory graph the Reconciliation Engine
// keeps synchronized with the advertised routes and the kernel. Route.tunnel
// is a weak (non-owning) handle: the tunnels map is the sole owner of
// Tunnel storage, and a Tunnel's routes list holds pointers into the
// routes map without owning them either.

type Route struct {
	net     Address
	mask    Address
	gateway Address // outer_remote of the owning tunnel, 0 if unlinked
	tunnel  *Tunnel // weak back-reference
	expires time.Time
	rnext   *Route // sibling link within tunnel.routes
}

func (r *Route) cidr() int {
	return CIDRFromMask(r.mask)
}

type Tunnel struct {
	ifname string
	ifnum  int

	outer_local  Address
	outer_remote Address
	inner_local  Address
	inner_remote Address

	routes *Route // intrusive singly-linked list head
	nref   int
}

// Model owns the two canonical maps plus the interface-number allocator.
type Model struct {
	tunnels *PrefixMap // keyed by (outer_remote, 32)
	routes  *PrefixMap // keyed by (net, cidr)
	ifnums  *Bitvector
}

func NewModel() *Model {
	return &Model{
		tunnels: NewPrefixMap(),
		routes:  NewPrefixMap(),
		ifnums:  NewBitvector(),
	}
}

func (m *Model) findTunnel(outer_remote Address) *Tunnel {
	v, ok := m.tunnels.Find(outer_remote, 32)
	if !ok {
		return nil
	}
	return v.(*Tunnel)
}

// findTunnelByInner scans for the tunnel whose peer inner address is
// inner_remote, for resolving an address-form route gateway (which names
// the peer's inner address, not our outer_remote key) back to a tunnel.
func (m *Model) findTunnelByInner(inner_remote Address) *Tunnel {
	var found *Tunnel
	m.tunnels.Do(func(_ Address, _ int, v interface{}) bool {
		t := v.(*Tunnel)
		if t.inner_remote == inner_remote {
			found = t
			return false
		}
		return true
	})
	return found
}

func (m *Model) insertTunnel(t *Tunnel) {
	m.tunnels.Insert(t.outer_remote, 32, t)
}

func (m *Model) removeTunnel(t *Tunnel) {
	m.tunnels.Remove(t.outer_remote, 32)
}

func (m *Model) findRoute(net Address, cidr int) *Route {
	v, ok := m.routes.Find(net, cidr)
	if !ok {
		return nil
	}
	return v.(*Route)
}

func (m *Model) nearestRoute(net Address, cidr int) *Route {
	v, ok := m.routes.Nearest(net, cidr)
	if !ok {
		return nil
	}
	return v.(*Route)
}

func (m *Model) insertRoute(r *Route) {
	m.routes.Insert(r.net, r.cidr(), r)
}

func (m *Model) removeRoute(r *Route) {
	m.routes.Remove(r.net, r.cidr())
}

// linkRoute attaches r to t's route list and sets the back-reference.
func linkRoute(t *Tunnel, r *Route) {

	r.tunnel = t
	r.gateway = t.outer_remote
	r.rnext = t.routes
	t.routes = r
	t.nref++
}

// unlinkRoute detaches r from its owning tunnel's list, if linked.
func unlinkRoute(r *Route) {

	t := r.tunnel
	if t == nil {
		return
	}

	if t.routes == r {
		t.routes = r.rnext
	} else {
		for p := t.routes; p != nil; p = p.rnext {
			if p.rnext == r {
				p.rnext = r.rnext
				break
			}
		}
	}

	t.nref--
	r.tunnel = nil
	r.gateway = 0
	r.rnext = nil
}

// basisRoute returns the route in t.routes whose net equals t.inner_remote,
// or nil if none (a violated invariant outside of a rebase-in-progress).
func basisRoute(t *Tunnel) *Route {
	for r := t.routes; r != nil; r = r.rnext {
		if r.net == t.inner_remote {
			return r
		}
	}
	return nil
}
