/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import "testing"

func countRoutes(t *Tunnel) int {
	n := 0
	for r := t.routes; r != nil; r = r.rnext {
		n++
	}
	return n
}

func TestLinkUnlinkRouteMaintainsNref(t *testing.T) {

	tun := &Tunnel{outer_remote: MustParseAddress("198.51.100.7"), inner_remote: MustParseAddress("44.10.0.0")}
	r1 := &Route{net: MustParseAddress("44.10.0.0"), mask: MaskFromCIDR(16)}
	r2 := &Route{net: MustParseAddress("44.20.0.0"), mask: MaskFromCIDR(16)}

	linkRoute(tun, r1)
	linkRoute(tun, r2)

	if tun.nref != 2 || countRoutes(tun) != 2 {
		t.Fatalf("nref=%v routes=%v, want 2/2", tun.nref, countRoutes(tun))
	}
	if r1.tunnel != tun || r2.tunnel != tun {
		t.Fatalf("routes should point back at tunnel")
	}
	if r1.gateway != tun.outer_remote {
		t.Fatalf("route gateway should equal tunnel outer_remote")
	}

	unlinkRoute(r1)
	if tun.nref != 1 || countRoutes(tun) != 1 {
		t.Fatalf("after unlink: nref=%v routes=%v, want 1/1", tun.nref, countRoutes(tun))
	}
	if r1.tunnel != nil || r1.gateway != 0 {
		t.Fatalf("unlinked route should clear tunnel and gateway")
	}

	unlinkRoute(r2)
	if tun.nref != 0 || tun.routes != nil {
		t.Fatalf("after unlinking all: nref=%v routes=%v, want 0/nil", tun.nref, tun.routes)
	}
}

func TestBasisRoute(t *testing.T) {

	tun := &Tunnel{outer_remote: MustParseAddress("198.51.100.7"), inner_remote: MustParseAddress("44.20.0.0")}
	basis := &Route{net: MustParseAddress("44.20.0.0"), mask: MaskFromCIDR(16)}
	other := &Route{net: MustParseAddress("44.30.0.0"), mask: MaskFromCIDR(16)}

	linkRoute(tun, other)
	linkRoute(tun, basis)

	if b := basisRoute(tun); b != basis {
		t.Fatalf("basisRoute: got %v, want %v", b, basis)
	}

	unlinkRoute(basis)
	if b := basisRoute(tun); b != nil {
		t.Fatalf("basisRoute after removing basis: got %v, want nil", b)
	}
}

func TestModelTunnelAndRouteMaps(t *testing.T) {

	m := NewModel()
	tun := &Tunnel{outer_remote: MustParseAddress("198.51.100.7")}
	m.insertTunnel(tun)

	if got := m.findTunnel(MustParseAddress("198.51.100.7")); got != tun {
		t.Fatalf("findTunnel: got %v, want %v", got, tun)
	}

	r := &Route{net: MustParseAddress("44.10.0.0"), mask: MaskFromCIDR(16)}
	m.insertRoute(r)
	linkRoute(tun, r)

	if got := m.findRoute(MustParseAddress("44.10.0.0"), 16); got != r {
		t.Fatalf("findRoute: got %v, want %v", got, r)
	}
	if got := m.nearestRoute(MustParseAddress("44.10.5.0"), 32); got != r {
		t.Fatalf("nearestRoute: got %v, want %v", got, r)
	}

	m.removeTunnel(tun)
	if got := m.findTunnel(MustParseAddress("198.51.100.7")); got != nil {
		t.Fatalf("removeTunnel: still found %v", got)
	}
}
