/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import "time"

// Bootstrap drives the kernel adapter's discovery pass and synthesizes
// Tunnel and Route entries into the model. Unlike ProcessResponse,
// discovery is strict: any inconsistency between the acceptance policy
// and the routed destination, or a duplicate route with a mismatched
// gateway, is fatal — the operator is expected to fix the kernel state
// and restart rather than have the daemon guess.
func (e *Engine) Bootstrap(now time.Time) {

	ifaces, routes, err := e.kernel.Discover(e.rtable)
	if err != nil {
		log.fatal("discover: %v", err)
	}

	byIfname := make(map[string]*Tunnel, len(ifaces))

	for _, ifc := range ifaces {

		if e.model.ifnums.IsStatic(ifc.Ifnum) {
			// static interfaces are never folded into the reconciled
			// tunnel set, so the daemon can never tear them down.
			continue
		}

		t := &Tunnel{
			ifname:       ifc.Name,
			ifnum:        ifc.Ifnum,
			outer_local:  ifc.OuterLocal,
			outer_remote: ifc.OuterRemote,
			inner_local:  ifc.InnerLocal,
			inner_remote: ifc.InnerRemote,
		}

		if _, ok := e.model.tunnels.Insert(t.outer_remote, 32, t); !ok {
			log.fatal("discovery: duplicate tunnel outer_remote %v (interface %v)", t.outer_remote, t.ifname)
		}

		e.model.ifnums.Set(t.ifnum)
		byIfname[t.ifname] = t
	}

	for _, rr := range routes {
		e.discoverRoute(rr, byIfname)
	}

	e.fixOverlaps()

	e.model.routes.Do(func(_ Address, _ int, v interface{}) bool {
		v.(*Route).expires = now.Add(e.timeout)
		return true
	})

	e.cleanup()
}

func (e *Engine) discoverRoute(rr RouteRecord, byIfname map[string]*Tunnel) {

	cidr := CIDRFromMask(rr.Mask)

	var tunnel *Tunnel
	switch rr.GwKind {
	case GatewayInterface:
		tunnel = byIfname[rr.IfName]
	case GatewayAddress:
		// mirrors original_source/main.c's learn_route_callback: an
		// address-form gateway names the peer's inner address, matched
		// against tunnel.inner_remote, not our outer_remote key.
		tunnel = e.model.findTunnelByInner(rr.Gateway)
	}

	pol, ok := e.accept.Nearest(rr.Net, cidr)
	accepted := ok && pol.(Policy) == ACCEPT

	if accepted && tunnel == nil {
		log.fatal("discovery: accepted network %v routed to an unmanaged destination", Prefix{rr.Net, cidr})
	}
	if !accepted && tunnel != nil {
		log.fatal("discovery: unaccepted network %v routed through managed tunnel %v", Prefix{rr.Net, cidr}, tunnel.ifname)
	}
	if tunnel == nil {
		return
	}

	if existing := e.model.findRoute(rr.Net, cidr); existing != nil {
		if existing.tunnel != tunnel {
			log.fatal("discovery: duplicate route %v with mismatched gateway", Prefix{rr.Net, cidr})
		}
		return
	}

	r := &Route{net: rr.Net, mask: rr.Mask}
	e.model.insertRoute(r)
	linkRoute(tunnel, r)
}

// cleanup collapses any tunnel left with an empty route list after
// discovery — e.g. one whose only route was dropped by fixOverlaps.
func (e *Engine) cleanup() {

	var empty []*Tunnel
	e.model.tunnels.Do(func(_ Address, _ int, v interface{}) bool {
		t := v.(*Tunnel)
		if t.nref == 0 {
			empty = append(empty, t)
		}
		return true
	})

	for _, t := range empty {
		e.collapse(t)
	}
}
