/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"fmt"
	"time"
)

// Response is one advertised (network, mask, next-hop) record inside an
// incoming distance-vector datagram.
type Response struct {
	Net, Mask, NextHop Address
}

// Policy is the acceptance-policy decision looked up by longest-prefix
// match; ACCEPT lets an advertised network through, IGNORE drops it.
type Policy bool

const (
	IGNORE Policy = false
	ACCEPT Policy = true
)

// Engine ties the model, the kernel adapter and the acceptance policy
// together and implements process_response/rebase/expire/collapse/
// fix_overlaps. It is not safe for concurrent use; the daemon drives it
// from a single loop.
type Engine struct {
	model  *Model
	kernel KernelAdapter
	accept *PrefixMap // Policy values

	rtable      int
	local_outer Address
	local_inner Address
	timeout     time.Duration

	drops *DropCache
}

func NewEngine(model *Model, kernel KernelAdapter, accept *PrefixMap, rtable int, local_outer, local_inner Address, timeout time.Duration) *Engine {
	return &Engine{
		model:       model,
		kernel:      kernel,
		accept:      accept,
		rtable:      rtable,
		local_outer: local_outer,
		local_inner: local_inner,
		timeout:     timeout,
		drops:       NewDropCache(),
	}
}

// logDrop logs a dropped advertisement at most once per (prefix, reason)
// until it ages out of the drop cache.
func (e *Engine) logDrop(prefix Prefix, reason string, args ...interface{}) {
	if e.drops.Once(prefix, reason) {
		log.info("drop %v: "+reason, append([]interface{}{prefix}, args...)...)
	}
}

// SetAcceptPolicy swaps in a freshly loaded acceptance policy map, used by
// the hot-reload watcher between datagrams.
func (e *Engine) SetAcceptPolicy(accept *PrefixMap) {
	e.accept = accept
}

// insideSubnet reports whether addr falls within net/mask.
func insideSubnet(addr, net, mask Address) bool {
	return addr&mask == net
}

// ProcessResponse applies one advertised record to the model and the
// kernel, following the six-step algorithm: normalize, drop-checks,
// tunnel lookup-or-create, route lookup-or-create with covered-by-drop,
// add/change dispatch with rebase-on-basis-change, and expiry refresh.
func (e *Engine) ProcessResponse(resp Response, now time.Time) {

	net := resp.Net & resp.Mask
	cidr := CIDRFromMask(resp.Mask)

	if resp.NextHop == e.local_outer {
		e.logDrop(Prefix{net, cidr}, "next hop is local outer address")
		return
	}
	if insideSubnet(resp.NextHop, net, resp.Mask) {
		e.logDrop(Prefix{net, cidr}, "next hop %v is inside advertised subnet", resp.NextHop)
		return
	}
	if pol, ok := e.accept.Nearest(net, cidr); !ok || pol.(Policy) != ACCEPT {
		e.logDrop(Prefix{net, cidr}, "not accepted by policy")
		return
	}

	tunnel := e.model.findTunnel(resp.NextHop)
	if tunnel == nil {
		tunnel = e.createTunnel(resp.NextHop, net)
	}

	route := e.model.findRoute(net, cidr)
	isNew := route == nil

	if isNew {
		if cover := e.model.nearestRoute(net, cidr); cover != nil && cover.tunnel == tunnel {
			e.logDrop(Prefix{net, cidr}, "covered by %v on same tunnel", Prefix{cover.net, cover.cidr()})
			return
		}
		route = &Route{net: net, mask: resp.Mask}
		e.model.insertRoute(route)
	}

	if isNew || route.tunnel != tunnel {

		prev := route.tunnel

		if prev == nil {
			if err := e.kernel.AddRoute(route, tunnel, e.rtable); err != nil {
				log.fatal("add_route %v: %v", Prefix{net, cidr}, err)
			}
		} else {
			if route.net == prev.inner_remote {
				e.rebase(prev, route)
			}
			if err := e.kernel.ChangeRoute(route, tunnel, e.rtable); err != nil {
				log.fatal("change_route %v: %v", Prefix{net, cidr}, err)
			}
		}

		if prev != nil {
			unlinkRoute(route)
			e.collapse(prev)
		}
		linkRoute(tunnel, route)
	}

	route.expires = now.Add(e.timeout)
}

func (e *Engine) createTunnel(outer_remote, inner_remote Address) *Tunnel {

	ifnum := e.model.ifnums.NextUnset()
	e.model.ifnums.Set(ifnum)

	t := &Tunnel{
		ifname:       fmt.Sprintf("gif%d", ifnum),
		ifnum:        ifnum,
		outer_local:  e.local_outer,
		outer_remote: outer_remote,
		inner_local:  e.local_inner,
		inner_remote: inner_remote,
	}

	if err := e.kernel.UpTunnel(t, e.rtable); err != nil {
		log.fatal("up_tunnel %v: %v", t.ifname, err)
	}

	e.model.insertTunnel(t)
	return t
}

// rebase reassigns tunnel's inner_remote away from lost_route's network,
// per §4.4. It is idempotent: if lost_route is no longer the basis route
// (already rebased, e.g. by a prior call on the same route), it is a
// no-op rather than re-executing.
func (e *Engine) rebase(tunnel *Tunnel, lost_route *Route) {

	if lost_route.net != tunnel.inner_remote {
		return
	}

	if err := e.kernel.ClearInner(tunnel); err != nil {
		log.fatal("rebase %v: clear inner: %v", tunnel.ifname, err)
	}

	if tunnel.nref <= 1 {
		// caller is about to collapse or unlink the last route; leave
		// the interface without inner addressing.
		return
	}

	var new_basis *Route
	for r := tunnel.routes; r != nil; r = r.rnext {
		if r != lost_route {
			new_basis = r
			break
		}
	}
	if new_basis == nil {
		return
	}

	tunnel.inner_remote = new_basis.net
	if err := e.kernel.SetInner(tunnel); err != nil {
		log.fatal("rebase %v: set inner: %v", tunnel.ifname, err)
	}

	for r := tunnel.routes; r != nil; r = r.rnext {
		if r == lost_route {
			continue
		}
		// new_basis is included: SetInner only restores the auto-inserted
		// /32 host route, not a wider-prefix basis route. AddRoute's own
		// no-op rule makes this harmless when new_basis is just the host
		// route.
		if err := e.kernel.AddRoute(r, tunnel, e.rtable); err != nil {
			log.fatal("rebase %v: re-add %v: %v", tunnel.ifname, Prefix{r.net, r.cidr()}, err)
		}
	}
}

// Expire visits every route and destroys those whose expiry has passed.
func (e *Engine) Expire(now time.Time) {

	var stale []*Route
	e.model.routes.Do(func(_ Address, _ int, v interface{}) bool {
		r := v.(*Route)
		if !r.expires.After(now) {
			stale = append(stale, r)
		}
		return true
	})

	for _, r := range stale {
		e.destroyRoute(r)
	}
}

func (e *Engine) destroyRoute(r *Route) {

	tunnel := r.tunnel
	if tunnel != nil && r.net == tunnel.inner_remote {
		e.rebase(tunnel, r)
	}

	if err := e.kernel.RemoveRoute(r, e.rtable); err != nil {
		log.fatal("remove_route %v: %v", Prefix{r.net, r.cidr()}, err)
	}

	e.model.removeRoute(r)
	unlinkRoute(r)
	e.collapse(tunnel)
}

// collapse tears the tunnel down once its reference count reaches zero.
func (e *Engine) collapse(tunnel *Tunnel) {

	if tunnel == nil || tunnel.nref != 0 {
		return
	}
	if e.model.ifnums.IsStatic(tunnel.ifnum) {
		// -s N promises this interface is never torn down.
		return
	}

	if err := e.kernel.DownTunnel(tunnel); err != nil {
		log.fatal("down_tunnel %v: %v", tunnel.ifname, err)
	}

	e.model.removeTunnel(tunnel)
	e.model.ifnums.Clear(tunnel.ifnum)
}

// fixOverlaps drops, per tunnel, any route whose network is covered by a
// tighter route on the same tunnel — the kernel-auto-inserted host route
// to inner_remote is always covered once an explicit network route to the
// same tunnel is linked. Bootstrap-only.
func (e *Engine) fixOverlaps() {

	e.model.tunnels.Do(func(_ Address, _ int, v interface{}) bool {

		tunnel := v.(*Tunnel)

		var routes []*Route
		for r := tunnel.routes; r != nil; r = r.rnext {
			routes = append(routes, r)
		}

		for _, r := range routes {
			var tightest *Route
			for _, other := range routes {
				if other == r {
					continue
				}
				if other.cidr() < r.cidr() && other.net == r.net&other.mask {
					if tightest == nil || other.cidr() > tightest.cidr() {
						tightest = other
					}
				}
			}
			if tightest != nil {
				e.model.removeRoute(r)
				unlinkRoute(r)
			}
		}

		return true
	})
}
