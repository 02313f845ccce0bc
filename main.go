/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"fmt"
	"os"
	"time"
)

func newKernelAdapter() KernelAdapter {
	if adapter := newFreebsdAdapterIfSupported(); adapter != nil {
		return adapter
	}
	log.err("no kernel adapter for this platform, running with a no-op simulator")
	return NewKernelSim()
}

func main() {

	parse_cli() // also initializes log

	log.info("START ripd")

	rtable := effectiveRtable()
	bindtable := effectiveBindtable()
	timeout := time.Duration(effectiveTimeout()) * time.Second

	kernel := newKernelAdapter()
	if err := kernel.Init(rtable); err != nil {
		log.fatal("kernel init: %v", err)
	}

	model := NewModel()
	applyStaticIfnums(model.ifnums)

	accept := buildAcceptPolicy()
	if cli.policy != "" {
		fileAccept, err := ParsePolicyFile(cli.policy)
		if err != nil {
			log.fatal("policy file %v: %v", cli.policy, err)
		}
		accept = fileAccept
	}

	engine := NewEngine(model, kernel, accept, rtable, cli.local_outer, cli.local_inner, timeout)

	engine.Bootstrap(time.Now())

	if cli.dump {
		dumpState(model)
		os.Exit(0)
	}

	if cli.policy != "" {
		watcher, err := WatchPolicyFile(cli.policy)
		if err != nil {
			log.err("policy watch %v: %v, continuing without hot reload", cli.policy, err)
		} else {
			go func() {
				for m := range watcher.Reload {
					engine.SetAcceptPolicy(m)
				}
			}()
		}
	}

	var password [16]byte
	copy(password[:], config.Password)

	frontend := NewFrontend(engine, password)

	if cli.file != "" {
		f, err := os.Open(cli.file)
		if err != nil {
			log.fatal("open replay file %v: %v", cli.file, err)
		}
		defer f.Close()
		if err := frontend.RunFile(f); err != nil {
			log.fatal("replay %v: %v", cli.file, err)
		}
		log.info("STOP ripd: replay file exhausted")
		return
	}

	group := MustParseAddress(effectiveListenGroup())
	conn, err := kernel.OpenListener(group, effectiveListenPort(), bindtable)
	if err != nil {
		log.fatal("open listener: %v", err)
	}
	if conn == nil {
		log.fatal("no live listener available on this platform; use -f to replay from a file instead")
	}
	defer conn.Close()

	log.info("listening on %v:%v (rtable %v, bindtable %v)", group, effectiveListenPort(), rtable, bindtable)

	if err := frontend.RunListener(conn); err != nil {
		log.fatal("listener: %v", err)
	}
}

// dumpState prints every tunnel and its linked routes for -D.
func dumpState(model *Model) {

	model.tunnels.DoTopDown(func(_ Address, _ int, v interface{}) bool {
		t := v.(*Tunnel)
		fmt.Printf("%v ifnum=%v outer=%v-%v inner=%v-%v nref=%v\n",
			t.ifname, t.ifnum, t.outer_local, t.outer_remote, t.inner_local, t.inner_remote, t.nref)
		for r := t.routes; r != nil; r = r.rnext {
			fmt.Printf("  %v\n", Prefix{r.net, r.cidr()})
		}
		return true
	})
}
