/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// multiFlag accumulates repeated occurrences of a flag, e.g. -A 44.0.0.0/8
// -A 10.0.0.0/8, into a slice instead of overwriting.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

var cli struct { // no locks, once setup in cli, never modified thereafter
	nodaemon  bool
	dump      bool
	rtable    int
	bindtable int
	accept    multiFlag
	ignore    multiFlag
	static    multiFlag
	file      string
	config    string
	policy    string
	loglevel  string
	stamps    bool
	debuglist string

	local_outer Address
	local_inner Address

	// derived
	debug map[string]bool
	set   map[string]bool // names of flags explicitly given on the command line
}

func usage() {
	toks := strings.Split(os.Args[0], "/")
	prog := toks[len(toks)-1]
	fmt.Println("Userspace daemon maintaining AMPRNet-style IPv4-in-IPv4 tunnels")
	fmt.Println("driven by a RIPv2-derived distance-vector feed.")
	fmt.Println("")
	fmt.Println("   ", prog, "[FLAGS] <local-outer-ip> <local-inner-ip>")
	fmt.Println("")
	flag.PrintDefaults()
}

func parse_cli() {

	flag.BoolVar(&cli.nodaemon, "d", false, "don't daemonize")
	flag.BoolVar(&cli.dump, "D", false, "dump discovered state to stdout and exit")
	flag.IntVar(&cli.rtable, "T", 44, "route table for created interfaces/routes")
	flag.IntVar(&cli.bindtable, "B", 0, "route table for the listener socket")
	flag.Var(&cli.accept, "A", "add an ACCEPT policy entry (CIDR), repeatable")
	flag.Var(&cli.ignore, "I", "add an IGNORE policy entry (CIDR), repeatable")
	flag.Var(&cli.static, "s", "mark interface ordinal N static, repeatable")
	flag.StringVar(&cli.file, "f", "", "read advertisement frames from this file instead of the socket")
	flag.StringVar(&cli.config, "c", "", "read a YAML config file layered under these flags")
	flag.StringVar(&cli.policy, "P", "", "acceptance policy file, hot-reloaded on change")
	flag.StringVar(&cli.loglevel, "l", "info", "log level: trace, debug, info, error")
	flag.BoolVar(&cli.stamps, "time-stamps", false, "print logs with time stamps")
	flag.StringVar(&cli.debuglist, "debug", "", "enable debug in listed files, comma separated")
	flag.Usage = usage
	flag.Parse()

	cli.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		cli.set[f.Name] = true
	})

	if err := applyConfigFile(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli.debug = make(map[string]bool)
	for _, fname := range strings.Split(cli.debuglist, ",") {
		if len(fname) == 0 {
			continue
		}
		bix := 0
		eix := len(fname)
		if ix := strings.LastIndex(fname, "/"); ix >= 0 {
			bix = ix + 1
		}
		if ix := strings.LastIndex(fname, "."); ix >= 0 {
			eix = ix
		}
		cli.debug[fname[bix:eix]] = true
	}

	log.set(logLevelFromName(cli.loglevel), cli.stamps)

	args := flag.Args()
	if len(args) != 2 {
		usage()
		os.Exit(2)
	}

	var err error
	cli.local_outer, err = ParseAddress(args[0])
	if err != nil {
		log.fatal("invalid local outer address %q: %v", args[0], err)
	}
	cli.local_inner, err = ParseAddress(args[1])
	if err != nil {
		log.fatal("invalid local inner address %q: %v", args[1], err)
	}
}

func logLevelFromName(name string) uint {
	switch name {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// buildAcceptPolicy seeds the acceptance PrefixMap from -A/-I flags (and
// their config-file equivalents), defaulting to ACCEPT 0.0.0.0/0 when no -A
// was given at all, per §6.
func buildAcceptPolicy() *PrefixMap {

	m := NewPrefixMap()

	// cli entries go in first: PrefixMap.Insert is first-write-wins, and a
	// flag must override a config-file value for the same CIDR.
	for _, c := range cli.ignore {
		net, cidr := mustParsePolicyCIDR(c)
		m.Insert(net, cidr, IGNORE)
	}
	for _, c := range cli.accept {
		net, cidr := mustParsePolicyCIDR(c)
		m.Insert(net, cidr, ACCEPT)
	}
	for _, c := range config.Ignore {
		net, cidr := mustParsePolicyCIDR(c)
		m.Insert(net, cidr, IGNORE)
	}
	for _, c := range config.Accept {
		net, cidr := mustParsePolicyCIDR(c)
		m.Insert(net, cidr, ACCEPT)
	}

	if len(cli.accept) == 0 && len(config.Accept) == 0 {
		m.Insert(0, 0, ACCEPT)
	}

	return m
}

func mustParsePolicyCIDR(s string) (Address, int) {
	net, cidr, err := parseCIDR(s)
	if err != nil {
		log.fatal("invalid policy CIDR %q: %v", s, err)
	}
	return net, cidr
}

// buildStaticIfnums parses -s N entries into a Bitvector marking those
// ordinals as never-allocated, never-collapsed.
func applyStaticIfnums(ifnums *Bitvector) {
	for _, n := range config.StaticIfnums {
		ifnums.SetStatic(n)
	}
	for _, s := range cli.static {
		n, err := strconv.Atoi(s)
		if err != nil {
			log.fatal("invalid -s ifnum %q: %v", s, err)
		}
		ifnums.SetStatic(n)
	}
}
