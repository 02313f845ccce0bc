/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// PolicyFile parses an acceptance-policy file: one "CIDR ACCEPT|IGNORE" (or
// "CIDR +|-") pair per line, blank lines and "#" comments ignored. A line
// with no explicit mask is read as a /32.
func ParsePolicyFile(path string) (*PrefixMap, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := NewPrefixMap()

	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%v:%v: expected \"CIDR ACCEPT|IGNORE\"", path, lineno)
		}

		net, cidr, err := parseCIDR(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%v:%v: %v", path, lineno, err)
		}

		pol, err := parsePolicyWord(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%v:%v: %v", path, lineno, err)
		}

		m.Insert(net, cidr, pol)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

func parsePolicyWord(w string) (Policy, error) {
	switch w {
	case "ACCEPT", "+":
		return ACCEPT, nil
	case "IGNORE", "-":
		return IGNORE, nil
	default:
		return IGNORE, fmt.Errorf("unrecognized policy word %q", w)
	}
}

// parseCIDR splits "a.b.c.d/n" into its normalized network and prefix
// length; a bare address without "/n" is treated as a host route.
func parseCIDR(s string) (Address, int, error) {

	addrPart, cidrPart, hasSlash := strings.Cut(s, "/")

	addr, err := ParseAddress(addrPart)
	if err != nil {
		return 0, 0, err
	}

	cidr := 32
	if hasSlash {
		cidr, err = strconv.Atoi(cidrPart)
		if err != nil || cidr < 0 || cidr > 32 {
			return 0, 0, fmt.Errorf("invalid CIDR length %q", cidrPart)
		}
	}

	return addr & MaskFromCIDR(cidr), cidr, nil
}

// PolicyWatcher hot-reloads the acceptance policy file, handing the daemon
// loop a freshly built PrefixMap over reload each time the file changes on
// disk. The loop swaps its live policy pointer between datagrams, so the
// channel is capacity 1: a pending reload waiting to be picked up is
// replaced in place by a newer one rather than queuing.
type PolicyWatcher struct {
	path    string
	Reload  chan *PrefixMap
	watcher *fsnotify.Watcher
}

func WatchPolicyFile(path string) (*PolicyWatcher, error) {

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	pw := &PolicyWatcher{path: path, Reload: make(chan *PrefixMap, 1), watcher: w}
	go pw.run()
	return pw, nil
}

func (pw *PolicyWatcher) run() {

	for {
		select {
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			m, err := ParsePolicyFile(pw.path)
			if err != nil {
				log.err("policy: reload %v failed: %v", pw.path, err)
				continue
			}

			select {
			case <-pw.Reload: // drop a stale pending reload
			default:
			}
			pw.Reload <- m
			log.info("policy: reloaded %v", pw.path)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.err("policy: watch %v: %v", pw.path, err)
		}
	}
}

func (pw *PolicyWatcher) Close() error {
	return pw.watcher.Close()
}
