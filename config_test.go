/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import "testing"

func TestEffectiveRtableExplicitFlagWinsEvenAtDefault(t *testing.T) {

	saved := cli
	savedConfig := config
	defer func() { cli = saved; config = savedConfig }()

	rt := 55
	config.RouteTable = &rt

	cli.rtable = 44 // matches the flag's default value
	cli.set = map[string]bool{"T": true}

	if got := effectiveRtable(); got != 44 {
		t.Fatalf("explicitly-set -T should win over config even at the default value: got %v, want 44", got)
	}
}

func TestEffectiveRtableFallsBackToConfigWhenUnset(t *testing.T) {

	saved := cli
	savedConfig := config
	defer func() { cli = saved; config = savedConfig }()

	rt := 55
	config.RouteTable = &rt

	cli.rtable = 44
	cli.set = map[string]bool{}

	if got := effectiveRtable(); got != 55 {
		t.Fatalf("unset -T should fall back to config: got %v, want 55", got)
	}
}

func TestEffectiveBindtableFallsBackToConfigWhenUnset(t *testing.T) {

	saved := cli
	savedConfig := config
	defer func() { cli = saved; config = savedConfig }()

	bt := 12
	config.BindRouteTable = &bt

	cli.bindtable = 0
	cli.set = map[string]bool{}

	if got := effectiveBindtable(); got != 12 {
		t.Fatalf("unset -B should fall back to config: got %v, want 12", got)
	}
}
