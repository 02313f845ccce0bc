/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"os"

	"gopkg.in/yaml.v2"
)

// configFile mirrors SPEC_FULL.md's YAML config schema. It is consulted
// first, then command-line flags are applied on top of it, so a flag always
// wins over a config-file value.
type configFile struct {
	RouteTable      *int     `yaml:"route_table"`
	BindRouteTable  *int     `yaml:"bind_route_table"`
	StaticIfnums    []int    `yaml:"static_interfaces"`
	Accept          []string `yaml:"accept"`
	Ignore          []string `yaml:"ignore"`
	Password        string   `yaml:"password"`
	ListenGroup     string   `yaml:"listen_group"`
	ListenPort      *int     `yaml:"listen_port"`
	TimeoutSeconds  *int     `yaml:"timeout_seconds"`
}

var config configFile

// applyConfigFile loads cli.config, if set, into the package-level config
// struct. Values are layered under flags by the effective* accessors below,
// each checking cli.set to see whether its flag was explicitly given.
func applyConfigFile() error {

	if cli.config == "" {
		return nil
	}

	data, err := os.ReadFile(cli.config)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, &config)
}

// effectiveRtable returns the -T value if it was explicitly given on the
// command line, or the config file's route_table otherwise.
func effectiveRtable() int {
	if !cli.set["T"] && config.RouteTable != nil {
		return *config.RouteTable
	}
	return cli.rtable
}

func effectiveBindtable() int {
	if !cli.set["B"] && config.BindRouteTable != nil {
		return *config.BindRouteTable
	}
	return cli.bindtable
}

func effectiveTimeout() int {
	if config.TimeoutSeconds != nil {
		return *config.TimeoutSeconds
	}
	return 7 * 24 * 3600
}

func effectiveListenGroup() string {
	if config.ListenGroup != "" {
		return config.ListenGroup
	}
	return "224.0.0.9"
}

func effectiveListenPort() int {
	if config.ListenPort != nil {
		return *config.ListenPort
	}
	return 520
}
