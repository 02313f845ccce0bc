/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"errors"
	"net/netip"
	"strconv"
)

// Address is a 32-bit IPv4 address in host byte order. Every part of the
// core (prefix map keys, route/tunnel fields, engine arithmetic) uses this
// representation; conversion to network byte order happens only inside the
// kernel adapter and the protocol frontend's wire (de)serialization.
type Address uint32

func (a Address) String() string {
	return netip.AddrFrom4([4]byte{
		byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a),
	}).String()
}

// ParseAddress accepts dotted-quad text only, unlike inet_aton's looser
// grammar (octal/hex octets, fewer than four parts).
func ParseAddress(s string) (Address, error) {

	ip, err := netip.ParseAddr(s)
	if err != nil {
		return 0, err
	}
	if !ip.Is4() {
		return 0, errors.New("not an IPv4 address")
	}
	b := ip.As4()
	return Address(b[0])<<24 | Address(b[1])<<16 | Address(b[2])<<8 | Address(b[3]), nil
}

func MustParseAddress(s string) Address {

	a, err := ParseAddress(s)
	if err != nil {
		log.fatal("invalid IP address: %v: %v", s, err)
	}
	return a
}

func AddressFromSlice(b []byte) Address {
	return Address(b[0])<<24 | Address(b[1])<<16 | Address(b[2])<<8 | Address(b[3])
}

func (a Address) AsSlice() []byte {
	return []byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}
}

func (a Address) NetOrder() [4]byte {
	return [4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}
}

// MaskFromCIDR returns the contiguous netmask for a prefix length 0..32.
func MaskFromCIDR(cidr int) Address {

	if cidr <= 0 {
		return 0
	}
	if cidr >= 32 {
		return 0xffffffff
	}
	return Address(0xffffffff) << uint(32-cidr)
}

// CIDRFromMask returns the prefix length of a contiguous netmask, panicking
// if mask is not contiguous (all one-bits followed by all zero-bits).
func CIDRFromMask(mask Address) int {

	cidr := popcount(uint32(mask))
	if MaskFromCIDR(cidr) != mask {
		panic("non-contiguous netmask")
	}
	return cidr
}

// CIDRFromMaskOK returns the prefix length of mask and true if mask is
// contiguous, or false otherwise. Use this on untrusted wire input; use
// CIDRFromMask when the mask is already known-good.
func CIDRFromMaskOK(mask Address) (int, bool) {

	cidr := popcount(uint32(mask))
	if MaskFromCIDR(cidr) != mask {
		return 0, false
	}
	return cidr, true
}

func popcount(n uint32) int {

	count := 0
	for n != 0 {
		n &= n - 1
		count++
	}
	return count
}

// Prefix pairs a network address with a CIDR length; Net is always
// normalized (Net & MaskFromCIDR(CIDR) == Net) by the caller before storage.
type Prefix struct {
	Net  Address
	CIDR int
}

func (p Prefix) String() string {
	return p.Net.String() + "/" + strconv.Itoa(p.CIDR)
}
