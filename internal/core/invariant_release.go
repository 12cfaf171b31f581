//go:build !fwip_debug

package core

const debugInvariants = false
