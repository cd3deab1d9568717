// Package domain contains core concepts of the bot.
// This file defines the JID identity type and its bare normal form.
package domain

import "strings"

// JID is an opaque chat participant address. Only equality and the bare
// form are interpreted; everything else is the transport's business.
type JID string

// Bare strips the resource part ("user@host/resource" -> "user@host").
// All membership and role checks operate on bare JIDs.
func (j JID) Bare() JID {
	if i := strings.IndexByte(string(j), '/'); i >= 0 {
		return j[:i]
	}
	return j
}

func (j JID) String() string {
	return string(j)
}

// Resource returns the resource part of a full JID, or "" for a bare one.
func (j JID) Resource() string {
	if i := strings.IndexByte(string(j), '/'); i >= 0 {
		return string(j[i+1:])
	}
	return ""
}
