// Copyright 2024-2026 Aiku AI

package gateway

import (
	"strings"
)

const (
	// StatusBroadcastID is the pseudo-identity status updates are sent from.
	StatusBroadcastID = "status@broadcast"

	groupSuffix     = "@g.us"
	broadcastSuffix = "@broadcast"
)

// IsGroupID reports whether the identity belongs to a group conversation.
func IsGroupID(id string) bool {
	return strings.HasSuffix(id, groupSuffix)
}

// IsBroadcastID reports whether the identity is the status pseudo-identity
// or a broadcast list.
func IsBroadcastID(id string) bool {
	return id == StatusBroadcastID || strings.HasSuffix(id, broadcastSuffix)
}

// IsIgnoredChat reports whether messages from the identity are never
// forwarded.
func IsIgnoredChat(id string) bool {
	return IsGroupID(id) || IsBroadcastID(id)
}

// NumberFromAddress extracts the user part of an address, so both
// "5511999" and "5511999@s.whatsapp.net" yield "5511999".
func NumberFromAddress(addr string) string {
	number, _, _ := strings.Cut(strings.TrimSpace(addr), "@")
	return number
}

// NormalizeText lower-cases and trims message text for command matching
// and forwarding.
func NormalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
