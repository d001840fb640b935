// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package gateway connects a WhatsApp account to an application server
// that decides the bot's replies.
//
// Inbound messages are classified and forwarded to the application
// server's webhook. Replies come back on the HTTP API at
// POST /send-message and are delivered through WhatsApp after checking
// that the recipient exists.
//
// # Core Types
//
// [Supervisor] owns the single WhatsApp session of the process. It dials
// sessions through a [Dialer], persists credentials in a [SessionStore] and
// reconnects according to the disconnect cause: a logged-out session is
// deleted and paired again, a restart request is retried once after a
// short delay, anything else is retried periodically until a connection
// opens.
//
// [Router] routes each inbound message to at most one action. Pause and
// resume commands are always forwarded, even when sent from the gateway's
// own account, so operators can take over a conversation from their phone.
// Conversations in human attendance are never answered automatically.
//
// [Outbound] and [API] implement the send path.
//
// # Sub-packages
//
//   - webhook is the HTTP client for the application server.
//   - wmsession implements [Session], [Dialer] and [SessionStore] on top of
//     whatsmeow.
package gateway
