// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

const verifiedAddr = "5511999@s.whatsapp.net"

func newTestOutbound(sess Session) *Outbound {
	return NewOutbound(staticSessions{sess: sess}, zerolog.Nop())
}

func existingSession() *fakeSession {
	return &fakeSession{Existence: ExistenceResult{Exists: true, VerifiedAddress: verifiedAddr}}
}

func TestOutboundRequestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		req   OutboundRequest
		valid bool
	}{
		{"text", OutboundRequest{To: "5511999", Text: "hi"}, true},
		{"text to full address", OutboundRequest{To: "5511999@s.whatsapp.net", Text: "hi"}, true},
		{"media with name", OutboundRequest{To: "5511999", Attachment: []byte("x"), FileName: "a.pdf"}, true},
		{"media with caption", OutboundRequest{To: "5511999", Text: "see", Attachment: []byte("x"), FileName: "a.pdf"}, true},
		{"text with stray file name", OutboundRequest{To: "5511999", Text: "hi", FileName: "a.pdf"}, true},
		{"missing recipient", OutboundRequest{Text: "hi"}, false},
		{"blank recipient", OutboundRequest{To: "  ", Text: "hi"}, false},
		{"no content", OutboundRequest{To: "5511999"}, false},
		{"media without name", OutboundRequest{To: "5511999", Attachment: []byte("x")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestOutboundNotConnected(t *testing.T) {
	t.Parallel()
	_, err := newTestOutbound(nil).Send(context.Background(), OutboundRequest{To: "5511999", Text: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestOutboundInvalidRequestSkipsLookup(t *testing.T) {
	t.Parallel()
	sess := existingSession()
	_, err := newTestOutbound(sess).Send(context.Background(), OutboundRequest{To: "5511999"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if errors.Is(err, ErrNotConnected) {
		t.Error("invalid request must not be reported as not connected")
	}
	if checked := sess.Checked(); len(checked) != 0 {
		t.Errorf("expected no lookup, got %v", checked)
	}
}

func TestOutboundRecipientNotFound(t *testing.T) {
	t.Parallel()
	for _, existence := range []ExistenceResult{
		{},
		{Exists: true},
	} {
		sess := &fakeSession{Existence: existence}
		_, err := newTestOutbound(sess).Send(context.Background(), OutboundRequest{To: "000", Text: "hi"})
		if !errors.Is(err, ErrRecipientNotFound) {
			t.Errorf("existence %+v: expected ErrRecipientNotFound, got %v", existence, err)
		}
		if sent := sess.Sent(); len(sent) != 0 {
			t.Errorf("existence %+v: expected nothing sent, got %+v", existence, sent)
		}
	}
}

func TestOutboundSendsTextToVerifiedAddress(t *testing.T) {
	t.Parallel()
	sess := existingSession()
	result, err := newTestOutbound(sess).Send(context.Background(), OutboundRequest{
		To:   "5511999@c.us",
		Text: "Hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != SentText {
		t.Errorf("result: got %v, want %v", result, SentText)
	}
	if result.String() != "text sent" {
		t.Errorf("result string: got %q, want %q", result.String(), "text sent")
	}
	if checked := sess.Checked(); len(checked) != 1 || checked[0] != "5511999" {
		t.Errorf("lookup: got %v, want [5511999]", checked)
	}
	sent := sess.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %+v", sent)
	}
	if sent[0].To != verifiedAddr {
		t.Errorf("recipient: got %q, want %q", sent[0].To, verifiedAddr)
	}
	if sent[0].Content.Text != "Hello" || sent[0].Content.IsDocument() {
		t.Errorf("content: got %+v", sent[0].Content)
	}
}

func TestOutboundSendsDocument(t *testing.T) {
	t.Parallel()
	sess := existingSession()
	pdf := []byte("%PDF-1.4 hello")
	result, err := newTestOutbound(sess).Send(context.Background(), OutboundRequest{
		To:         "5511999",
		Text:       "Your invoice",
		Attachment: pdf,
		FileName:   "invoice.pdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != SentMedia || result.String() != "media sent" {
		t.Errorf("result: got %v (%q)", result, result.String())
	}
	sent := sess.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %+v", sent)
	}
	content := sent[0].Content
	if !content.IsDocument() {
		t.Fatal("expected a document")
	}
	if content.FileName != "invoice.pdf" {
		t.Errorf("file name: got %q, want %q", content.FileName, "invoice.pdf")
	}
	if content.Text != "Your invoice" {
		t.Errorf("caption: got %q, want %q", content.Text, "Your invoice")
	}
	if !bytes.Equal(content.Attachment, pdf) {
		t.Errorf("attachment: got %q, want %q", content.Attachment, pdf)
	}
}

func TestOutboundFileNameWithoutAttachmentSendsText(t *testing.T) {
	t.Parallel()
	sess := existingSession()
	result, err := newTestOutbound(sess).Send(context.Background(), OutboundRequest{
		To:       "5511999",
		Text:     "hi",
		FileName: "ignored.pdf",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != SentText {
		t.Errorf("result: got %v, want %v", result, SentText)
	}
	if sent := sess.Sent(); len(sent) != 1 || sent[0].Content.IsDocument() {
		t.Errorf("expected a plain text message, got %+v", sent)
	}
}

func TestOutboundDeliveryFailure(t *testing.T) {
	t.Parallel()
	sess := existingSession()
	sess.SendErr = errBoom
	_, err := newTestOutbound(sess).Send(context.Background(), OutboundRequest{To: "5511999", Text: "hi"})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("expected ErrDeliveryFailed, got %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected the transport error to be wrapped, got %v", err)
	}
	if errors.Is(err, ErrInvalidRequest) {
		t.Error("delivery failure must not look like an invalid request")
	}
}

func TestOutboundLookupFailure(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{CheckErr: errBoom}
	_, err := newTestOutbound(sess).Send(context.Background(), OutboundRequest{To: "5511999", Text: "hi"})
	if !errors.Is(err, ErrDeliveryFailed) || !errors.Is(err, errBoom) {
		t.Errorf("expected wrapped ErrDeliveryFailed, got %v", err)
	}
	if sent := sess.Sent(); len(sent) != 0 {
		t.Errorf("expected nothing sent, got %+v", sent)
	}
}
