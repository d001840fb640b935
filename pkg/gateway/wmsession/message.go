// Copyright 2024-2026 Aiku AI

package wmsession

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

func (s *Session) buildMessage(ctx context.Context, content gateway.OutboundContent) (*waE2E.Message, error) {
	if !content.IsDocument() {
		return &waE2E.Message{Conversation: proto.String(content.Text)}, nil
	}
	uploaded, err := s.client.Upload(ctx, content.Attachment, whatsmeow.MediaDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to upload document: %w", err)
	}
	return documentMessage(content, uploaded, time.Now()), nil
}

func documentMessage(content gateway.OutboundContent, uploaded whatsmeow.UploadResponse, now time.Time) *waE2E.Message {
	doc := &waE2E.DocumentMessage{
		URL:               proto.String(uploaded.URL),
		DirectPath:        proto.String(uploaded.DirectPath),
		MediaKey:          uploaded.MediaKey,
		FileEncSHA256:     uploaded.FileEncSHA256,
		FileSHA256:        uploaded.FileSHA256,
		FileLength:        proto.Uint64(uploaded.FileLength),
		MediaKeyTimestamp: proto.Int64(now.Unix()),
		Mimetype:          proto.String(detectMimeType(content.FileName, content.Attachment)),
		FileName:          proto.String(content.FileName),
		Title:             proto.String(content.FileName),
	}
	if content.Text != "" {
		doc.Caption = proto.String(content.Text)
	}
	return &waE2E.Message{DocumentMessage: doc}
}

// detectMimeType prefers the file extension and falls back to sniffing the
// content.
func detectMimeType(fileName string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(fileName)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
