// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/requestlog"
	"maunium.net/go/mautrix/bridgev2/status"
)

// maxSendBodySize bounds /send-message bodies; base64 media makes them
// large.
const maxSendBodySize = 50 << 20

// Sender delivers outbound requests.
type Sender interface {
	Send(ctx context.Context, req OutboundRequest) (SendResult, error)
}

// StateProvider reports the current connection state.
type StateProvider interface {
	State() status.BridgeState
}

// SendMessageRequest is the body of POST /send-message. MediaData is
// base64-encoded.
type SendMessageRequest struct {
	To        string `json:"to"`
	Text      string `json:"text,omitempty"`
	MediaData string `json:"mediaData,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// APIResponse is the body of every /send-message response.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// API serves the HTTP surface the application server calls.
type API struct {
	sender Sender
	state  StateProvider
	log    zerolog.Logger
}

func NewAPI(sender Sender, state StateProvider, log zerolog.Logger) *API {
	return &API{
		sender: sender,
		state:  state,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed handler with request logging attached.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send-message", a.HandleSendMessage)
	mux.HandleFunc("GET /status", a.HandleStatus)
	return exhttp.ApplyMiddleware(
		mux,
		hlog.NewHandler(a.log),
		requestlog.AccessLogger(requestlog.Options{Recover: true}),
	)
}

// NewServer creates the HTTP server for the API.
func (a *API) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: a.Handler(),
		// Media uploads to WhatsApp happen inside the request.
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// HandleSendMessage is the HTTP handler for POST /send-message.
func (a *API) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSendBodySize)
	var body SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	req := OutboundRequest{
		To:       body.To,
		Text:     body.Text,
		FileName: body.FileName,
	}
	if body.MediaData != "" {
		data, err := base64.StdEncoding.DecodeString(body.MediaData)
		if err != nil {
			writeError(w, http.StatusBadRequest, "mediaData is not valid base64")
			return
		}
		req.Attachment = data
	}

	result, err := a.sender.Send(r.Context(), req)
	if err != nil {
		a.writeSendError(w, r, req, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, APIResponse{
		Status:  "success",
		Message: result.String(),
	})
}

func (a *API) writeSendError(w http.ResponseWriter, r *http.Request, req OutboundRequest, err error) {
	log := hlog.FromRequest(r)
	switch {
	case errors.Is(err, ErrNotConnected):
		writeError(w, http.StatusInternalServerError, "WhatsApp is not connected")
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Incomplete request")
	case errors.Is(err, ErrRecipientNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Number %s not found on WhatsApp", NumberFromAddress(req.To)))
	default:
		log.Err(err).Msg("Failed to send message")
		writeError(w, http.StatusInternalServerError, "Internal gateway failure")
	}
}

// HandleStatus is the HTTP handler for GET /status.
func (a *API) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, a.state.State())
}

func writeError(w http.ResponseWriter, code int, message string) {
	exhttp.WriteJSONResponse(w, code, APIResponse{Status: "error", Message: message})
}
