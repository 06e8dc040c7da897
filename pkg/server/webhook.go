package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/EchoPostAI/echopost/pkg/helpers"
	"github.com/EchoPostAI/echopost/pkg/notify"
)

const pushBodyLimitBytes = 1024 * 1024

// pubsubPushEnvelope is the wrapper the push relay delivers; the inner
// notification sits base64-encoded in Message.Data.
type pubsubPushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type mailPushPayload struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

// The provider sends historyId sometimes as a string and sometimes as a
// number; accept both.
func (p *mailPushPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		EmailAddress string          `json:"emailAddress"`
		HistoryID    json.RawMessage `json:"historyId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.EmailAddress = raw.EmailAddress
	if len(raw.HistoryID) == 0 {
		p.HistoryID = ""
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw.HistoryID, &asString); err == nil {
		p.HistoryID = asString
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw.HistoryID, &asNumber); err == nil {
		if v := strings.TrimSpace(asNumber.String()); v != "" {
			p.HistoryID = v
			return nil
		}
	}
	return errors.New("historyId must be string or number")
}

// handleWebhook acknowledges fast and defers all real work: a valid payload
// is deduplicated and, if new, published for the background pipeline.
// Malformed payloads get a client error; everything else gets 200 so the
// relay does not retry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, pushBodyLimitBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var envelope pubsubPushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid push envelope")
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload encoding")
		return
	}

	var payload mailPushPayload
	if err := json.Unmarshal(decoded, &payload); err != nil || payload.EmailAddress == "" {
		writeError(w, http.StatusBadRequest, "invalid notification payload")
		return
	}

	if s.dedup.Seen(payload.EmailAddress, payload.HistoryID) {
		s.logger.Debug("duplicate notification dropped", "email", payload.EmailAddress, "cursor", payload.HistoryID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	err = helpers.NatsPublish(s.nc, notify.SubjectMailNotification, notify.Notification{
		EmailAddress:  payload.EmailAddress,
		HistoryCursor: payload.HistoryID,
	})
	if err != nil {
		// The relay will redeliver; the dedup entry is already recorded, so
		// log loudly rather than fail the ack.
		s.logger.Error("failed to publish notification", "email", payload.EmailAddress, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
