package gmailapi

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"google.golang.org/api/gmail/v1"
)

// InboundMessage is the provider-neutral view of a fetched message that
// the processing pipeline works with.
type InboundMessage struct {
	ProviderMessageID string
	ThreadID          string
	SenderEmail       string
	SenderName        string
	Subject           string
	Body              string
	ReceivedAt        time.Time
}

// Translate normalizes a raw provider message. It never fails: malformed
// parts just leave the corresponding fields empty.
func Translate(msg *gmail.Message) InboundMessage {
	out := InboundMessage{}
	if msg == nil {
		return out
	}

	out.ProviderMessageID = msg.Id
	out.ThreadID = msg.ThreadId
	if msg.InternalDate > 0 {
		out.ReceivedAt = time.UnixMilli(msg.InternalDate)
	}

	if msg.Payload == nil {
		return out
	}

	var from string
	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "From":
			from = header.Value
		case "Subject":
			out.Subject = header.Value
		}
	}

	out.SenderEmail, out.SenderName = parseFrom(from)
	out.Body = extractBody(msg.Payload)
	return out
}

// parseFrom splits a `"Name <addr>"` header into its parts. An unparsable
// header is kept verbatim as the address.
func parseFrom(from string) (email, name string) {
	if from == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from), ""
	}
	return addr.Address, addr.Name
}

// extractBody walks the payload preferring text/plain over text/html,
// recursing into multipart containers, and falls back to the top-level
// body when no part matches.
func extractBody(p *gmail.MessagePart) string {
	plain, html := collectParts(p)
	if plain != "" {
		return strings.TrimSpace(plain)
	}
	if html != "" {
		return strings.TrimSpace(html)
	}
	return ""
}

func collectParts(p *gmail.MessagePart) (plain, html string) {
	if p == nil {
		return "", ""
	}

	if p.Body != nil && p.Body.Data != "" {
		switch {
		case strings.HasPrefix(p.MimeType, "text/plain"):
			plain, _ = decodeBase64URL(p.Body.Data)
		case strings.HasPrefix(p.MimeType, "text/html"):
			raw, _ := decodeBase64URL(p.Body.Data)
			if t, err := html2text.FromString(raw, html2text.Options{OmitLinks: true, TextOnly: true}); err == nil {
				html = t
			}
		}
	}

	for _, part := range p.Parts {
		subPlain, subHTML := collectParts(part)
		if plain == "" && subPlain != "" {
			plain = subPlain
		}
		if html == "" && subHTML != "" {
			html = subHTML
		}
		if plain != "" {
			break
		}
	}
	return plain, html
}

func decodeBase64URL(s string) (string, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	b, err := base64.StdEncoding.DecodeString(s)
	return string(b), err
}
