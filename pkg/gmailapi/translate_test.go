package gmailapi

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/gmail/v1"
)

func encodeBody(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestTranslatePrefersPlainText(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: 1700000000000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice Example <alice@example.com>"},
				{Name: "Subject", Value: "Lunch?"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/html",
					Body:     &gmail.MessagePartBody{Data: encodeBody("<p>Hello <b>there</b></p>")},
				},
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: encodeBody("Hello there")},
				},
			},
		},
	}

	out := Translate(msg)
	assert.Equal(t, "m1", out.ProviderMessageID)
	assert.Equal(t, "t1", out.ThreadID)
	assert.Equal(t, "alice@example.com", out.SenderEmail)
	assert.Equal(t, "Alice Example", out.SenderName)
	assert.Equal(t, "Lunch?", out.Subject)
	assert.Equal(t, "Hello there", out.Body)
	assert.Equal(t, time.UnixMilli(1700000000000), out.ReceivedAt)
}

func TestTranslateFallsBackToHTML(t *testing.T) {
	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Body:     &gmail.MessagePartBody{Data: encodeBody("<p>Hello from HTML</p>")},
		},
	}

	out := Translate(msg)
	assert.Contains(t, out.Body, "Hello from HTML")
}

func TestTranslateRecursesNestedMultipart(t *testing.T) {
	msg := &gmail.Message{
		Id: "m3",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/plain",
							Body:     &gmail.MessagePartBody{Data: encodeBody("nested body")},
						},
					},
				},
			},
		},
	}

	out := Translate(msg)
	assert.Equal(t, "nested body", out.Body)
}

func TestTranslateTopLevelBody(t *testing.T) {
	msg := &gmail.Message{
		Id: "m4",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Body:     &gmail.MessagePartBody{Data: encodeBody("top level")},
		},
	}

	out := Translate(msg)
	assert.Equal(t, "top level", out.Body)
}

func TestTranslateBareFromAddress(t *testing.T) {
	msg := &gmail.Message{
		Id: "m5",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "bob@example.com"},
			},
		},
	}

	out := Translate(msg)
	assert.Equal(t, "bob@example.com", out.SenderEmail)
	assert.Empty(t, out.SenderName)
}

func TestTranslateMalformedInput(t *testing.T) {
	assert.NotPanics(t, func() {
		out := Translate(nil)
		assert.Empty(t, out.ProviderMessageID)

		out = Translate(&gmail.Message{Id: "m6"})
		assert.Equal(t, "m6", out.ProviderMessageID)
		assert.Empty(t, out.Body)
		assert.Empty(t, out.SenderEmail)
		assert.True(t, out.ReceivedAt.IsZero())

		out = Translate(&gmail.Message{
			Id: "m7",
			Payload: &gmail.MessagePart{
				MimeType: "text/plain",
				Body:     &gmail.MessagePartBody{Data: "!!!not-base64!!!"},
			},
		})
		assert.Empty(t, out.Body)
	})
}
