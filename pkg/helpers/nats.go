// Package helpers holds small shared utilities.
package helpers

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// NatsPublish JSON-encodes the payload and publishes it on the subject.
func NatsPublish(nc *nats.Conn, subject string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return nc.Publish(subject, payloadJSON)
}
