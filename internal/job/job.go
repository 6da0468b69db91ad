// Package job defines the on-wire DeliveryJob structure.
package job

import "encoding/json"

// DeliveryJob is the transient message carrying the identity and payload of
// one pending delivery attempt. It is never persisted by the core; the
// Delivery row is the durable record.
type DeliveryJob struct {
	DeliveryID  string `json:"deliveryId"`
	EventID     string `json:"eventId"`
	TargetURL   string `json:"targetUrl"`
	PayloadJSON string `json:"payloadJson"`
	Attempt     int    `json:"attempt"`
}

// Encode serializes a DeliveryJob as compact JSON for the broker message body.
func Encode(j DeliveryJob) ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a broker message body into a DeliveryJob.
func Decode(body []byte) (DeliveryJob, error) {
	var j DeliveryJob
	err := json.Unmarshal(body, &j)
	return j, err
}

// NextAttempt returns a copy of j advanced to the next attempt number, used
// when republishing to the retry queue after a retryable failure.
func (j DeliveryJob) NextAttempt() DeliveryJob {
	next := j
	next.Attempt = j.Attempt + 1
	return next
}
