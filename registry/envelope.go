// Copyright 2022 The ssepush Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"encoding/json"
	"fmt"
)

// PingEventName the reserved event name of the heartbeat signal. Consumers
// treat it as a liveness marker, not an application event.
const PingEventName = "ping"

// Envelope the immutable unit of data pushed to a client: an event name plus
// an arbitrary JSON-serializable payload
type Envelope struct {
	// Event the event name
	Event string `json:"event" validate:"required"`
	// Data the event payload
	Data interface{} `json:"data"`
}

// Serialize render the envelope in server-sent-event wire format
//
//	event: <name>\n
//	data: <JSON payload>\n
//	\n
func (e Envelope) Serialize() ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Event, payload)), nil
}

// PingEnvelope define the zero-payload heartbeat envelope
func PingEnvelope() Envelope {
	return Envelope{Event: PingEventName, Data: map[string]interface{}{}}
}

// StreamOpenMessage the comment line sent on stream establishment, before any
// named event, confirming to the consumer that the stream is open
func StreamOpenMessage() []byte {
	return []byte(":ok\n\n")
}
