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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeSerialize(t *testing.T) {
	assert := assert.New(t)

	// Object payload
	{
		serialized, err := Envelope{
			Event: "demo-event", Data: map[string]string{"msg": "hi"},
		}.Serialize()
		assert.Nil(err)
		assert.Equal("event: demo-event\ndata: {\"msg\":\"hi\"}\n\n", string(serialized))
	}

	// Null payload
	{
		serialized, err := Envelope{Event: "demo-event"}.Serialize()
		assert.Nil(err)
		assert.Equal("event: demo-event\ndata: null\n\n", string(serialized))
	}

	// Unserializable payload
	{
		_, err := Envelope{Event: "demo-event", Data: make(chan int)}.Serialize()
		assert.NotNil(err)
	}

	// Heartbeat envelope
	{
		serialized, err := PingEnvelope().Serialize()
		assert.Nil(err)
		assert.Equal("event: ping\ndata: {}\n\n", string(serialized))
	}

	assert.Equal(":ok\n\n", string(StreamOpenMessage()))
}
