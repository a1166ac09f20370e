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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/ssepush/common"
	"github.com/alwitt/ssepush/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func defineTestRegistry(
	t *testing.T, ctxt context.Context, store *inMemoryRecordStore, config common.RegistryConfig,
) (ConnectionRegistry, *sync.WaitGroup) {
	assert := assert.New(t)
	wg := &sync.WaitGroup{}
	uut, err := DefineConnectionRegistry(ctxt, store, store, config, time.Second, wg)
	assert.Nil(err)
	return uut, wg
}

func TestConnectionRegistryClientLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := newInMemoryRecordStore()
	uut, wg := defineTestRegistry(t, utCtxt, store, common.RegistryConfig{
		HeartbeatInterval: 25000, ReaperInterval: 10000, MaxInactivePeriod: 30000,
	})
	defer wg.Wait()

	// Case 0: registration parameters must carry an ID and a connection
	assert.NotNil(uut.AddClient(utCtxt, ClientParam{ID: "", Connection: newMockClientConnection()}))
	assert.NotNil(uut.AddClient(utCtxt, ClientParam{ID: uuid.New().String()}))

	// Case 1: register a client
	client1 := uuid.New().String()
	session1 := uuid.New().String()
	conn1 := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: client1, Connection: conn1, SessionToken: session1, Username: "unit-tester",
	}))
	{
		active := uut.ListActiveConnections()
		assert.Len(active, 1)
		assert.Equal(client1, active[0].ID)
		assert.Equal(session1, active[0].SessionToken)
	}
	{
		status, ok := store.sessionStatus(client1)
		assert.True(ok)
		assert.Equal(storage.SessionStatusOnline, status)
	}

	// Case 2: removal closes the stream and demotes the durable record
	uut.RemoveClient(utCtxt, client1)
	assert.Empty(uut.ListActiveConnections())
	assert.True(conn1.wasClosed())
	{
		status, ok := store.sessionStatus(client1)
		assert.True(ok)
		assert.Equal(storage.SessionStatusOffline, status)
	}

	// Case 3: removing an unknown client is a no-op
	uut.RemoveClient(utCtxt, uuid.New().String())
}

func TestConnectionRegistrySingleConnectionPerSession(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := newInMemoryRecordStore()
	uut, wg := defineTestRegistry(t, utCtxt, store, common.RegistryConfig{
		HeartbeatInterval: 25000, ReaperInterval: 10000, MaxInactivePeriod: 30000,
	})
	defer wg.Wait()

	session1 := uuid.New().String()
	client1 := uuid.New().String()
	conn1 := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: client1, Connection: conn1, SessionToken: session1,
	}))

	// Second connection with the same token evicts the first
	client2 := uuid.New().String()
	conn2 := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: client2, Connection: conn2, SessionToken: session1,
	}))
	assert.True(conn1.wasClosed())
	{
		active := uut.ListActiveConnections()
		assert.Len(active, 1)
		assert.Equal(client2, active[0].ID)
	}

	// Events for the session land on the survivor only
	uut.SendEventToUser(utCtxt, session1, Envelope{Event: "test-event", Data: "check"})
	assert.Empty(conn1.received())
	assert.Len(conn2.received(), 1)

	// Anonymous connections coexist freely
	client3 := uuid.New().String()
	client4 := uuid.New().String()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: client3, Connection: newMockClientConnection(),
	}))
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: client4, Connection: newMockClientConnection(),
	}))
	assert.Len(uut.ListActiveConnections(), 3)
}

func TestConnectionRegistryEventDelivery(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := newInMemoryRecordStore()
	uut, wg := defineTestRegistry(t, utCtxt, store, common.RegistryConfig{
		HeartbeatInterval: 25000, ReaperInterval: 10000, MaxInactivePeriod: 30000,
	})
	defer wg.Wait()

	client1 := uuid.New().String()
	conn1 := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{ID: client1, Connection: conn1}))

	// Case 0: wire format of a direct send
	uut.SendEventToClient(utCtxt, client1, Envelope{
		Event: "demo-event", Data: map[string]string{"msg": "hi"},
	})
	{
		writes := conn1.received()
		assert.Len(writes, 1)
		assert.Equal("event: demo-event\ndata: {\"msg\":\"hi\"}\n\n", string(writes[0]))
	}

	// Case 1: sending to an unknown client is a no-op
	uut.SendEventToClient(utCtxt, uuid.New().String(), Envelope{Event: "demo-event"})
	uut.SendEventToUser(utCtxt, uuid.New().String(), Envelope{Event: "demo-event"})
	assert.Len(conn1.received(), 1)

	// Case 2: broadcast reaches every live connection
	client2 := uuid.New().String()
	conn2 := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{ID: client2, Connection: conn2}))
	uut.Broadcast(utCtxt, Envelope{Event: "announce", Data: 2})
	assert.Len(conn1.received(), 2)
	assert.Len(conn2.received(), 1)

	// Case 3: a failed write evicts the connection immediately
	conn2.failWrites()
	uut.Broadcast(utCtxt, Envelope{Event: "announce", Data: 3})
	assert.Len(conn1.received(), 3)
	{
		active := uut.ListActiveConnections()
		assert.Len(active, 1)
		assert.Equal(client1, active[0].ID)
	}
	assert.True(conn2.wasClosed())
}

func TestConnectionRegistrySubscriptionFanOut(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := newInMemoryRecordStore()
	uut, wg := defineTestRegistry(t, utCtxt, store, common.RegistryConfig{
		HeartbeatInterval: 25000, ReaperInterval: 10000, MaxInactivePeriod: 30000,
	})
	defer wg.Wait()

	sessionA := uuid.New().String()
	clientA := uuid.New().String()
	connA := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: clientA, Connection: connA, SessionToken: sessionA,
	}))

	sessionB := uuid.New().String()
	clientB := uuid.New().String()
	connB := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: clientB, Connection: connB, SessionToken: sessionB,
	}))

	// Session-wide subscription for A, connection-scoped for B
	assert.Nil(uut.Subscribe(utCtxt, sessionA, "order-update", nil))
	assert.Nil(uut.Subscribe(utCtxt, sessionB, "order-update", &clientB))

	// Subscribing twice changes nothing
	assert.Nil(uut.Subscribe(utCtxt, sessionA, "order-update", nil))
	assert.Equal(2, store.subscriptionCount())

	uut.SendEventToSubscribers(utCtxt, "order-update", Envelope{
		Event: "order-update", Data: map[string]string{"id": "1234"},
	})
	assert.Len(connA.received(), 1)
	assert.Len(connB.received(), 1)

	// Events without subscribers go nowhere
	uut.SendEventToSubscribers(utCtxt, "unrelated-event", Envelope{Event: "unrelated-event"})
	assert.Len(connA.received(), 1)
	assert.Len(connB.received(), 1)

	// The subscription survives as a cached name on the connection snapshot
	{
		active := uut.ListActiveConnections()
		assert.Len(active, 2)
		for _, entry := range active {
			assert.Equal([]string{"order-update"}, entry.Subscriptions)
		}
	}

	// Case: unsubscribe stops delivery for that session only
	assert.Nil(uut.Unsubscribe(utCtxt, sessionA, "order-update", nil))
	uut.SendEventToSubscribers(utCtxt, "order-update", Envelope{Event: "order-update"})
	assert.Len(connA.received(), 1)
	assert.Len(connB.received(), 2)

	// Case: clearing a session removes all of its records
	assert.Nil(uut.Subscribe(utCtxt, sessionB, "price-update", nil))
	assert.Nil(uut.UnsubscribeFromAllEvents(utCtxt, sessionB))
	assert.Equal(0, store.subscriptionCount())
	uut.SendEventToSubscribers(utCtxt, "order-update", Envelope{Event: "order-update"})
	uut.SendEventToSubscribers(utCtxt, "price-update", Envelope{Event: "price-update"})
	assert.Len(connB.received(), 2)
}

func TestConnectionRegistryScopedUnsubscribeCache(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	store := newInMemoryRecordStore()
	uut, wg := defineTestRegistry(t, utCtxt, store, common.RegistryConfig{
		HeartbeatInterval: 25000, ReaperInterval: 10000, MaxInactivePeriod: 30000,
	})
	defer wg.Wait()

	session1 := uuid.New().String()
	client1 := uuid.New().String()
	conn1 := newMockClientConnection()
	assert.Nil(uut.AddClient(utCtxt, ClientParam{
		ID: client1, Connection: conn1, SessionToken: session1,
	}))

	assert.Nil(uut.Subscribe(utCtxt, session1, "order-update", nil))

	// Unsubscribing some other connection's scope must not touch this
	// connection's session-wide cache entry
	otherClient := uuid.New().String()
	assert.Nil(uut.Unsubscribe(utCtxt, session1, "order-update", &otherClient))
	assert.Equal(1, store.subscriptionCount())
	{
		active := uut.ListActiveConnections()
		assert.Len(active, 1)
		assert.Equal([]string{"order-update"}, active[0].Subscriptions)
	}
	uut.SendEventToSubscribers(utCtxt, "order-update", Envelope{Event: "order-update"})
	assert.Len(conn1.received(), 1)

	// A scoped unsubscribe of this connection drops only that cache entry
	assert.Nil(uut.Subscribe(utCtxt, session1, "price-update", &client1))
	assert.Nil(uut.Unsubscribe(utCtxt, session1, "price-update", &client1))
	{
		active := uut.ListActiveConnections()
		assert.Len(active, 1)
		assert.Equal([]string{"order-update"}, active[0].Subscriptions)
	}
}
