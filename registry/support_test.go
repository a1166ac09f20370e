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
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/ssepush/storage"
)

// mockClientConnection records every write for inspection
type mockClientConnection struct {
	lock     sync.Mutex
	writes   [][]byte
	closed   bool
	failNext bool
}

func newMockClientConnection() *mockClientConnection {
	return &mockClientConnection{writes: [][]byte{}}
}

func (c *mockClientConnection) Write(data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.failNext || c.closed {
		return fmt.Errorf("write failed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *mockClientConnection) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	return nil
}

func (c *mockClientConnection) failWrites() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.failNext = true
}

func (c *mockClientConnection) wasClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

func (c *mockClientConnection) received() [][]byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	result := make([][]byte, len(c.writes))
	copy(result, c.writes)
	return result
}

// inMemoryRecordStore implements the store interfaces against local maps
type inMemoryRecordStore struct {
	lock          sync.Mutex
	sessions      map[string]storage.SessionRecord
	subscriptions map[string]storage.SubscriptionRecord
	eventLog      []storage.ReceivedEventRecord
}

func newInMemoryRecordStore() *inMemoryRecordStore {
	return &inMemoryRecordStore{
		sessions:      map[string]storage.SessionRecord{},
		subscriptions: map[string]storage.SubscriptionRecord{},
		eventLog:      []storage.ReceivedEventRecord{},
	}
}

func subscriptionMapKey(record storage.SubscriptionRecord) string {
	clientPart := "*"
	if record.ClientID != nil {
		clientPart = *record.ClientID
	}
	return fmt.Sprintf("%s/%s/%s", record.SessionToken, record.EventName, clientPart)
}

func (d *inMemoryRecordStore) UpsertSession(
	_ context.Context, record storage.SessionRecord,
) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if existing, ok := d.sessions[record.ClientID]; ok {
		record.CreatedAt = existing.CreatedAt
	}
	d.sessions[record.ClientID] = record
	return nil
}

func (d *inMemoryRecordStore) RefreshSessionPing(
	_ context.Context, clientID string, timestamp time.Time,
) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	record, ok := d.sessions[clientID]
	if !ok {
		return nil
	}
	record.LastPing = timestamp
	record.LastSeen = timestamp
	record.Status = storage.SessionStatusOnline
	d.sessions[clientID] = record
	return nil
}

func sessionMatches(record storage.SessionRecord, filter storage.SessionFilter) bool {
	if filter.ClientID != "" && record.ClientID != filter.ClientID {
		return false
	}
	if filter.SessionToken != "" && record.SessionToken != filter.SessionToken {
		return false
	}
	if filter.Status != "" && record.Status != filter.Status {
		return false
	}
	return true
}

func (d *inMemoryRecordStore) MarkSessionsOffline(
	_ context.Context, filter storage.SessionFilter,
) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	changed := 0
	for clientID, record := range d.sessions {
		if !sessionMatches(record, filter) || record.Status == storage.SessionStatusOffline {
			continue
		}
		record.Status = storage.SessionStatusOffline
		d.sessions[clientID] = record
		changed++
	}
	return changed, nil
}

func (d *inMemoryRecordStore) MarkStaleSessionsOffline(
	_ context.Context, cutoff time.Time,
) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	changed := 0
	for clientID, record := range d.sessions {
		if record.Status != storage.SessionStatusOnline || !record.LastPing.Before(cutoff) {
			continue
		}
		record.Status = storage.SessionStatusOffline
		d.sessions[clientID] = record
		changed++
	}
	return changed, nil
}

func (d *inMemoryRecordStore) ListSessions(
	_ context.Context, filter storage.SessionFilter,
) ([]storage.SessionRecord, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	results := []storage.SessionRecord{}
	for _, record := range d.sessions {
		if sessionMatches(record, filter) {
			results = append(results, record)
		}
	}
	return results, nil
}

func (d *inMemoryRecordStore) UpsertSubscription(
	_ context.Context, record storage.SubscriptionRecord,
) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	key := subscriptionMapKey(record)
	if _, ok := d.subscriptions[key]; !ok {
		d.subscriptions[key] = record
	}
	return nil
}

func (d *inMemoryRecordStore) DeleteSubscriptions(
	_ context.Context, filter storage.SubscriptionFilter,
) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	deleted := 0
	for key, record := range d.subscriptions {
		if filter.SessionToken != "" && record.SessionToken != filter.SessionToken {
			continue
		}
		if filter.EventName != "" && record.EventName != filter.EventName {
			continue
		}
		if filter.ClientID != nil {
			if record.ClientID == nil || *record.ClientID != *filter.ClientID {
				continue
			}
		}
		delete(d.subscriptions, key)
		deleted++
	}
	return deleted, nil
}

func (d *inMemoryRecordStore) ListSubscriptionsForEvent(
	_ context.Context, eventName string,
) ([]storage.SubscriptionRecord, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	results := []storage.SubscriptionRecord{}
	for _, record := range d.subscriptions {
		if record.EventName == eventName {
			results = append(results, record)
		}
	}
	return results, nil
}

func (d *inMemoryRecordStore) LogReceivedEvent(
	_ context.Context, record storage.ReceivedEventRecord,
) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.eventLog = append(d.eventLog, record)
	return nil
}

func (d *inMemoryRecordStore) sessionStatus(clientID string) (string, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	record, ok := d.sessions[clientID]
	if !ok {
		return "", false
	}
	return record.Status, true
}

func (d *inMemoryRecordStore) subscriptionCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.subscriptions)
}
