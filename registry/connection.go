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
	"sort"
	"sync"
	"time"
)

// ClientConnection an open, one-way, server-to-client stream. The transport
// behind it is an implementation detail of the adapter providing it.
type ClientConnection interface {
	// Write hand bytes to the stream for transmission. Implementations must
	// buffer and return promptly without waiting on the client transport, and
	// report a saturated or closed stream as an error. Fan-out loops and the
	// heartbeat call this sequentially; one slow client must not hold up the
	// rest.
	Write(data []byte) error
	// Close close the stream
	Close() error
}

// ClientParam parameters for registering a new client connection
type ClientParam struct {
	// ID unique ID of the connection
	ID string `validate:"required"`
	// Connection the stream to push events through
	Connection ClientConnection `validate:"required"`
	// SessionToken the logical session this connection belongs to. Empty
	// means an anonymous connection.
	SessionToken string
	// Username resolved user name for the session, if known
	Username string
	// UserAgent client user-agent string
	UserAgent string
	// IPAddress client remote address
	IPAddress string
}

// liveConnection in-memory state of one registered connection
type liveConnection struct {
	id           string
	conn         ClientConnection
	sessionToken string
	username     string
	userAgent    string
	ipAddress    string
	// lock serializes writes on the stream, and guards lastPing and the
	// local subscription cache
	lock          sync.Mutex
	lastPing      time.Time
	subscriptions map[string]bool
}

// send serialize the envelope and write it to the stream
func (c *liveConnection) send(envelope Envelope) error {
	serialized, err := envelope.Serialize()
	if err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn.Write(serialized)
}

func (c *liveConnection) recordPing(timestamp time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lastPing = timestamp
}

func (c *liveConnection) pingBefore(cutoff time.Time) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.lastPing.Before(cutoff)
}

func (c *liveConnection) cacheSubscription(eventName string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.subscriptions[eventName] = true
}

func (c *liveConnection) dropCachedSubscription(eventName string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.subscriptions, eventName)
}

func (c *liveConnection) clearCachedSubscriptions() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.subscriptions = make(map[string]bool)
}

// ActiveConnectionInfo read-only snapshot of one live connection, for
// observability and admin tooling
type ActiveConnectionInfo struct {
	// ID unique ID of the connection
	ID string `json:"id"`
	// SessionToken the logical session of the connection, if any
	SessionToken string `json:"session_token,omitempty"`
	// LastPing when the connection last answered a liveness check
	LastPing time.Time `json:"last_ping"`
	// UserAgent client user-agent string
	UserAgent string `json:"user_agent,omitempty"`
	// IPAddress client remote address
	IPAddress string `json:"ip_address,omitempty"`
	// Subscriptions locally cached event names this connection wants. The
	// durable subscription records are authoritative; this is advisory.
	Subscriptions []string `json:"subscriptions"`
}

// snapshot capture the connection state for observability
func (c *liveConnection) snapshot() ActiveConnectionInfo {
	c.lock.Lock()
	defer c.lock.Unlock()
	subscribed := make([]string, 0, len(c.subscriptions))
	for eventName := range c.subscriptions {
		subscribed = append(subscribed, eventName)
	}
	sort.Strings(subscribed)
	return ActiveConnectionInfo{
		ID:            c.id,
		SessionToken:  c.sessionToken,
		LastPing:      c.lastPing,
		UserAgent:     c.userAgent,
		IPAddress:     c.ipAddress,
		Subscriptions: subscribed,
	}
}
