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

package storage

import (
	"context"
	"time"
)

// Session status values
const (
	// SessionStatusOnline session has a live connection
	SessionStatusOnline = "online"
	// SessionStatusOffline session has no live connection
	SessionStatusOffline = "offline"
)

// SessionRecord durable record of one client connection session. Keyed by
// client ID; it outlives the in-memory connection and acts as history.
type SessionRecord struct {
	// ClientID unique ID of the client connection
	ClientID string `json:"client_id" validate:"required"`
	// SessionToken the logical session this connection belongs to, if any
	SessionToken string `json:"session_token,omitempty"`
	// Username resolved user name for the session, if known
	Username string `json:"username,omitempty"`
	// Status current session status
	Status string `json:"status" validate:"required,oneof=online offline"`
	// LastSeen when the client last connected
	LastSeen time.Time `json:"last_seen"`
	// LastPing when the client last answered a liveness check
	LastPing time.Time `json:"last_ping"`
	// UserAgent client user-agent string
	UserAgent string `json:"user_agent,omitempty"`
	// IPAddress client remote address
	IPAddress string `json:"ip_address,omitempty"`
	// CreatedAt when the record was first created
	CreatedAt time.Time `json:"created_at"`
}

// SessionFilter selects session records. Empty fields are not matched on.
type SessionFilter struct {
	// ClientID match on client ID
	ClientID string
	// SessionToken match on session token
	SessionToken string
	// Status match on session status
	Status string
}

// SubscriptionRecord durable record that a session, optionally scoped to one
// client connection, wants events of a given name
type SubscriptionRecord struct {
	// SessionToken the subscribing session
	SessionToken string `json:"session_token" validate:"required"`
	// EventName the subscribed event name
	EventName string `json:"event_name" validate:"required"`
	// ClientID scopes the subscription to one connection. Nil means every
	// connection of the session.
	ClientID *string `json:"client_id,omitempty"`
	// CreatedAt when the subscription was first created
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionFilter selects subscription records. Empty fields are not
// matched on; a nil ClientID matches any client scope.
type SubscriptionFilter struct {
	// SessionToken match on session token
	SessionToken string
	// EventName match on event name
	EventName string
	// ClientID match on client scope
	ClientID *string
}

// ReceivedEventRecord audit log entry for an event a consumer reported back
// as received
type ReceivedEventRecord struct {
	// EventName name of the received event
	EventName string `json:"event_name" validate:"required"`
	// Payload the event payload as received
	Payload interface{} `json:"payload,omitempty"`
	// ClientID the receiving client connection, if reported
	ClientID string `json:"client_id,omitempty"`
	// SessionToken the receiving session, if reported
	SessionToken string `json:"session_token,omitempty"`
	// ReceivedAt when the consumer observed the event
	ReceivedAt time.Time `json:"received_at"`
}

// SessionStore persists session records
type SessionStore interface {
	// UpsertSession create or replace the session record of a client ID.
	// CreatedAt of an existing record is preserved.
	UpsertSession(ctxt context.Context, record SessionRecord) error
	// RefreshSessionPing update LastPing and mark the session online
	RefreshSessionPing(ctxt context.Context, clientID string, timestamp time.Time) error
	// MarkSessionsOffline mark every session matching the filter offline
	MarkSessionsOffline(ctxt context.Context, filter SessionFilter) (int, error)
	// MarkStaleSessionsOffline mark every online session whose LastPing is
	// before the cutoff offline
	MarkStaleSessionsOffline(ctxt context.Context, cutoff time.Time) (int, error)
	// ListSessions fetch session records matching the filter
	ListSessions(ctxt context.Context, filter SessionFilter) ([]SessionRecord, error)
}

// SubscriptionStore persists subscription records
type SubscriptionStore interface {
	// UpsertSubscription create the subscription record of a triple. A second
	// upsert of the same triple is a no-op.
	UpsertSubscription(ctxt context.Context, record SubscriptionRecord) error
	// DeleteSubscriptions delete every subscription record matching the filter
	DeleteSubscriptions(ctxt context.Context, filter SubscriptionFilter) (int, error)
	// ListSubscriptionsForEvent fetch every subscription record of an event name
	ListSubscriptionsForEvent(ctxt context.Context, eventName string) ([]SubscriptionRecord, error)
}

// EventLogStore persists the received-event audit log
type EventLogStore interface {
	// LogReceivedEvent append one received-event audit record
	LogReceivedEvent(ctxt context.Context, record ReceivedEventRecord) error
}
