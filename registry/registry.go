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
	"sort"
	"sync"
	"time"

	"github.com/alwitt/ssepush/common"
	"github.com/alwitt/ssepush/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// ConnectionRegistry the sole owner of the live-connection map. All map
// mutation is serialized behind one lock; connection writes and durable store
// calls never run while holding it.
type ConnectionRegistry interface {
	// AddClient register a new client connection. If the connection carries a
	// session token, any existing connection of that session is first removed,
	// including its durable side effects.
	AddClient(ctxt context.Context, param ClientParam) error
	// RemoveClient close and deregister a client connection. A no-op when the
	// client is not known.
	RemoveClient(ctxt context.Context, clientID string)
	// SendEventToClient push an envelope to one client. Fire-and-forget; an
	// unknown client is silently skipped.
	SendEventToClient(ctxt context.Context, clientID string, envelope Envelope)
	// SendEventToUser push an envelope to every live connection of a session
	SendEventToUser(ctxt context.Context, sessionToken string, envelope Envelope)
	// SendEventToSubscribers push an envelope to every subscriber of an event
	// name, per the durable subscription records read at call time
	SendEventToSubscribers(ctxt context.Context, eventName string, envelope Envelope)
	// Broadcast push an envelope to every live connection
	Broadcast(ctxt context.Context, envelope Envelope)
	// Subscribe record that a session, optionally scoped to one connection,
	// wants events of a given name. Idempotent.
	Subscribe(ctxt context.Context, sessionToken, eventName string, clientID *string) error
	// Unsubscribe remove the matching subscription records
	Unsubscribe(ctxt context.Context, sessionToken, eventName string, clientID *string) error
	// UnsubscribeFromAllEvents remove every subscription record of a session
	UnsubscribeFromAllEvents(ctxt context.Context, sessionToken string) error
	// ListActiveConnections read-only snapshot of the live connections
	ListActiveConnections() []ActiveConnectionInfo
	// StartBackgroundTasks start the heartbeat and session reaper loops
	StartBackgroundTasks() error
	// Stop halt the background loops and close every live connection
	Stop(ctxt context.Context) error
}

// connectionRegistryImpl implements ConnectionRegistry
type connectionRegistryImpl struct {
	common.Component
	sessions      storage.SessionStore
	subscriptions storage.SubscriptionStore
	lock          sync.RWMutex
	clients       map[string]*liveConnection
	bySession     map[string]string
	heartbeat     common.IntervalTimer
	reaper        common.IntervalTimer
	heartbeatInt  time.Duration
	reaperInt     time.Duration
	maxInactive   time.Duration
	storeTimeout  time.Duration
	rootContext   context.Context
	validate      *validator.Validate
}

// DefineConnectionRegistry create new connection registry. One instance is
// expected per server process, owned by the server startup routine.
func DefineConnectionRegistry(
	rootCtxt context.Context,
	sessions storage.SessionStore,
	subscriptions storage.SubscriptionStore,
	config common.RegistryConfig,
	storeCallTimeout time.Duration,
	wg *sync.WaitGroup,
) (ConnectionRegistry, error) {
	logTags := log.Fields{
		"module": "registry", "component": "connection-registry",
	}
	heartbeat, err := common.GetIntervalTimerInstance("heartbeat", rootCtxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define heartbeat timer")
		return nil, err
	}
	reaper, err := common.GetIntervalTimerInstance("session-reaper", rootCtxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define reaper timer")
		return nil, err
	}
	return &connectionRegistryImpl{
		Component:     common.Component{LogTags: logTags},
		sessions:      sessions,
		subscriptions: subscriptions,
		clients:       make(map[string]*liveConnection),
		bySession:     make(map[string]string),
		heartbeat:     heartbeat,
		reaper:        reaper,
		heartbeatInt:  time.Millisecond * time.Duration(config.HeartbeatInterval),
		reaperInt:     time.Millisecond * time.Duration(config.ReaperInterval),
		maxInactive:   time.Millisecond * time.Duration(config.MaxInactivePeriod),
		storeTimeout:  storeCallTimeout,
		rootContext:   rootCtxt,
		validate:      validator.New(),
	}, nil
}

func (r *connectionRegistryImpl) storeContext(ctxt context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctxt, r.storeTimeout)
}

// ==============================================================================
// Connection lifecycle

// AddClient register a new client connection
func (r *connectionRegistryImpl) AddClient(ctxt context.Context, param ClientParam) error {
	if err := r.validate.Struct(&param); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to register client")
		return err
	}

	now := time.Now()
	entry := &liveConnection{
		id:            param.ID,
		conn:          param.Connection,
		sessionToken:  param.SessionToken,
		username:      param.Username,
		userAgent:     param.UserAgent,
		ipAddress:     param.IPAddress,
		lastPing:      now,
		subscriptions: make(map[string]bool),
	}

	// Insert, first evicting any prior connection holding the same session
	// token. Removal runs outside the map lock since it closes the stream and
	// touches the store, so re-check until the insert wins.
	for {
		r.lock.Lock()
		priorID, taken := r.bySession[param.SessionToken]
		if param.SessionToken == "" || !taken || priorID == param.ID {
			r.clients[param.ID] = entry
			if param.SessionToken != "" {
				r.bySession[param.SessionToken] = param.ID
			}
			r.lock.Unlock()
			break
		}
		r.lock.Unlock()
		log.WithFields(r.LogTags).Infof(
			"Session %s already held by client %s. Evicting for client %s",
			param.SessionToken, priorID, param.ID,
		)
		r.RemoveClient(ctxt, priorID)
	}

	// Reconcile the durable session record. The in-memory table remains the
	// system of record for liveness if this fails.
	record := storage.SessionRecord{
		ClientID:     param.ID,
		SessionToken: param.SessionToken,
		Username:     param.Username,
		Status:       storage.SessionStatusOnline,
		LastSeen:     now,
		LastPing:     now,
		UserAgent:    param.UserAgent,
		IPAddress:    param.IPAddress,
		CreatedAt:    now,
	}
	storeCtxt, cancel := r.storeContext(ctxt)
	defer cancel()
	if err := r.sessions.UpsertSession(storeCtxt, record); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to upsert session record for client %s", param.ID,
		)
	}

	log.WithFields(r.LogTags).Infof("Registered client %s", param.ID)
	return nil
}

// RemoveClient close and deregister a client connection
func (r *connectionRegistryImpl) RemoveClient(ctxt context.Context, clientID string) {
	r.lock.Lock()
	entry, present := r.clients[clientID]
	if present {
		delete(r.clients, clientID)
		if entry.sessionToken != "" && r.bySession[entry.sessionToken] == clientID {
			delete(r.bySession, entry.sessionToken)
		}
	}
	r.lock.Unlock()
	if !present {
		return
	}

	if err := entry.conn.Close(); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to close connection of client %s", clientID,
		)
	}

	// Session token identifies the record set when present, client ID otherwise
	filter := storage.SessionFilter{ClientID: clientID}
	if entry.sessionToken != "" {
		filter = storage.SessionFilter{SessionToken: entry.sessionToken}
	}
	storeCtxt, cancel := r.storeContext(ctxt)
	defer cancel()
	if _, err := r.sessions.MarkSessionsOffline(storeCtxt, filter); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to mark session offline for client %s", clientID,
		)
	}

	log.WithFields(r.LogTags).Infof("Removed client %s", clientID)
}

// ==============================================================================
// Event delivery

// deliver write the envelope to one connection, evicting it on write failure
func (r *connectionRegistryImpl) deliver(
	ctxt context.Context, entry *liveConnection, envelope Envelope,
) {
	if err := entry.send(envelope); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Write to client %s failed. Evicting", entry.id,
		)
		r.RemoveClient(ctxt, entry.id)
	}
}

// SendEventToClient push an envelope to one client
func (r *connectionRegistryImpl) SendEventToClient(
	ctxt context.Context, clientID string, envelope Envelope,
) {
	r.lock.RLock()
	entry, present := r.clients[clientID]
	r.lock.RUnlock()
	if !present {
		log.WithFields(r.LogTags).Debugf(
			"Client %s not connected. Dropping event %s", clientID, envelope.Event,
		)
		return
	}
	r.deliver(ctxt, entry, envelope)
}

// SendEventToUser push an envelope to every live connection of a session
func (r *connectionRegistryImpl) SendEventToUser(
	ctxt context.Context, sessionToken string, envelope Envelope,
) {
	if sessionToken == "" {
		return
	}
	targets := []*liveConnection{}
	r.lock.RLock()
	for _, entry := range r.clients {
		if entry.sessionToken == sessionToken {
			targets = append(targets, entry)
		}
	}
	r.lock.RUnlock()
	for _, entry := range targets {
		r.deliver(ctxt, entry, envelope)
	}
}

// SendEventToSubscribers push an envelope to every subscriber of an event
// name. The durable records are re-read on every call; the per-connection
// cache is advisory only.
func (r *connectionRegistryImpl) SendEventToSubscribers(
	ctxt context.Context, eventName string, envelope Envelope,
) {
	storeCtxt, cancel := r.storeContext(ctxt)
	records, err := r.subscriptions.ListSubscriptionsForEvent(storeCtxt, eventName)
	cancel()
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Unable to read subscriptions of event %s. Dropping send", eventName,
		)
		return
	}
	for _, record := range records {
		if record.ClientID != nil {
			r.SendEventToClient(ctxt, *record.ClientID, envelope)
		} else {
			r.SendEventToUser(ctxt, record.SessionToken, envelope)
		}
	}
}

// Broadcast push an envelope to every live connection
func (r *connectionRegistryImpl) Broadcast(ctxt context.Context, envelope Envelope) {
	targets := []*liveConnection{}
	r.lock.RLock()
	for _, entry := range r.clients {
		targets = append(targets, entry)
	}
	r.lock.RUnlock()
	for _, entry := range targets {
		r.deliver(ctxt, entry, envelope)
	}
}

// ==============================================================================
// Subscription bookkeeping

// Subscribe record that a session wants events of a given name
func (r *connectionRegistryImpl) Subscribe(
	ctxt context.Context, sessionToken, eventName string, clientID *string,
) error {
	if sessionToken == "" || eventName == "" {
		return fmt.Errorf("subscription requires a session token and an event name")
	}
	record := storage.SubscriptionRecord{
		SessionToken: sessionToken,
		EventName:    eventName,
		ClientID:     clientID,
		CreatedAt:    time.Now(),
	}
	storeCtxt, cancel := r.storeContext(ctxt)
	defer cancel()
	if err := r.subscriptions.UpsertSubscription(storeCtxt, record); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to record subscription of session %s to event %s", sessionToken, eventName,
		)
		return err
	}
	for _, entry := range r.sessionConnections(sessionToken, clientID) {
		entry.cacheSubscription(eventName)
	}
	log.WithFields(r.LogTags).Infof(
		"Session %s subscribed to event %s", sessionToken, eventName,
	)
	return nil
}

// Unsubscribe remove the matching subscription records
func (r *connectionRegistryImpl) Unsubscribe(
	ctxt context.Context, sessionToken, eventName string, clientID *string,
) error {
	if sessionToken == "" || eventName == "" {
		return fmt.Errorf("unsubscribe requires a session token and an event name")
	}
	filter := storage.SubscriptionFilter{
		SessionToken: sessionToken, EventName: eventName, ClientID: clientID,
	}
	storeCtxt, cancel := r.storeContext(ctxt)
	defer cancel()
	if _, err := r.subscriptions.DeleteSubscriptions(storeCtxt, filter); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to clear subscription of session %s to event %s", sessionToken, eventName,
		)
		return err
	}
	for _, entry := range r.sessionConnections(sessionToken, clientID) {
		entry.dropCachedSubscription(eventName)
	}
	log.WithFields(r.LogTags).Infof(
		"Session %s unsubscribed from event %s", sessionToken, eventName,
	)
	return nil
}

// UnsubscribeFromAllEvents remove every subscription record of a session.
// Used when a session re-establishes its stream, so stale subscriptions do
// not linger.
func (r *connectionRegistryImpl) UnsubscribeFromAllEvents(
	ctxt context.Context, sessionToken string,
) error {
	if sessionToken == "" {
		return fmt.Errorf("unsubscribe requires a session token")
	}
	storeCtxt, cancel := r.storeContext(ctxt)
	defer cancel()
	if _, err := r.subscriptions.DeleteSubscriptions(
		storeCtxt, storage.SubscriptionFilter{SessionToken: sessionToken},
	); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to clear subscriptions of session %s", sessionToken,
		)
		return err
	}
	for _, entry := range r.sessionConnections(sessionToken, nil) {
		entry.clearCachedSubscriptions()
	}
	log.WithFields(r.LogTags).Infof("Cleared all subscriptions of session %s", sessionToken)
	return nil
}

// sessionConnections snapshot the live connections of a session, optionally
// narrowed to one client ID
func (r *connectionRegistryImpl) sessionConnections(
	sessionToken string, clientID *string,
) []*liveConnection {
	matches := []*liveConnection{}
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, entry := range r.clients {
		if entry.sessionToken != sessionToken {
			continue
		}
		if clientID != nil && entry.id != *clientID {
			continue
		}
		matches = append(matches, entry)
	}
	return matches
}

// ==============================================================================
// Observability

// ListActiveConnections read-only snapshot of the live connections
func (r *connectionRegistryImpl) ListActiveConnections() []ActiveConnectionInfo {
	r.lock.RLock()
	entries := make([]*liveConnection, 0, len(r.clients))
	for _, entry := range r.clients {
		entries = append(entries, entry)
	}
	r.lock.RUnlock()
	results := make([]ActiveConnectionInfo, 0, len(entries))
	for _, entry := range entries {
		results = append(results, entry.snapshot())
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}
