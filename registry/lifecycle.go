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
	"time"

	"github.com/apex/log"
)

// StartBackgroundTasks start the heartbeat and session reaper loops
func (r *connectionRegistryImpl) StartBackgroundTasks() error {
	if err := r.heartbeat.Start(r.heartbeatInt, r.heartbeatTick, false); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to start heartbeat loop")
		return err
	}
	if err := r.reaper.Start(r.reaperInt, r.reaperTick, false); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to start reaper loop")
		return err
	}
	return nil
}

// heartbeatTick ping every live connection. A failed write is the disconnect
// signal for clients that vanished without closing their stream.
func (r *connectionRegistryImpl) heartbeatTick() error {
	targets := []*liveConnection{}
	r.lock.RLock()
	for _, entry := range r.clients {
		targets = append(targets, entry)
	}
	r.lock.RUnlock()

	now := time.Now()
	ping := PingEnvelope()
	for _, entry := range targets {
		if err := entry.send(ping); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Heartbeat write to client %s failed. Evicting", entry.id,
			)
			r.RemoveClient(r.rootContext, entry.id)
			continue
		}
		entry.recordPing(now)
		// Durable record update is best effort; in-memory liveness is
		// authoritative during a store outage
		storeCtxt, cancel := r.storeContext(r.rootContext)
		if err := r.sessions.RefreshSessionPing(storeCtxt, entry.id, now); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Failed to refresh session record ping for client %s", entry.id,
			)
		}
		cancel()
	}
	return nil
}

// reaperTick two independent sweeps: demote stale durable session records,
// then evict live connections which stopped answering pings
func (r *connectionRegistryImpl) reaperTick() error {
	cutoff := time.Now().Add(-r.maxInactive)

	// Durable sweep
	{
		storeCtxt, cancel := r.storeContext(r.rootContext)
		if _, err := r.sessions.MarkStaleSessionsOffline(storeCtxt, cutoff); err != nil {
			log.WithError(err).WithFields(r.LogTags).Error("Durable stale session sweep failed")
		}
		cancel()
	}

	// In-memory sweep
	stale := []*liveConnection{}
	r.lock.RLock()
	for _, entry := range r.clients {
		if entry.pingBefore(cutoff) {
			stale = append(stale, entry)
		}
	}
	r.lock.RUnlock()
	for _, entry := range stale {
		log.WithFields(r.LogTags).Infof(
			"Client %s silent since %s. Evicting", entry.id, cutoff.Format(time.RFC3339),
		)
		r.RemoveClient(r.rootContext, entry.id)
	}
	return nil
}

// Stop halt the background loops and close every live connection. The timer
// stops join their loops, so no heartbeat or reaper tick runs past this call.
func (r *connectionRegistryImpl) Stop(ctxt context.Context) error {
	if err := r.heartbeat.Stop(); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Failed to stop heartbeat loop")
	}
	if err := r.reaper.Stop(); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Failed to stop reaper loop")
	}
	remaining := []string{}
	r.lock.RLock()
	for clientID := range r.clients {
		remaining = append(remaining, clientID)
	}
	r.lock.RUnlock()
	for _, clientID := range remaining {
		r.RemoveClient(ctxt, clientID)
	}
	log.WithFields(r.LogTags).Info("Connection registry stopped")
	return nil
}
