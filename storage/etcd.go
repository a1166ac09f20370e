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
	"encoding/json"
	"fmt"
	"time"

	"github.com/alwitt/ssepush/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// RecordStore access to all durable record kinds backing the registry
type RecordStore interface {
	SessionStore
	SubscriptionStore
	EventLogStore
	// Close close the store driver
	Close() error
}

// etcdRecordStore implements RecordStore against etcd
type etcdRecordStore struct {
	common.Component
	client    *clientv3.Client
	keyPrefix string
}

// CreateEtcdRecordStore define an etcd backed record store
func CreateEtcdRecordStore(
	endpoints []string, dialTimeout time.Duration, keyPrefix string,
) (RecordStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		log.WithError(err).Errorf("Unable to connect with etcd servers %s", endpoints)
		return nil, err
	}
	logTags := log.Fields{"module": "storage", "component": "etcd-backed"}
	log.WithFields(logTags).Infof("Connected with etcd servers %s", endpoints)
	return &etcdRecordStore{
		Component: common.Component{LogTags: logTags},
		client:    client,
		keyPrefix: keyPrefix,
	}, nil
}

func (d *etcdRecordStore) sessionKey(clientID string) string {
	return fmt.Sprintf("%s/session/%s", d.keyPrefix, clientID)
}

func (d *etcdRecordStore) subscriptionKey(record SubscriptionRecord) string {
	clientPart := "*"
	if record.ClientID != nil {
		clientPart = *record.ClientID
	}
	return fmt.Sprintf(
		"%s/subscription/%s/%s/%s",
		d.keyPrefix,
		record.SessionToken,
		record.EventName,
		clientPart,
	)
}

func (d *etcdRecordStore) putJSON(ctxt context.Context, key string, value interface{}) error {
	serialized, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Unable to serialize for SET %s", key)
		return err
	}
	resp, err := d.client.Put(ctxt, key, string(serialized))
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to SET %s", key)
		return err
	}
	log.WithFields(d.LogTags).Debugf("SET %s@%d", key, resp.Header.Revision)
	return nil
}

// ================================================================
// Session record operations

// UpsertSession create or replace the session record of a client ID
func (d *etcdRecordStore) UpsertSession(ctxt context.Context, record SessionRecord) error {
	key := d.sessionKey(record.ClientID)
	// Retain the original creation timestamp across upserts
	if existing, err := d.fetchSession(ctxt, record.ClientID); err == nil && existing != nil {
		record.CreatedAt = existing.CreatedAt
	}
	return d.putJSON(ctxt, key, &record)
}

// RefreshSessionPing update LastPing and mark the session online
func (d *etcdRecordStore) RefreshSessionPing(
	ctxt context.Context, clientID string, timestamp time.Time,
) error {
	existing, err := d.fetchSession(ctxt, clientID)
	if err != nil {
		return err
	}
	if existing == nil {
		log.WithFields(d.LogTags).Debugf("No session record %s to refresh", clientID)
		return nil
	}
	existing.LastPing = timestamp
	existing.Status = SessionStatusOnline
	return d.putJSON(ctxt, d.sessionKey(clientID), existing)
}

// MarkSessionsOffline mark every session matching the filter offline
func (d *etcdRecordStore) MarkSessionsOffline(
	ctxt context.Context, filter SessionFilter,
) (int, error) {
	sessions, err := d.ListSessions(ctxt, filter)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, session := range sessions {
		if session.Status == SessionStatusOffline {
			continue
		}
		session.Status = SessionStatusOffline
		if err := d.putJSON(ctxt, d.sessionKey(session.ClientID), &session); err != nil {
			return updated, err
		}
		updated++
	}
	log.WithFields(d.LogTags).Debugf("Marked %d sessions offline", updated)
	return updated, nil
}

// MarkStaleSessionsOffline mark every online session whose LastPing is before
// the cutoff offline
func (d *etcdRecordStore) MarkStaleSessionsOffline(
	ctxt context.Context, cutoff time.Time,
) (int, error) {
	sessions, err := d.ListSessions(ctxt, SessionFilter{Status: SessionStatusOnline})
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, session := range sessions {
		if !session.LastPing.Before(cutoff) {
			continue
		}
		session.Status = SessionStatusOffline
		if err := d.putJSON(ctxt, d.sessionKey(session.ClientID), &session); err != nil {
			return updated, err
		}
		updated++
	}
	if updated > 0 {
		log.WithFields(d.LogTags).Infof(
			"Marked %d sessions offline with no ping since %s", updated, cutoff.Format(time.RFC3339),
		)
	}
	return updated, nil
}

// ListSessions fetch session records matching the filter
func (d *etcdRecordStore) ListSessions(
	ctxt context.Context, filter SessionFilter,
) ([]SessionRecord, error) {
	scanPrefix := fmt.Sprintf("%s/session/", d.keyPrefix)
	resp, err := d.client.Get(ctxt, scanPrefix, clientv3.WithPrefix())
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to GET %s*", scanPrefix)
		return nil, err
	}
	results := []SessionRecord{}
	for _, kv := range resp.Kvs {
		var record SessionRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Unable to parse session record %s", string(kv.Key),
			)
			return nil, err
		}
		if filter.ClientID != "" && record.ClientID != filter.ClientID {
			continue
		}
		if filter.SessionToken != "" && record.SessionToken != filter.SessionToken {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		results = append(results, record)
	}
	return results, nil
}

func (d *etcdRecordStore) fetchSession(
	ctxt context.Context, clientID string,
) (*SessionRecord, error) {
	key := d.sessionKey(clientID)
	resp, err := d.client.Get(ctxt, key)
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to GET %s", key)
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var record SessionRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Unable to parse session record %s", key)
		return nil, err
	}
	return &record, nil
}

// ================================================================
// Subscription record operations

// UpsertSubscription create the subscription record of a triple
func (d *etcdRecordStore) UpsertSubscription(
	ctxt context.Context, record SubscriptionRecord,
) error {
	key := d.subscriptionKey(record)
	resp, err := d.client.Get(ctxt, key)
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to GET %s", key)
		return err
	}
	if len(resp.Kvs) > 0 {
		// Triple already recorded
		log.WithFields(d.LogTags).Debugf("Subscription %s already exists", key)
		return nil
	}
	return d.putJSON(ctxt, key, &record)
}

// DeleteSubscriptions delete every subscription record matching the filter
func (d *etcdRecordStore) DeleteSubscriptions(
	ctxt context.Context, filter SubscriptionFilter,
) (int, error) {
	// Narrow the scan as far as the filter allows. Key layout is
	// <prefix>/subscription/<token>/<event>/<client>
	scanPrefix := fmt.Sprintf("%s/subscription/", d.keyPrefix)
	if filter.SessionToken != "" {
		scanPrefix = fmt.Sprintf("%s%s/", scanPrefix, filter.SessionToken)
		if filter.EventName != "" {
			scanPrefix = fmt.Sprintf("%s%s/", scanPrefix, filter.EventName)
		}
	}
	resp, err := d.client.Get(ctxt, scanPrefix, clientv3.WithPrefix())
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to GET %s*", scanPrefix)
		return 0, err
	}
	deleted := 0
	for _, kv := range resp.Kvs {
		var record SubscriptionRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Unable to parse subscription record %s", string(kv.Key),
			)
			return deleted, err
		}
		if filter.EventName != "" && record.EventName != filter.EventName {
			continue
		}
		if filter.ClientID != nil {
			if record.ClientID == nil || *record.ClientID != *filter.ClientID {
				continue
			}
		}
		if _, err := d.client.Delete(ctxt, string(kv.Key)); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Failed to DELETE %s", string(kv.Key),
			)
			return deleted, err
		}
		deleted++
	}
	log.WithFields(d.LogTags).Debugf("Deleted %d subscriptions under %s*", deleted, scanPrefix)
	return deleted, nil
}

// ListSubscriptionsForEvent fetch every subscription record of an event name
func (d *etcdRecordStore) ListSubscriptionsForEvent(
	ctxt context.Context, eventName string,
) ([]SubscriptionRecord, error) {
	scanPrefix := fmt.Sprintf("%s/subscription/", d.keyPrefix)
	resp, err := d.client.Get(ctxt, scanPrefix, clientv3.WithPrefix())
	if err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Failed to GET %s*", scanPrefix)
		return nil, err
	}
	results := []SubscriptionRecord{}
	for _, kv := range resp.Kvs {
		var record SubscriptionRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Unable to parse subscription record %s", string(kv.Key),
			)
			return nil, err
		}
		if record.EventName == eventName {
			results = append(results, record)
		}
	}
	return results, nil
}

// ================================================================
// Received-event audit log operations

// LogReceivedEvent append one received-event audit record
func (d *etcdRecordStore) LogReceivedEvent(
	ctxt context.Context, record ReceivedEventRecord,
) error {
	key := fmt.Sprintf(
		"%s/event-log/%s/%s",
		d.keyPrefix,
		record.ReceivedAt.UTC().Format(time.RFC3339Nano),
		uuid.NewString(),
	)
	return d.putJSON(ctxt, key, &record)
}

// Close close the store driver
func (d *etcdRecordStore) Close() error {
	if err := d.client.Close(); err != nil {
		log.WithError(err).WithFields(d.LogTags).Error("Failed to close driver")
		return err
	}
	return nil
}
