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

package apis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/ssepush/common"
	"github.com/alwitt/ssepush/registry"
	"github.com/alwitt/ssepush/storage"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// APIRestPushEventHandler REST handler for the event push API
type APIRestPushEventHandler struct {
	goutils.RestAPIHandler
	registry    registry.ConnectionRegistry
	sessions    storage.SessionStore
	eventLog    storage.EventLogStore
	validate    *validator.Validate
	baseContext context.Context
	wg          *sync.WaitGroup
}

// GetAPIRestPushEventHandler define APIRestPushEventHandler
func GetAPIRestPushEventHandler(
	baseContext context.Context,
	connRegistry registry.ConnectionRegistry,
	sessions storage.SessionStore,
	eventLog storage.EventLogStore,
	httpConfig *common.HTTPConfig,
	wg *sync.WaitGroup,
) (APIRestPushEventHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "push-event",
	}
	return APIRestPushEventHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		registry:    connRegistry,
		sessions:    sessions,
		eventLog:    eventLog,
		validate:    validator.New(),
		baseContext: baseContext,
		wg:          wg,
	}, nil
}

// Write logging support
func (h APIRestPushEventHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Stream establishment

// streamSendBufferLen outstanding events buffered per stream. Enqueue
// overflows rather than blocks when the stream stops draining.
const streamSendBufferLen = 64

// sseStreamConnection adapts one HTTP response stream into the write / close
// capability the registry operates on. The registry side only enqueues; the
// serving handler goroutine alone touches the response writer, draining the
// queue until the stream ends.
type sseStreamConnection struct {
	sendQueue chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newSSEStreamConnection() *sseStreamConnection {
	return &sseStreamConnection{
		sendQueue: make(chan []byte, streamSendBufferLen),
		closed:    make(chan struct{}),
	}
}

// Write enqueue bytes for transmission. Never waits on the client transport;
// a full queue or a closed stream is reported as an error.
func (c *sseStreamConnection) Write(data []byte) error {
	select {
	case <-c.closed:
		return fmt.Errorf("stream already closed")
	default:
	}
	select {
	case c.sendQueue <- data:
		return nil
	case <-c.closed:
		return fmt.Errorf("stream already closed")
	default:
		return fmt.Errorf("stream send queue full")
	}
}

// Close release the stream. The serving handler observes this and returns.
func (c *sseStreamConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// EstablishStream godoc
// @Summary Establish an event stream
// @Description Establish a server-sent-event stream for a client. This is a
// long lived stream; it closes on client disconnect, server shutdown, or when
// the registry evicts the connection.
// @tags Events
// @Produce plain
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param client_id query string false "Client connection ID (generated when absent)"
// @Param session_token query string false "Logical session this connection belongs to"
// @Param username query string false "Resolved user name of the session"
// @Param fresh query boolean false "Clear the session's existing subscriptions first"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/stream [get]
func (h APIRestPushEventHandler) EstablishStream(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	// Send support headers for SSE first
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/event-stream")

	writeFlusher, ok := w.(http.Flusher)
	if !ok {
		msg := "Streaming not supported"
		log.WithFields(localLogTags).Errorf(msg)
		if err := h.WriteRESTResponse(
			w,
			http.StatusInternalServerError,
			h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg),
			nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	// Read operation parameters
	requestQueries := r.URL.Query()
	clientID := requestQueries.Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	sessionToken := requestQueries.Get("session_token")
	username := requestQueries.Get("username")
	fresh := requestQueries.Get("fresh") == "true"

	logTags := localLogTags
	logTags["client"] = clientID
	logTags["session"] = sessionToken

	// A reconnecting session starts from a clean subscription slate on request
	if fresh && sessionToken != "" {
		if err := h.registry.UnsubscribeFromAllEvents(r.Context(), sessionToken); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unable to clear existing subscriptions of session %s", sessionToken,
			)
		}
	}

	// Confirm the stream is open before any named event
	if _, err := w.Write(registry.StreamOpenMessage()); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to open event stream")
		return
	}
	writeFlusher.Flush()

	conn := newSSEStreamConnection()
	if err := h.registry.AddClient(r.Context(), registry.ClientParam{
		ID:           clientID,
		Connection:   conn,
		SessionToken: sessionToken,
		Username:     username,
		UserAgent:    r.UserAgent(),
		IPAddress:    r.RemoteAddr,
	}); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to register client")
		return
	}

	log.WithFields(logTags).Info("Event stream established")

	// Drain the send queue. Registry goroutines never write the response
	// stream themselves.
	complete := false
	for !complete {
		select {
		case <-h.baseContext.Done():
			complete = true
			log.WithFields(logTags).Info("Terminating event stream on server stop")
		case <-r.Context().Done():
			complete = true
			log.WithFields(logTags).Info("Terminating event stream on request end")
		case <-conn.closed:
			complete = true
			log.WithFields(logTags).Info("Terminating event stream on registry close")
		case msg := <-conn.sendQueue:
			if _, err := w.Write(msg); err != nil {
				complete = true
				log.WithError(err).WithFields(logTags).Error("Unable to write to event stream")
				break
			}
			writeFlusher.Flush()
		}
	}
	// On final flush
	writeFlusher.Flush()

	h.registry.RemoveClient(h.baseContext, clientID)
}

// EstablishStreamHandler Wrapper around EstablishStream
func (h APIRestPushEventHandler) EstablishStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.EstablishStream(w, r)
	}
}

// =======================================================================
// Event delivery

// EventRequest one event to push through the registry
type EventRequest struct {
	// Event the event name
	Event string `json:"event" validate:"required"`
	// Data the event payload
	Data interface{} `json:"data"`
}

// parseEventRequest read and validate the event request body
func (h APIRestPushEventHandler) parseEventRequest(r *http.Request) (EventRequest, error) {
	var request EventRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return request, err
	}
	if err := h.validate.Struct(&request); err != nil {
		return request, err
	}
	if err := common.ValidateEventName(request.Event, h.validate); err != nil {
		return request, err
	}
	return request, nil
}

// SendToClient godoc
// @Summary Send an event to one client
// @Description Push a named event to one client connection. Fire-and-forget;
// an unknown client ID is not an error.
// @tags Events
// @Accept json
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param clientID path string true "Target client connection ID"
// @Param event body EventRequest true "Event to push"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/event/client/{clientID} [post]
func (h APIRestPushEventHandler) SendToClient(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	clientID, ok := vars["clientID"]
	if !ok {
		msg := "No client ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	request, err := h.parseEventRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.registry.SendEventToClient(
		r.Context(), clientID, registry.Envelope{Event: request.Event, Data: request.Data},
	)

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToClientHandler Wrapper around SendToClient
func (h APIRestPushEventHandler) SendToClientHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToClient(w, r)
	}
}

// SendToSession godoc
// @Summary Send an event to a session
// @Description Push a named event to every live connection of a logical
// session. Zero matches is not an error.
// @tags Events
// @Accept json
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param sessionToken path string true "Target session token"
// @Param event body EventRequest true "Event to push"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/event/session/{sessionToken} [post]
func (h APIRestPushEventHandler) SendToSession(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	sessionToken, ok := vars["sessionToken"]
	if !ok {
		msg := "No session token provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	request, err := h.parseEventRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.registry.SendEventToUser(
		r.Context(), sessionToken, registry.Envelope{Event: request.Event, Data: request.Data},
	)

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToSessionHandler Wrapper around SendToSession
func (h APIRestPushEventHandler) SendToSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToSession(w, r)
	}
}

// SendToSubscribers godoc
// @Summary Send an event to its subscribers
// @Description Push a named event to every subscriber of an event name, per
// the durable subscription records at call time.
// @tags Events
// @Accept json
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param eventName path string true "Subscribed event name"
// @Param event body EventRequest true "Event to push"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/event/subscribers/{eventName} [post]
func (h APIRestPushEventHandler) SendToSubscribers(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	eventName, ok := vars["eventName"]
	if !ok {
		msg := "No event name provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}
	if err := common.ValidateEventName(eventName, h.validate); err != nil {
		msg := "Invalid event name"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	request, err := h.parseEventRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.registry.SendEventToSubscribers(
		r.Context(), eventName, registry.Envelope{Event: request.Event, Data: request.Data},
	)

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SendToSubscribersHandler Wrapper around SendToSubscribers
func (h APIRestPushEventHandler) SendToSubscribersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SendToSubscribers(w, r)
	}
}

// BroadcastEvent godoc
// @Summary Broadcast an event
// @Description Push a named event to every live connection.
// @tags Events
// @Accept json
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param event body EventRequest true "Event to push"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/event/broadcast [post]
func (h APIRestPushEventHandler) BroadcastEvent(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	request, err := h.parseEventRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.registry.Broadcast(
		r.Context(), registry.Envelope{Event: request.Event, Data: request.Data},
	)

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// BroadcastEventHandler Wrapper around BroadcastEvent
func (h APIRestPushEventHandler) BroadcastEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.BroadcastEvent(w, r)
	}
}

// =======================================================================
// Subscription management

// readSubscriptionParams fetch session token, event name, and optional client
// scope from the request
func (h APIRestPushEventHandler) readSubscriptionParams(
	r *http.Request, wantEventName bool,
) (string, string, *string, error) {
	vars := mux.Vars(r)
	sessionToken, ok := vars["sessionToken"]
	if !ok {
		return "", "", nil, fmt.Errorf("no session token provided")
	}
	eventName := ""
	if wantEventName {
		eventName, ok = vars["eventName"]
		if !ok {
			return "", "", nil, fmt.Errorf("no event name provided")
		}
		if err := common.ValidateEventName(eventName, h.validate); err != nil {
			return "", "", nil, err
		}
	}
	var clientID *string
	if t := r.URL.Query().Get("client_id"); t != "" {
		clientID = &t
	}
	return sessionToken, eventName, clientID, nil
}

// Subscribe godoc
// @Summary Subscribe a session to an event
// @Description Record that a session, optionally scoped to one client
// connection, wants events of a given name. Subscribing twice is a no-op.
// @tags Subscriptions
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param sessionToken path string true "Subscribing session token"
// @Param eventName path string true "Event name to subscribe to"
// @Param client_id query string false "Scope the subscription to one client connection"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/subscription/{sessionToken}/event/{eventName} [put]
func (h APIRestPushEventHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	sessionToken, eventName, clientID, err := h.readSubscriptionParams(r, true)
	if err != nil {
		msg := "Invalid subscription parameters"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.registry.Subscribe(r.Context(), sessionToken, eventName, clientID); err != nil {
		msg := fmt.Sprintf("Unable to subscribe session %s to %s", sessionToken, eventName)
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SubscribeHandler Wrapper around Subscribe
func (h APIRestPushEventHandler) SubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Subscribe(w, r)
	}
}

// Unsubscribe godoc
// @Summary Unsubscribe a session from an event
// @Description Remove the matching subscription records of a session for one
// event name.
// @tags Subscriptions
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param sessionToken path string true "Subscribing session token"
// @Param eventName path string true "Event name to unsubscribe from"
// @Param client_id query string false "Limit removal to one client connection scope"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/subscription/{sessionToken}/event/{eventName} [delete]
func (h APIRestPushEventHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	sessionToken, eventName, clientID, err := h.readSubscriptionParams(r, true)
	if err != nil {
		msg := "Invalid subscription parameters"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.registry.Unsubscribe(r.Context(), sessionToken, eventName, clientID); err != nil {
		msg := fmt.Sprintf("Unable to unsubscribe session %s from %s", sessionToken, eventName)
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// UnsubscribeHandler Wrapper around Unsubscribe
func (h APIRestPushEventHandler) UnsubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Unsubscribe(w, r)
	}
}

// UnsubscribeAll godoc
// @Summary Clear every subscription of a session
// @Description Remove every subscription record of a session. Typically used
// when a session re-establishes its stream.
// @tags Subscriptions
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param sessionToken path string true "Subscribing session token"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/subscription/{sessionToken} [delete]
func (h APIRestPushEventHandler) UnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	sessionToken, _, _, err := h.readSubscriptionParams(r, false)
	if err != nil {
		msg := "Invalid subscription parameters"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.registry.UnsubscribeFromAllEvents(r.Context(), sessionToken); err != nil {
		msg := fmt.Sprintf("Unable to clear subscriptions of session %s", sessionToken)
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// UnsubscribeAllHandler Wrapper around UnsubscribeAll
func (h APIRestPushEventHandler) UnsubscribeAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UnsubscribeAll(w, r)
	}
}

// =======================================================================
// Observability

// APIRestRespConnectionList response wrapper for the live connection snapshot
type APIRestRespConnectionList struct {
	goutils.RestAPIBaseResponse
	// Connections the live connection snapshot
	Connections []registry.ActiveConnectionInfo `json:"connections"`
}

// ListConnections godoc
// @Summary List the live connections
// @Description Read-only snapshot of every live client connection.
// @tags Observability
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespConnectionList "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/client [get]
func (h APIRestPushEventHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespConnectionList{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Connections:         h.registry.ListActiveConnections(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, &resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ListConnectionsHandler Wrapper around ListConnections
func (h APIRestPushEventHandler) ListConnectionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListConnections(w, r)
	}
}

// =======================================================================
// Received-event audit log

// ReceivedEventRequest one received event reported back by a consumer
type ReceivedEventRequest struct {
	// Event the event name
	Event string `json:"event" validate:"required"`
	// Data the event payload as received
	Data interface{} `json:"data"`
	// ClientID the receiving client connection
	ClientID string `json:"client_id,omitempty"`
	// SessionToken the receiving session
	SessionToken string `json:"session_token,omitempty"`
}

// LogReceivedEvent godoc
// @Summary Record a received event
// @Description Append one entry to the received-event audit log. Reported by
// the consumer side of the channel.
// @tags Events
// @Accept json
// @Produce json
// @Param Ssepush-Request-ID header string false "User provided request ID to match against logs"
// @Param event body ReceivedEventRequest true "Received event"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/event-log [post]
func (h APIRestPushEventHandler) LogReceivedEvent(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var request ReceivedEventRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&request); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	record := storage.ReceivedEventRecord{
		EventName:    request.Event,
		Payload:      request.Data,
		ClientID:     request.ClientID,
		SessionToken: request.SessionToken,
		ReceivedAt:   time.Now(),
	}
	if err := h.eventLog.LogReceivedEvent(r.Context(), record); err != nil {
		msg := "Unable to record received event"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// LogReceivedEventHandler Wrapper around LogReceivedEvent
func (h APIRestPushEventHandler) LogReceivedEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.LogReceivedEvent(w, r)
	}
}

// =======================================================================
// Health Checks

// Alive godoc
// @Summary For push event REST API liveness check
// @Description Will return success to indicate the push event REST API module is live
// @tags Events
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/alive [get]
func (h APIRestPushEventHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestPushEventHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready godoc
// @Summary For push event REST API readiness check
// @Description Will return success if the durable record store is reachable
// @tags Events
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/ready [get]
func (h APIRestPushEventHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	probeCtxt, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if _, err := h.sessions.ListSessions(
		probeCtxt, storage.SessionFilter{Status: storage.SessionStatusOnline},
	); err != nil {
		msg := "not ready"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestPushEventHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
