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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/ssepush/apis"
	"github.com/alwitt/ssepush/common"
	"github.com/alwitt/ssepush/registry"
	"github.com/alwitt/ssepush/storage"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunServer run the event push server
func RunServer(
	config common.SystemConfig,
	instance string,
	recordStore storage.RecordStore,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	connRegistry, err := registry.DefineConnectionRegistry(
		localCtxt,
		recordStore,
		recordStore,
		config.Registry,
		time.Second*time.Duration(config.Etcd.CallTimeout),
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define connection registry")
		return err
	}

	httpHandler, err := apis.GetAPIRestPushEventHandler(
		localCtxt, connRegistry, recordStore, recordStore, &config.API, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}

	if err := connRegistry.StartBackgroundTasks(); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start registry tasks")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.API.Endpoints.PathPrefix, nil)

	// Event stream
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/stream", map[string]http.HandlerFunc{
		"get": httpHandler.EstablishStreamHandler(),
	})

	// Event delivery
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/event/client/{clientID}", map[string]http.HandlerFunc{
			"post": httpHandler.SendToClientHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/event/session/{sessionToken}", map[string]http.HandlerFunc{
			"post": httpHandler.SendToSessionHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/event/subscribers/{eventName}", map[string]http.HandlerFunc{
			"post": httpHandler.SendToSubscribersHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/event/broadcast", map[string]http.HandlerFunc{
			"post": httpHandler.BroadcastEventHandler(),
		},
	)

	// Subscription management
	subscriptionAPIRouter := apis.RegisterPathPrefix(
		mainRouter, "/v1/subscription/{sessionToken}", map[string]http.HandlerFunc{
			"delete": httpHandler.UnsubscribeAllHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		subscriptionAPIRouter, "/event/{eventName}", map[string]http.HandlerFunc{
			"put":    httpHandler.SubscribeHandler(),
			"delete": httpHandler.UnsubscribeHandler(),
		},
	)

	// Observability
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/client", map[string]http.HandlerFunc{
		"get": httpHandler.ListConnectionsHandler(),
	})

	// Received-event audit log
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/event-log", map[string]http.HandlerFunc{
		"post": httpHandler.LogReceivedEventHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.API.Server.ListenOn, config.API.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(config.API.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(config.API.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.API.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the registry before the HTTP server so active streams are released
	if err := connRegistry.Stop(context.Background()); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure during registry shutdown")
	}

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
