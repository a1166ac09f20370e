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

package common

import "github.com/spf13/viper"

// ===============================================================================
// ETCD Related Config

// EtcdConfig defines parameters for connecting to the etcd cluster backing
// the durable session and subscription records
type EtcdConfig struct {
	// Endpoints is the list of etcd server endpoints
	Endpoints []string `mapstructure:"endpoints" json:"endpoints" validate:"required,min=1,dive,uri"`
	// DialTimeout is the max duration for connecting to etcd in seconds
	DialTimeout int `mapstructure:"dial_timeout_sec" json:"dial_timeout_sec" validate:"gte=1"`
	// CallTimeout is the max duration of one store operation in seconds
	CallTimeout int `mapstructure:"call_timeout_sec" json:"call_timeout_sec" validate:"gte=1"`
	// KeyPrefix is the key prefix under which all records are stored
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix" validate:"required"`
}

// ===============================================================================
// Connection Registry Related Config

// RegistryConfig defines connection registry operating parameters
type RegistryConfig struct {
	// HeartbeatInterval is the period between heartbeat pings in msec
	HeartbeatInterval int `mapstructure:"heartbeat_interval_msec" json:"heartbeat_interval_msec" validate:"gte=10"`
	// ReaperInterval is the period between stale session sweeps in msec
	ReaperInterval int `mapstructure:"reaper_interval_msec" json:"reaper_interval_msec" validate:"gte=10"`
	// MaxInactivePeriod is how long a connection may go without a successful
	// ping before it is considered stale in msec
	MaxInactivePeriod int `mapstructure:"max_inactive_period_msec" json:"max_inactive_period_msec" validate:"gte=10"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. Must remain zero or the
	// event stream endpoint will be cut off mid stream.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPEndpointConfig defines API endpoint config
type HTTPEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters
	Endpoints HTTPEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// Etcd are the etcd related config parameters
	Etcd EtcdConfig `mapstructure:"etcd" json:"etcd" validate:"required,dive"`
	// Registry are the connection registry config parameters
	Registry RegistryConfig `mapstructure:"registry" json:"registry" validate:"required,dive"`
	// API are the API server configs
	API HTTPConfig `mapstructure:"api" json:"api" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default etcd settings
	viper.SetDefault("etcd.endpoints", []string{"http://127.0.0.1:2379"})
	viper.SetDefault("etcd.dial_timeout_sec", 30)
	viper.SetDefault("etcd.call_timeout_sec", 5)
	viper.SetDefault("etcd.key_prefix", "/ssepush")

	// Default registry settings
	viper.SetDefault("registry.heartbeat_interval_msec", 25000)
	viper.SetDefault("registry.reaper_interval_msec", 10000)
	viper.SetDefault("registry.max_inactive_period_msec", 30000)

	// Default API server settings
	viper.SetDefault("api.endpoint_config.path_prefix", "/")
	viper.SetDefault("api.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.server_config.listen_port", 3000)
	viper.SetDefault("api.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.server_config.write_timeout_sec", 0)
	viper.SetDefault("api.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api.logging_config.request_id_header", "Ssepush-Request-ID")
	viper.SetDefault(
		"api.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
