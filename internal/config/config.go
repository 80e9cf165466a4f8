/*
Copyright © 2025 Denis Khalturin
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:

1. Redistributions of source code must retain the above copyright notice,
   this list of conditions and the following disclaimer.

2. Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

3. Neither the name of the copyright holder nor the names of its contributors
   may be used to endorse or promote products derived from this software
   without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
POSSIBILITY OF SUCH DAMAGE.
*/
// prettier-ignore-end
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config represents the main application configuration structure.
// It contains the watched domains, logging, server, pin-store, cache, and
// signing configuration. UUID is generated automatically for each
// application instance.
type Config struct {
	Domains  []DomainTrust   `mapstructure:"domains"`
	Log      ConfigLog       `mapstructure:"log"`
	Server   ConfigServer    `mapstructure:"server"`
	PinStore ConfigPinStore  `mapstructure:"pinstore"`
	Cache    ConfigCache     `mapstructure:"cache"`
	Signing  ConfigSigning   `mapstructure:"signing"`
	UUID     uuid.UUID
}

// DomainTrust names a domain the discovery-watch daemon tracks, with an
// optional local discovery file name. The daemon's resolver chain does not
// read DiscoveryFile; its LocalFileResolver always reads <domain>.json from
// the working directory.
type DomainTrust struct {
	Domain        string `mapstructure:"domain"`
	DiscoveryFile string `mapstructure:"discovery_file"`
}

// ConfigLog defines logging configuration for the application.
// It controls log output format, verbosity level, and pretty-printing options.
type ConfigLog struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ConfigServer defines HTTP server configuration parameters.
// It specifies the listen address, read timeout, and write timeout for the server.
type ConfigServer struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ConfigPinStore defines the durable TOFU pin-store backend.
type ConfigPinStore struct {
	DSN             string        `mapstructure:"dsn"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
}

// ConfigCache defines the optional Redis-backed discovery/revocation cache.
type ConfigCache struct {
	DSN string        `mapstructure:"dsn"`
	TTL time.Duration `mapstructure:"ttl"`
}

// ConfigSigning defines the signing workflow's private key material.
type ConfigSigning struct {
	PrivateKeyFile string `mapstructure:"private_key_file"`
	SignerKID      string `mapstructure:"signer_kid"`
}

// New loads application configuration from viper, defaults each domain's
// DiscoveryFile to "<domain>.json", and generates a unique UUID for the
// application instance. No further validation is performed.
// Returns an error if unmarshaling fails.
func New() (Config, error) {
	config := Config{
		UUID: uuid.New(),
	}

	if err := viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i, d := range config.Domains {
		if d.DiscoveryFile == "" {
			d.DiscoveryFile = fmt.Sprintf("%s.json", d.Domain)
		}
		config.Domains[i] = d
	}

	slog.Debug("configuration loaded", "config", config)

	return config, nil
}
