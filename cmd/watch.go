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
package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"schemapin-go/internal/application"
)

// watchCmd starts the discovery-freshness watch daemon: it polls every
// configured domain's discovery document on an interval, tracks fingerprint
// rotation, and serves Prometheus metrics and health probes. It never
// verifies schemas or skills itself.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the discovery-freshness watch daemon",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := application.New()
		if err != nil {
			slog.Error("failed to initialize application", "error", err)
			os.Exit(1)
		}

		app.Up()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Duration("pinstore-conn-max-idle-time", 5*time.Minute, "Max idle time of pin-store connections")
	watchCmd.Flags().Duration("pinstore-conn-max-lifetime", 30*time.Minute, "Max lifetime of pin-store connections")
	watchCmd.Flags().Duration("cache-ttl", 15*time.Minute, "Discovery cache TTL")
	watchCmd.Flags().Int("pinstore-max-idle-conns", 5, "Max idle connections to the pin store")
	watchCmd.Flags().Int("pinstore-max-open-conns", 5, "Max open connections to the pin store")
	watchCmd.Flags().String("pinstore-dsn", "", "Pin-store Postgres DSN connection string")
	watchCmd.Flags().String("cache-dsn", "", "Discovery cache Redis DSN connection string (empty disables caching)")

	viper.BindPFlag("pinstore.conn_max_idle_time", watchCmd.Flags().Lookup("pinstore-conn-max-idle-time"))
	viper.BindPFlag("pinstore.conn_max_lifetime", watchCmd.Flags().Lookup("pinstore-conn-max-lifetime"))
	viper.BindPFlag("pinstore.dsn", watchCmd.Flags().Lookup("pinstore-dsn"))
	viper.BindPFlag("pinstore.max_idle_conns", watchCmd.Flags().Lookup("pinstore-max-idle-conns"))
	viper.BindPFlag("pinstore.max_open_conns", watchCmd.Flags().Lookup("pinstore-max-open-conns"))
	viper.BindPFlag("cache.dsn", watchCmd.Flags().Lookup("cache-dsn"))
	viper.BindPFlag("cache.ttl", watchCmd.Flags().Lookup("cache-ttl"))
}
