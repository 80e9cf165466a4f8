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
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VerifyItem is a composite key for verification-outcome counters.
type VerifyItem struct {
	Result string
	Domain string
}

// PinItem is a composite key for TOFU pin-status counters.
type PinItem struct {
	Status string
	Domain string
}

// Collector is a Prometheus collector tracking verification outcomes, pin
// status transitions, and discovery-watch observations.
type Collector struct {
	verifyTotal        sync.Map
	pinStatusTotal     sync.Map
	fetchErrors        sync.Map
	fingerprintRotated sync.Map
}

// NewCollector creates and registers a new Collector instance with Prometheus.
// Panics if registration with Prometheus fails.
func NewCollector() *Collector {
	c := new(Collector)
	prometheus.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector interface.
// Returns an empty description as metrics are dynamically generated during collection.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector interface, emitting:
//   - schemapin_verify_total{result,domain}
//   - schemapin_pin_status_total{status,domain}
//   - schemapin_discovery_fetch_errors_total{domain}
//   - schemapin_discovery_fingerprint_rotated_total{domain}
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	verifyDesc := prometheus.NewDesc(
		"schemapin_verify_total",
		"Number of verification calls by result and domain",
		[]string{"result", "domain"},
		nil,
	)
	c.verifyTotal.Range(func(k, v any) bool {
		item := k.(VerifyItem)
		ch <- prometheus.MustNewConstMetric(verifyDesc, prometheus.CounterValue, v.(float64), item.Result, item.Domain)
		return true
	})

	pinDesc := prometheus.NewDesc(
		"schemapin_pin_status_total",
		"Number of TOFU pin-store outcomes by status and domain",
		[]string{"status", "domain"},
		nil,
	)
	c.pinStatusTotal.Range(func(k, v any) bool {
		item := k.(PinItem)
		ch <- prometheus.MustNewConstMetric(pinDesc, prometheus.CounterValue, v.(float64), item.Status, item.Domain)
		return true
	})

	fetchErrDesc := prometheus.NewDesc(
		"schemapin_discovery_fetch_errors_total",
		"Number of failed discovery-watch resolutions per domain",
		[]string{"domain"},
		nil,
	)
	c.fetchErrors.Range(func(k, v any) bool {
		ch <- prometheus.MustNewConstMetric(fetchErrDesc, prometheus.CounterValue, v.(float64), k.(string))
		return true
	})

	rotatedDesc := prometheus.NewDesc(
		"schemapin_discovery_fingerprint_rotated_total",
		"Number of observed discovery public-key rotations per domain",
		[]string{"domain"},
		nil,
	)
	c.fingerprintRotated.Range(func(k, v any) bool {
		ch <- prometheus.MustNewConstMetric(rotatedDesc, prometheus.CounterValue, v.(float64), k.(string))
		return true
	})
}

// IncVerify increments the verification-outcome counter for (result, domain).
func (c *Collector) IncVerify(result, domain string) {
	item := VerifyItem{Result: result, Domain: domain}
	val, _ := c.verifyTotal.LoadOrStore(item, 0.0)
	c.verifyTotal.Store(item, val.(float64)+1)
}

// IncPinStatus increments the pin-status counter for (status, domain).
func (c *Collector) IncPinStatus(status, domain string) {
	item := PinItem{Status: status, Domain: domain}
	val, _ := c.pinStatusTotal.LoadOrStore(item, 0.0)
	c.pinStatusTotal.Store(item, val.(float64)+1)
}

// IncDiscoveryFetchError increments the discovery-watch fetch-error counter
// for domain.
func (c *Collector) IncDiscoveryFetchError(domain string) {
	val, _ := c.fetchErrors.LoadOrStore(domain, 0.0)
	c.fetchErrors.Store(domain, val.(float64)+1)
}

// IncFingerprintRotated increments the rotation counter for domain.
func (c *Collector) IncFingerprintRotated(domain string) {
	val, _ := c.fingerprintRotated.LoadOrStore(domain, 0.0)
	c.fingerprintRotated.Store(domain, val.(float64)+1)
}
