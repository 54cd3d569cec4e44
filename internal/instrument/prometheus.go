// prometheus.go - Communicator statistics.
// Copyright (C) 2018  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package instrument exports the communicator statistics to prometheus.
package instrument

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Datagram kinds.
const (
	KindKX        = "kx"
	KindBox       = "box"
	KindRekey     = "rekey"
	KindBroadcast = "broadcast"
)

var (
	datagramsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpcomm_datagrams_received_total",
			Help: "Number of datagrams successfully decoded, by kind",
		},
		[]string{"kind"},
	)
	datagramsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpcomm_datagrams_sent_total",
			Help: "Number of datagrams sent, by kind",
		},
		[]string{"kind"},
	)
	datagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpcomm_datagrams_dropped_total",
			Help: "Number of datagrams dropped, by reason",
		},
		[]string{"reason"},
	)
	bytesEncrypted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "udpcomm_bytes_encrypted_total",
			Help: "Number of plaintext bytes encrypted",
		},
	)
	bytesDecrypted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "udpcomm_bytes_decrypted_total",
			Help: "Number of plaintext bytes decrypted",
		},
	)
	decryptFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "udpcomm_decrypt_failures_total",
			Help: "Number of AEAD authentication failures",
		},
	)
	acksSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "udpcomm_acks_sent_total",
			Help: "Number of acks sent",
		},
	)
	acksReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "udpcomm_acks_received_total",
			Help: "Number of acks received",
		},
	)
	rekeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "udpcomm_rekeys_total",
			Help: "Number of rekeys, by outcome",
		},
		[]string{"outcome"},
	)
	activeSecrets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "udpcomm_active_secrets",
			Help: "Number of shared secrets held",
		},
	)
	activeKCEs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "udpcomm_active_kces",
			Help: "Number of key cache entries held",
		},
	)

	initOnce sync.Once
)

// Init registers the metrics with the default prometheus registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(datagramsReceived)
		prometheus.MustRegister(datagramsSent)
		prometheus.MustRegister(datagramsDropped)
		prometheus.MustRegister(bytesEncrypted)
		prometheus.MustRegister(bytesDecrypted)
		prometheus.MustRegister(decryptFailures)
		prometheus.MustRegister(acksSent)
		prometheus.MustRegister(acksReceived)
		prometheus.MustRegister(rekeys)
		prometheus.MustRegister(activeSecrets)
		prometheus.MustRegister(activeKCEs)
	})
}

// Handler returns the HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// DatagramReceived counts a decoded datagram.
func DatagramReceived(kind string) {
	datagramsReceived.With(prometheus.Labels{"kind": kind}).Inc()
}

// DatagramSent counts a sent datagram.
func DatagramSent(kind string) {
	datagramsSent.With(prometheus.Labels{"kind": kind}).Inc()
}

// DatagramDropped counts a dropped datagram.
func DatagramDropped(reason string) {
	datagramsDropped.With(prometheus.Labels{"reason": reason}).Inc()
}

// BytesEncrypted counts encrypted plaintext bytes.
func BytesEncrypted(n int) {
	bytesEncrypted.Add(float64(n))
}

// BytesDecrypted counts decrypted plaintext bytes.
func BytesDecrypted(n int) {
	bytesDecrypted.Add(float64(n))
}

// DecryptFailure counts an authentication failure.
func DecryptFailure() {
	decryptFailures.Inc()
}

// AckSent counts a sent ack.
func AckSent() {
	acksSent.Inc()
}

// AckReceived counts a received ack.
func AckReceived() {
	acksReceived.Inc()
}

// Rekey counts a finished rekey.
func Rekey(outcome string) {
	rekeys.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// Secrets adjusts the held secrets gauge.
func Secrets(delta int) {
	activeSecrets.Add(float64(delta))
}

// KCEs adjusts the held key cache entries gauge.
func KCEs(delta int) {
	activeKCEs.Add(float64(delta))
}
