// Package metrics exposes Prometheus counters for the MFA flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gate decisions
const (
	DecisionPassthrough  = "passthrough"
	DecisionChallenged   = "challenged"
	DecisionUnauthorized = "unauthenticated"
	DecisionFailOpen     = "fail_open"
)

// MFA groups the MFA counters. A nil *MFA is valid and records nothing.
type MFA struct {
	challengesIssued *prometheus.CounterVec
	verifyOutcomes   *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	gateDecisions    *prometheus.CounterVec
}

// New registers the MFA counters with reg.
func New(reg prometheus.Registerer) *MFA {
	factory := promauto.With(reg)

	return &MFA{
		challengesIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_mfa_challenges_issued_total",
			Help: "The total number of OTP codes issued by purpose",
		}, []string{"purpose"}),
		verifyOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_mfa_verify_total",
			Help: "The total number of OTP verifications by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_mfa_delivery_failures_total",
			Help: "The total number of OTP emails that could not be delivered",
		}, []string{"purpose"}),
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dealerdesk_mfa_gate_decisions_total",
			Help: "The total number of gate decisions by gate and decision",
		}, []string{"gate", "decision"}),
	}
}

func (m *MFA) ChallengeIssued(purpose string) {
	if m == nil {
		return
	}
	m.challengesIssued.WithLabelValues(purpose).Inc()
}

func (m *MFA) VerifyOutcome(purpose, outcome string) {
	if m == nil {
		return
	}
	m.verifyOutcomes.WithLabelValues(purpose, outcome).Inc()
}

func (m *MFA) DeliveryFailed(purpose string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(purpose).Inc()
}

// GateDecision counts one gate outcome. gate is "login" or "action".
func (m *MFA) GateDecision(gate, decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(gate, decision).Inc()
}
