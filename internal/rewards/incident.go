// Package rewards models the rewards program surface: the dashboard
// document scraped from the portal, the points API reached with a mobile
// OAuth token, and the security incidents that stop automation.
package rewards

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

// Incident kinds raised by login, ban detection and the recovery check.
const (
	IncidentSignInBlocked    = "sign-in-blocked"
	IncidentRecoveryMismatch = "recovery-mismatch"
	IncidentAccountSuspended = "account-suspended"
	IncidentCompromised      = "compromised"
)

// Incident severities. Critical incidents engage global standby.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityIncident is one security-relevant event tied to an account.
type SecurityIncident struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	Account  string    `json:"account"`
	Detail   string    `json:"detail"`
	At       time.Time `json:"at"`
}

// NewIncident builds an incident with a fresh ID.
func NewIncident(kind, severity, account, detail string) SecurityIncident {
	return SecurityIncident{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: severity,
		Account:  account,
		Detail:   detail,
		At:       time.Now().UTC(),
	}
}

// IncidentSink receives security incidents. The orchestrator installs a
// sink that engages standby on critical severity and notifies transports.
type IncidentSink interface {
	Report(incident SecurityIncident)
}

// IncidentFunc adapts a function to IncidentSink.
type IncidentFunc func(SecurityIncident)

func (f IncidentFunc) Report(i SecurityIncident) { f(i) }

// Standby is the process-wide kill switch. Once engaged, no new work unit
// starts until an operator restart clears it; in-flight units finish.
type Standby struct {
	engaged atomic.Bool

	mu        sync.Mutex
	reason    string
	incidents []SecurityIncident
}

// Engage sets the flag. The first reason wins; later calls only append to
// the incident record.
func (s *Standby) Engage(incident SecurityIncident) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = incident.Kind + ": " + incident.Detail
	}
	s.incidents = append(s.incidents, incident)
	s.mu.Unlock()

	if s.engaged.CompareAndSwap(false, true) {
		logger.Error("[standby] global standby engaged",
			"kind", incident.Kind, "account", incident.Account, "detail", incident.Detail)
	}
}

// Engaged reports whether the kill switch is set.
func (s *Standby) Engaged() bool { return s.engaged.Load() }

// Reason returns the first engaging incident's summary, or "".
func (s *Standby) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Clear releases the kill switch. Only the operator restart path calls
// this; the incident record is kept for the dashboard.
func (s *Standby) Clear() {
	if s.engaged.CompareAndSwap(true, false) {
		logger.Warn("[standby] global standby cleared by operator")
	}
	s.mu.Lock()
	s.reason = ""
	s.mu.Unlock()
}

// Incidents returns a copy of everything reported while engaged.
func (s *Standby) Incidents() []SecurityIncident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SecurityIncident, len(s.incidents))
	copy(out, s.incidents)
	return out
}
