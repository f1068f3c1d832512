package model

import (
	"strings"

	"github.com/google/uuid"
)

// Namespace for ids derived from other ids, so replays produce the same ids
var derivedNamespace = uuid.MustParse("5b0c8a5e-7f0e-4d8a-9a53-3f1f2a4c9e10")

func derive(parts ...string) string {
	return uuid.NewSHA1(derivedNamespace, []byte(strings.Join(parts, "|"))).String()
}

// AlertIDFor is the alert id a check job's transition produces
func AlertIDFor(jobID string, status Status) string {
	return derive("alert", jobID, string(status))
}

// IncidentIDFor is the incident a down alert opens
func IncidentIDFor(alertID string) string {
	return derive("incident", alertID)
}

// UpdateIDFor is the timeline entry an alert appends to an incident
func UpdateIDFor(alertID, incidentID string) string {
	return derive("update", alertID, incidentID)
}
