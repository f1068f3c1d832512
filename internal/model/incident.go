package model

// IncidentStatus is the lifecycle of an incident
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentResolved IncidentStatus = "resolved"
)

// Incident is a tenant-visible outage record
type Incident struct {
	ID           string         `json:"id" bson:"_id"`
	TeamID       string         `json:"team_id" bson:"team_id"`
	StatusPageID string         `json:"status_page_id,omitempty" bson:"status_page_id,omitempty"`
	MonitorID    string         `json:"monitor_id" bson:"monitor_id"`
	Title        string         `json:"title" bson:"title"`
	Status       IncidentStatus `json:"status" bson:"status"`
	StartedAt    int64          `json:"started_at" bson:"started_at"`
	ResolvedAt   *int64         `json:"resolved_at" bson:"resolved_at"`
}

// IsOpen reports whether the incident is unresolved
func (i *Incident) IsOpen() bool {
	return i.Status == IncidentOpen && i.ResolvedAt == nil
}

// IncidentUpdate is an append-only timeline note
type IncidentUpdate struct {
	ID         string         `json:"id" bson:"_id"`
	IncidentID string         `json:"incident_id" bson:"incident_id"`
	Status     IncidentStatus `json:"status" bson:"status"`
	Message    string         `json:"message" bson:"message"`
	CreatedAt  int64          `json:"created_at" bson:"created_at"`
}

// IncidentDetail is an incident with its timeline, oldest first
type IncidentDetail struct {
	Incident
	Updates []IncidentUpdate `json:"updates"`
}
