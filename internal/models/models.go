package models

import "time"

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// TimeFormat is the canonical timestamp layout stored in the database.
const TimeFormat = "2006-01-02 15:04:05"

// Role is a closed enumeration of actor roles. Visibility rules switch
// exhaustively on it; adding a role is a single-point change here plus
// one arm in the visibility filter.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleLeader      Role = "leader"
	RoleMaintenance Role = "maintenance"
	RoleQuality     Role = "quality"
	RoleWarehouse   Role = "warehouse"
	RoleManager     Role = "manager"
	RoleEngineering Role = "engineering"
)

// Roles lists every recognized role, in display order.
var Roles = []Role{
	RoleAdmin, RoleLeader, RoleMaintenance, RoleQuality,
	RoleWarehouse, RoleManager, RoleEngineering,
}

// ParseRole maps a stored role string to a Role. Unknown strings map to
// the empty Role, which every visibility rule treats as "sees nothing".
func ParseRole(s string) Role {
	for _, r := range Roles {
		if s == string(r) {
			return r
		}
	}
	return Role("")
}

// IsDepartment reports whether the role receives forwarded problems.
func (r Role) IsDepartment() bool {
	switch r {
	case RoleMaintenance, RoleQuality, RoleWarehouse, RoleEngineering:
		return true
	}
	return false
}

// Viewer is an authenticated, connected actor. It is supplied at
// authentication time and cached per connection; the core never persists it.
type Viewer struct {
	Username   string `json:"username"`
	Role       Role   `json:"role"`
	LineNumber string `json:"line_number,omitempty"`
	Division   string `json:"division,omitempty"`
}

// Problem statuses, derived from the escalation flags (never stored).
const (
	StatusActive           = "active"
	StatusForwarded        = "forwarded"
	StatusReceived         = "received"
	StatusFeedbackResolved = "feedback_resolved"
	StatusResolved         = "resolved"
)

// Problem is one detected issue on one machine, tracked from detection
// to resolution.
type Problem struct {
	ID                string `json:"id"`
	Machine           string `json:"machine"`
	LineNumber        string `json:"line_number"`
	Division          string `json:"division"`
	ProblemType       string `json:"problem_type"`
	Severity          string `json:"severity"`
	Description       string `json:"description"`
	RecommendedAction string `json:"recommended_action"`
	DetectedAt        string `json:"timestamp"`

	IsForwarded     bool    `json:"is_forwarded"`
	ForwardedBy     string  `json:"forwarded_by,omitempty"`
	ForwardedAt     *string `json:"forwarded_at,omitempty"`
	ForwardedToRole string  `json:"forwarded_to_role,omitempty"`
	ForwardMessage  string  `json:"forward_message,omitempty"`

	IsReceived bool    `json:"is_received"`
	ReceivedBy string  `json:"received_by,omitempty"`
	ReceivedAt *string `json:"received_at,omitempty"`

	IsFeedbackResolved bool    `json:"is_feedback_resolved"`
	FeedbackBy         string  `json:"feedback_resolved_by,omitempty"`
	FeedbackAt         *string `json:"feedback_resolved_at,omitempty"`
	FeedbackMessage    string  `json:"feedback_message,omitempty"`

	IsResolved bool    `json:"is_resolved"`
	ResolvedBy string  `json:"resolved_by,omitempty"`
	ResolvedAt *string `json:"resolved_at,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Status derives the single lifecycle status from the escalation flags.
// Exactly one status holds at any instant.
func (p *Problem) Status() string {
	switch {
	case p.IsResolved:
		return StatusResolved
	case p.IsFeedbackResolved:
		return StatusFeedbackResolved
	case p.IsReceived:
		return StatusReceived
	case p.IsForwarded:
		return StatusForwarded
	default:
		return StatusActive
	}
}

// DurationSeconds is the elapsed time since detection, frozen at
// resolution time once the problem is resolved.
func (p *Problem) DurationSeconds(now time.Time) int64 {
	start, err := time.Parse(TimeFormat, p.DetectedAt)
	if err != nil {
		return 0
	}
	end := now
	if p.IsResolved && p.ResolvedAt != nil {
		if t, err := time.Parse(TimeFormat, *p.ResolvedAt); err == nil {
			end = t
		}
	}
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// ProblemView is the role-shaped projection of a Problem sent to a viewer.
// Escalation messages are redacted for viewers outside the escalation path.
type ProblemView struct {
	ID                string  `json:"id"`
	Machine           string  `json:"machine"`
	LineNumber        string  `json:"line_number"`
	Division          string  `json:"division"`
	ProblemType       string  `json:"problem_type"`
	Severity          string  `json:"severity"`
	Status            string  `json:"status"`
	Description       string  `json:"description"`
	RecommendedAction string  `json:"recommended_action,omitempty"`
	DetectedAt        string  `json:"timestamp"`
	DurationSeconds   int64   `json:"duration_seconds"`
	ForwardedToRole   string  `json:"forwarded_to_role,omitempty"`
	ForwardedBy       string  `json:"forwarded_by,omitempty"`
	ForwardMessage    string  `json:"forward_message,omitempty"`
	ReceivedBy        string  `json:"received_by,omitempty"`
	ReceivedAt        *string `json:"received_at,omitempty"`
	FeedbackBy        string  `json:"feedback_resolved_by,omitempty"`
	FeedbackAt        *string `json:"feedback_resolved_at,omitempty"`
	FeedbackMessage   string  `json:"feedback_message,omitempty"`
	ResolvedBy        string  `json:"resolved_by,omitempty"`
	ResolvedAt        *string `json:"resolved_at,omitempty"`
}

// AuditEntry is one audit log record.
type AuditEntry struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}
