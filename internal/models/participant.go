package models

import (
	"fmt"
	"strings"
)

// Role tags every participant of the back office.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
	RoleTechnician Role = "technician"
)

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleTechnician:
		return true
	}
	return false
}

// IsCounterpart reports whether the role can sit on the non-admin side of a discussion.
func (r Role) IsCounterpart() bool {
	return r == RoleOperator || r == RoleTechnician
}

// Ref identifies a participant: Admin(id) | Operator(id) | Technician(id).
type Ref struct {
	Role Role  `json:"role"`
	ID   int64 `json:"id"`
}

func (r Ref) Valid() bool {
	return r.Role.Valid() && r.ID > 0
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Role, r.ID)
}

// Participant is the display identity returned by the directory.
type Participant struct {
	ID        int64  `json:"id"`
	Role      Role   `json:"role"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	// Technicians only.
	Avatar    string `json:"avatar,omitempty"`
	Available *bool  `json:"available,omitempty"`
	// Operators only.
	Disabled bool `json:"disabled,omitempty"`
}

func (p *Participant) Ref() Ref {
	return Ref{Role: p.Role, ID: p.ID}
}

// DisplayName joins first and last name for admins and technicians; operators carry a single name.
func (p *Participant) DisplayName() string {
	if p.Role == RoleOperator {
		return p.Name
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
