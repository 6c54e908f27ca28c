package models

import "time"

type DiscussionStatus string

const (
	DiscussionActive   DiscussionStatus = "active"
	DiscussionArchived DiscussionStatus = "archived"
)

// Discussion is the single 1:1 thread between an admin and one counterpart.
// Counterpart.Role is either RoleOperator or RoleTechnician and never changes.
type Discussion struct {
	ID            int64            `json:"id"`
	AdminID       int64            `json:"admin_id"`
	Counterpart   Ref              `json:"counterpart"`
	Status        DiscussionStatus `json:"status"`
	LastMessageAt time.Time        `json:"last_message_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (d *Discussion) Admin() Ref {
	return Ref{Role: RoleAdmin, ID: d.AdminID}
}

// TechnicianID returns the technician side, or nil for operator discussions.
func (d *Discussion) TechnicianID() *int64 {
	if d.Counterpart.Role != RoleTechnician {
		return nil
	}
	id := d.Counterpart.ID
	return &id
}

// OperatorID returns the operator side, or nil for technician discussions.
func (d *Discussion) OperatorID() *int64 {
	if d.Counterpart.Role != RoleOperator {
		return nil
	}
	id := d.Counterpart.ID
	return &id
}

// Involves reports whether ref is one of the two participants.
func (d *Discussion) Involves(ref Ref) bool {
	return ref == d.Admin() || ref == d.Counterpart
}

// OtherParty returns the participant facing ref.
func (d *Discussion) OtherParty(ref Ref) Ref {
	if ref == d.Admin() {
		return d.Counterpart
	}
	return d.Admin()
}

// DiscussionSummary is one entry of a discussion list.
type DiscussionSummary struct {
	ID            int64            `json:"id"`
	Status        DiscussionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	LastMessageAt time.Time        `json:"last_message_at"`
	// Counterpart is the other party seen from the viewer.
	Counterpart *Participant    `json:"counterpart"`
	LastMessage *MessagePreview `json:"last_message"`
	UnreadCount int             `json:"unread_count"`
}

// DiscussionDetail is returned when a single discussion is opened.
type DiscussionDetail struct {
	Discussion  Discussion   `json:"discussion"`
	Counterpart *Participant `json:"counterpart"`
	UnreadCount int          `json:"unread_count"`
}

// Thread is a discussion with its full message history.
type Thread struct {
	Discussion Discussion      `json:"discussion"`
	Admin      *Participant    `json:"admin"`
	Member     *Participant    `json:"member"`
	Messages   []ThreadMessage `json:"messages"`
}
