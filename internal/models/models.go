package models

import "time"

// Identity is the verified caller of a request.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
	Role        string
	Admin       bool
}

func (i Identity) IsAdmin() bool {
	return i.Admin || i.Role == RoleAdmin
}

type Profile struct {
	UserID      string    `json:"userId" bson:"_id"`
	DisplayName string    `json:"displayName" bson:"display_name"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updated_at"`
}

// Notification is a message for one recipient. An empty To means the
// message is for the studio managers only.
type Notification struct {
	Kind    string
	To      string
	Subject string
	Body    string
}
