package chat

import "time"

// User is the record at users/{id}. Profile fields are owned by the admin screens; the core
// only writes Online and LastSeen.
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     string    `json:"role,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// OnlineAt applies the presence staleness window.
func (u User) OnlineAt(now time.Time) bool {
	return u.Online && now.Sub(u.LastSeen) < PresenceTTL
}

func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// Project is admin data at projects/{id}.
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TeamID   string `json:"teamId"`
	Archived bool   `json:"archived"`
}

// Team is admin data at teams/{id}.
type Team struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (t Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}
