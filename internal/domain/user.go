package domain

import "time"

// User is the profile accumulated for one identity.
type User struct {
	Username       string    `json:"username"`
	PlatformUserID *int64    `json:"platformUserId,omitempty"`
	FirstName      string    `json:"firstName,omitempty"`
	LastName       string    `json:"lastName,omitempty"`
	LanguageCode   string    `json:"languageCode,omitempty"`
	IsPremium      bool      `json:"isPremium"`
	Email          string    `json:"email,omitempty"`
	PersonalName   string    `json:"personalName,omitempty"`
	Age            *int      `json:"age,omitempty"`
	Needs          string    `json:"needs,omitempty"`
	FavoriteTopics []string  `json:"favoriteTopics"`
	MessageCount   int64     `json:"messageCount"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
}

// ProfileUpdate sets the self-declared profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	PersonalName *string `json:"personalName,omitempty"`
	Age          *int    `json:"age,omitempty"`
	Needs        *string `json:"needs,omitempty"`
}

// TopUser is one row of the most active users ranking.
type TopUser struct {
	Username     string `json:"username"`
	PersonalName string `json:"personalName,omitempty"`
	MessageCount int64  `json:"messageCount"`
}

// UserStats summarizes the user base.
type UserStats struct {
	TotalUsers  int64          `json:"totalUsers"`
	ActiveToday int64          `json:"activeToday"`
	TopUsers    []TopUser      `json:"topUsers"`
	Languages   map[string]int `json:"languages"`
}
