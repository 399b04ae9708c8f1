package models

import "time"

// Relation is an AI companion the user has unlocked, as the backend describes it.
type Relation struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	RelationType string `json:"relation_type"`
	EmotionModel string `json:"emotion_model,omitempty"`
	VoiceModel   string `json:"voice_model,omitempty"`
}

// Profile is the authenticated user's account as returned by the backend.
type Profile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	Emocoins  int    `json:"emocoins"`
}

// Conversation is an archived chat with one relation. Its messages are stored separately.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"userId"`
	RelationID   int64     `json:"relationId"`
	RelationName string    `json:"relationName"`
	Title        string    `json:"title"`
	StartedAt    time.Time `json:"startedAt"`
}
