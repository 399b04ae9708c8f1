package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Mood is an index into the five-point mood scale shown on the call setup screen.
type Mood int

// CallType is how the user wants to talk to a relation.
type CallType string

// CallPreferences is the one-shot payload handed from the call setup screen to the chat screen.
type CallPreferences struct {
	Mood               Mood     `json:"mood"`
	Language           string   `json:"language"`
	Topic              string   `json:"topic"`
	AdditionalDetails  string   `json:"additionalDetails"`
	CallType           CallType `json:"callType"`
	SendAsFirstMessage bool     `json:"sendAsFirstMessage"`
}

const (
	MoodSad Mood = iota
	MoodNeutral
	MoodOkay
	MoodHappy
	MoodJoyful

	// DefaultMood is what the setup screen preselects.
	DefaultMood = MoodOkay

	CallTypeChat  CallType = "chat"
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"

	DefaultLanguage = "English"
	DefaultTopic    = "General Chat"
)

var moodLabels = [...]string{"Sad", "Neutral", "Okay", "Happy", "Joyful"}

// Languages lists the conversation languages offered on the setup screen.
var Languages = []string{
	"English", "Spanish", "French", "German", "Italian", "Portuguese", "Japanese", "Korean", "Chinese",
}

// Topics lists the conversation topics offered on the setup screen.
var Topics = []string{
	"General Chat",
	"Life Advice",
	"Emotional Support",
	"Daily Check-in",
	"Relationship Talk",
	"Work & Career",
	"Health & Wellness",
	"Dreams & Goals",
	"Memories & Stories",
	"Fun & Entertainment",
}

// Valid reports whether m is on the scale.
func (m Mood) Valid() bool {
	return m >= MoodSad && m <= MoodJoyful
}

// String returns the mood label, or an empty string for an off-scale value.
func (m Mood) String() string {
	if !m.Valid() {
		return ""
	}
	return moodLabels[m]
}

// Valid reports whether c is a known call type. Voice and video are valid values even though
// only chat can start a live session.
func (c CallType) Valid() bool {
	switch c {
	case CallTypeChat, CallTypeVoice, CallTypeVideo:
		return true
	}
	return false
}

// Locked reports whether the call type cannot start a live session yet.
func (c CallType) Locked() bool {
	return c == CallTypeVoice || c == CallTypeVideo
}

// ParseCallType converts a form or query value into a CallType.
func ParseCallType(s string) (CallType, error) {
	c := CallType(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown call type %q", s)
	}
	return c, nil
}

// Validate checks every field against the fixed lists of the setup screen.
func (p CallPreferences) Validate() error {
	var errs []error
	if !p.Mood.Valid() {
		errs = append(errs, fmt.Errorf("mood %d is out of range", p.Mood))
	}
	if !slices.Contains(Languages, p.Language) {
		errs = append(errs, fmt.Errorf("unknown language %q", p.Language))
	}
	if !slices.Contains(Topics, p.Topic) {
		errs = append(errs, fmt.Errorf("unknown topic %q", p.Topic))
	}
	if !p.CallType.Valid() {
		errs = append(errs, fmt.Errorf("unknown call type %q", p.CallType))
	}
	if p.SendAsFirstMessage && strings.TrimSpace(p.AdditionalDetails) == "" {
		errs = append(errs, errors.New("sending details as first message requires additional details"))
	}
	return errors.Join(errs...)
}
