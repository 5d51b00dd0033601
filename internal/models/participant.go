package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one attendance session (join/leave window) of one person in
// one webinar. A person who rejoins produces multiple rows; the natural key is
// (webinar_id, external_id, join_time).
type Participant struct {
	ID              uuid.UUID  `json:"id"`
	WebinarID       uuid.UUID  `json:"webinar_id"`
	ExternalID      string     `json:"external_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email,omitempty"`
	JoinTime        time.Time  `json:"join_time"`
	LeaveTime       *time.Time `json:"leave_time,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	SentChat      bool `json:"sent_chat"`
	RaisedHand    bool `json:"raised_hand"`
	AnsweredPoll  bool `json:"answered_poll"`
	AskedQuestion bool `json:"asked_question"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
