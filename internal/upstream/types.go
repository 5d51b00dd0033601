package upstream

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebinarSummary is the typed intermediate record produced from a raw upstream
// payload. Warnings lists fields that were defaulted or read from a fallback,
// so downstream consumers can surface mapping problems instead of silently
// absorbing them.
type WebinarSummary struct {
	ExternalID      string
	Topic           string
	RawStatus       string
	StartTime       *time.Time
	DurationMinutes int
	Timezone        string
	HostEmail       string
	JoinURL         string
	Warnings        []string
}

// ParticipantRecord is one attendance session from the participants report.
type ParticipantRecord struct {
	ExternalID      string
	Name            string
	Email           string
	JoinTime        *time.Time
	LeaveTime       *time.Time
	DurationSeconds int
	SentChat        bool
	RaisedHand      bool
	AnsweredPoll    bool
	AskedQuestion   bool
	Warnings        []string
}

// RegistrantRecord is one registrant from the registrants report.
type RegistrantRecord struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	Status     string
	Warnings   []string
}

// webinarPayload is the wire shape of one webinar in list/detail responses.
// All fields are optional on the wire; normalization fills gaps explicitly.
type webinarPayload struct {
	ID        json.Number `json:"id"`
	UUID      string      `json:"uuid"`
	Topic     string      `json:"topic"`
	Status    string      `json:"status"`
	StartTime string      `json:"start_time"`
	Duration  int         `json:"duration"`
	Timezone  string      `json:"timezone"`
	HostEmail string      `json:"host_email"`
	JoinURL   string      `json:"join_url"`
}

type participantPayload struct {
	ID                string      `json:"id"`
	UserID            json.Number `json:"user_id"`
	Name              string      `json:"name"`
	UserEmail         string      `json:"user_email"`
	JoinTime          string      `json:"join_time"`
	LeaveTime         string      `json:"leave_time"`
	Duration          int         `json:"duration"`
	SentChat          bool        `json:"sent_chat"`
	RaisedHand        bool        `json:"raised_hand"`
	AnsweredPolling   bool        `json:"answered_polling"`
	AskedQuestion     bool        `json:"asked_question"`
	RegistrantID      string      `json:"registrant_id"`
	ParticipantUserID string      `json:"participant_user_id"`
}

type registrantPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status"`
}

// WebinarPage is one page of a webinar list response.
type WebinarPage struct {
	PageCount    int
	PageNumber   int
	TotalRecords int
	Webinars     []WebinarSummary
}

// ParticipantPage is one page of a participants report response.
type ParticipantPage struct {
	PageCount    int
	TotalRecords int
	Participants []ParticipantRecord
}

// RegistrantPage is one page of a registrants report response.
type RegistrantPage struct {
	PageCount   int
	Registrants []RegistrantRecord
}

func (p webinarPayload) normalize() WebinarSummary {
	var w WebinarSummary

	w.ExternalID = p.ID.String()
	if w.ExternalID == "" {
		w.ExternalID = p.UUID
		if w.ExternalID != "" {
			w.Warnings = append(w.Warnings, "id missing, used uuid")
		}
	}
	w.Topic = p.Topic
	if w.Topic == "" {
		w.Topic = "Untitled webinar"
		w.Warnings = append(w.Warnings, "topic missing, defaulted")
	}
	w.RawStatus = p.Status
	if ts, ok := parseUpstreamTime(p.StartTime); ok {
		w.StartTime = &ts
	} else if p.StartTime != "" {
		w.Warnings = append(w.Warnings, fmt.Sprintf("unparseable start_time %q", p.StartTime))
	} else {
		w.Warnings = append(w.Warnings, "start_time missing")
	}
	w.DurationMinutes = p.Duration
	w.Timezone = p.Timezone
	w.HostEmail = p.HostEmail
	w.JoinURL = p.JoinURL
	return w
}

func (p participantPayload) normalize() ParticipantRecord {
	var r ParticipantRecord

	r.ExternalID = p.ID
	if r.ExternalID == "" {
		r.ExternalID = p.UserID.String()
	}
	if r.ExternalID == "" {
		r.ExternalID = p.ParticipantUserID
	}
	if r.ExternalID == "" && p.ID == "" {
		r.Warnings = append(r.Warnings, "participant id missing, synthetic id will be used")
	}
	r.Name = p.Name
	r.Email = p.UserEmail
	if ts, ok := parseUpstreamTime(p.JoinTime); ok {
		r.JoinTime = &ts
	} else {
		r.Warnings = append(r.Warnings, "join_time missing or unparseable")
	}
	if ts, ok := parseUpstreamTime(p.LeaveTime); ok {
		r.LeaveTime = &ts
	}
	r.DurationSeconds = p.Duration
	if r.DurationSeconds == 0 && r.JoinTime != nil && r.LeaveTime != nil {
		r.DurationSeconds = int(r.LeaveTime.Sub(*r.JoinTime).Seconds())
		r.Warnings = append(r.Warnings, "duration missing, derived from join/leave")
	}
	r.SentChat = p.SentChat
	r.RaisedHand = p.RaisedHand
	r.AnsweredPoll = p.AnsweredPolling
	r.AskedQuestion = p.AskedQuestion
	return r
}

func (p registrantPayload) normalize() RegistrantRecord {
	var r RegistrantRecord

	r.ExternalID = p.ID
	r.Email = p.Email
	if r.ExternalID == "" && r.Email != "" {
		r.ExternalID = r.Email
		r.Warnings = append(r.Warnings, "registrant id missing, used email")
	}
	r.FirstName = p.FirstName
	r.LastName = p.LastName
	r.Status = p.Status
	return r
}

// parseUpstreamTime accepts the timestamp formats the provider is known to emit.
func parseUpstreamTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
