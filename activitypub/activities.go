package activitypub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
const PublicAudience = "https://www.w3.org/ns/activitystreams#Public"

// ActivityType is the closed set of supported activity types. Anything
// else is rejected by ParseActivity with an UnsupportedActivityError.
type ActivityType string

const (
	ActivityFollow ActivityType = "Follow"
	ActivityAccept ActivityType = "Accept"
	ActivityReject ActivityType = "Reject"
	ActivityUndo   ActivityType = "Undo"
	ActivityCreate ActivityType = "Create"
	ActivityUpdate ActivityType = "Update"
	ActivityDelete ActivityType = "Delete"
)

var supportedActivityTypes = map[ActivityType]bool{
	ActivityFollow: true,
	ActivityAccept: true,
	ActivityReject: true,
	ActivityUndo:   true,
	ActivityCreate: true,
	ActivityUpdate: true,
	ActivityDelete: true,
}

// Activity is the generic envelope of an incoming activity. Object is
// kept raw because its shape depends on the activity type.
type Activity struct {
	Context interface{}     `json:"@context"`
	ID      string          `json:"id"`
	Type    ActivityType    `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
}

// NestedActivity is the embedded object of Accept, Reject and Undo
// activities: the original Follow being answered or retracted.
type NestedActivity struct {
	ID     string       `json:"id"`
	Type   ActivityType `json:"type"`
	Actor  string       `json:"actor"`
	Object string       `json:"object"`
}

// WorkoutObject is the object of Create and Update activities.
type WorkoutObject struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	URL          string  `json:"url"`
	AttributedTo string  `json:"attributedTo"`
	Published    string  `json:"published"`
	Title        string  `json:"title"`
	WorkoutDate  string  `json:"workoutDate"`
	Distance     float64 `json:"distance"`
	Duration     string  `json:"duration"`
	Moving       string  `json:"moving"`
	AveSpeed     float64 `json:"aveSpeed"`
	MaxSpeed     float64 `json:"maxSpeed"`
	SportId      int     `json:"sportId"`
	Visibility   string  `json:"visibility"`
}

// ParseActivity validates the raw inbox payload into an Activity.
func ParseActivity(body []byte) (*Activity, error) {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, ErrInvalidActivity
	}
	if activity.Type == "" || activity.Actor == "" || len(activity.Object) == 0 {
		return nil, ErrInvalidActivity
	}
	if !supportedActivityTypes[activity.Type] {
		return nil, &UnsupportedActivityError{ActivityType: string(activity.Type)}
	}
	return &activity, nil
}

// ObjectURI extracts the object reference from the raw object field,
// which can be a plain URI string or an embedded object with an id.
func (a *Activity) ObjectURI() string {
	if len(a.Object) == 0 {
		return ""
	}
	var uri string
	if err := json.Unmarshal(a.Object, &uri); err == nil {
		return uri
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// NestedObject parses the embedded activity of Accept, Reject and Undo.
func (a *Activity) NestedObject() (*NestedActivity, error) {
	var nested NestedActivity
	if err := json.Unmarshal(a.Object, &nested); err != nil {
		return nil, ErrInvalidActivity
	}
	if nested.Type == "" {
		return nil, ErrInvalidActivity
	}
	return &nested, nil
}

// WorkoutObject parses the embedded workout of Create and Update.
func (a *Activity) WorkoutObject() (*WorkoutObject, error) {
	var w WorkoutObject
	if err := json.Unmarshal(a.Object, &w); err != nil {
		return nil, ErrInvalidActivity
	}
	if w.ID == "" {
		return nil, ErrInvalidActivity
	}
	return &w, nil
}

// ConvertDurationStringToSeconds converts a "HH:MM:SS" duration string
// to seconds. Hours may exceed two digits for long activities.
func ConvertDurationStringToSeconds(duration string) (int, error) {
	parts := strings.Split(duration, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration format: %q", duration)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("invalid duration hours: %q", duration)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid duration minutes: %q", duration)
	}
	seconds, err := strconv.Atoi(parts[2])
	if err != nil || seconds < 0 || seconds > 59 {
		return 0, fmt.Errorf("invalid duration seconds: %q", duration)
	}
	return hours*3600 + minutes*60 + seconds, nil
}

// ConvertSecondsToDurationString is the inverse, used when serializing
// local workouts for delivery.
func ConvertSecondsToDurationString(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
