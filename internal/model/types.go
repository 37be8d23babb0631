package model

import "time"

// Pin is a map marker for one previously submitted, geolocated image.
type Pin struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
	ImageRef  string  `json:"image_ref"`
}

// PinRecord is a pin as delivered by the backend. Coordinates may be missing
// for images that were uploaded without a location.
type PinRecord struct {
	ID        string   `json:"id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Label     string   `json:"label,omitempty"`
	ImageRef  string   `json:"image_ref"`
}

// Pin converts the record to a Pin. It reports false when either coordinate
// is missing or outside ±90/±180.
func (r PinRecord) Pin() (Pin, bool) {
	if r.Latitude == nil || r.Longitude == nil {
		return Pin{}, false
	}
	lat, lon := *r.Latitude, *r.Longitude
	if !ValidCoordinates(lat, lon) {
		return Pin{}, false
	}
	return Pin{
		ID:        r.ID,
		Latitude:  lat,
		Longitude: lon,
		Label:     r.Label,
		ImageRef:  r.ImageRef,
	}, true
}

// ValidCoordinates reports whether lat/lon lie within ±90/±180. NaN is invalid.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Assessment is a safety evaluation of one image.
type Assessment struct {
	Score              float64 `json:"safety_score"`
	SurvivabilityLabel string  `json:"estimated_magnitude_survivability"`
	Description        string  `json:"description"`
}

// Image is a stored upload.
type Image struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ObjectKey string    `json:"object_key"`
	Label     string    `json:"label,omitempty"`
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

// PinRecord exposes the image as a map pin record.
func (im Image) PinRecord() PinRecord {
	return PinRecord{
		ID:        im.ID,
		Latitude:  im.Latitude,
		Longitude: im.Longitude,
		Label:     im.Label,
		ImageRef:  im.ObjectKey,
	}
}

// StoredAssessment is an Assessment persisted against an image.
type StoredAssessment struct {
	ID        string    `json:"id"`
	ImageID   string    `json:"image_id"`
	CreatedAt time.Time `json:"created_at"`
	Assessment
}

// SenderType identifies who wrote a chat message.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderAssistant SenderType = "assistant"
)

// ChatMessage is one line of a user's conversation with the assistant.
type ChatMessage struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Text      string     `json:"message_text"`
	Sender    SenderType `json:"sender_type"`
	CreatedAt time.Time  `json:"created_at"`
}

// SafetyAssessmentResult is the backend's answer to an upload-and-assess request.
type SafetyAssessmentResult struct {
	Image      Image            `json:"image"`
	Assessment StoredAssessment `json:"assessment"`
}

// ChatReply is the backend's answer to a chat message.
type ChatReply struct {
	Message ChatMessage `json:"message"`
	Reply   ChatMessage `json:"reply"`
}
