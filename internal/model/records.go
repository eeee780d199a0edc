package model

import "time"

// Location is what a scanner's browser reports when sharing its position.
type Location struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	MapsURL   string  `json:"mapsUrl" validate:"omitempty,url"`
}

// AccidentLogEntry records one shared location. Entries are append-only; ID
// is a monotonic ULID so lexical order equals creation order.
type AccidentLogEntry struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	UserName   string    `json:"userName"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	MapsURL    string    `json:"mapsUrl"`
	ReportedAt time.Time `json:"reportedAt"`
}

// PhotoRecord holds metadata about an uploaded photo. Viewed flips from false
// to true exactly once, on the first successful view.
type PhotoRecord struct {
	ViewToken    string     `json:"viewToken"`
	OwnerToken   string     `json:"ownerToken"`
	Filename     string     `json:"filename"`
	OriginalName string     `json:"originalName"`
	Size         int64      `json:"size"`
	ContentType  string     `json:"contentType"`
	PatientName  string     `json:"patientName"`
	UploadedAt   time.Time  `json:"uploadedAt"`
	Viewed       bool       `json:"viewed"`
	ViewedAt     *time.Time `json:"viewedAt,omitempty"`
}

// Stats summarizes the auxiliary store.
type Stats struct {
	TotalUsers        int       `json:"totalUsers"`
	TotalAccidentLogs int       `json:"totalAccidentLogs"`
	TotalPhotos       int       `json:"totalPhotos"`
	LastUpdated       time.Time `json:"lastUpdated"`
}
