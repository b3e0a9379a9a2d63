package models

import "github.com/paulmach/orb"

// TubeStation is a reference location the property pipeline searches around.
type TubeStation struct {
	ID          string    `gorm:"primaryKey" json:"id"` // naptan id
	Name        string    `json:"name"`
	Postcode    string    `json:"postcode,omitempty"`
	Coordinates orb.Point `gorm:"serializer:json" json:"coordinates"`
	Lines       []string  `gorm:"serializer:json" json:"lines"`
}

// LastUpdated stores per-dataset refresh times in epoch milliseconds.
type LastUpdated struct {
	ID       uint  `gorm:"primaryKey" json:"-"`
	Property int64 `json:"property"`
	Tube     int64 `json:"tube"`
}

// TableName keeps the marker table name singular.
func (LastUpdated) TableName() string {
	return "last_updated"
}
