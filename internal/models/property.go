package models

import (
	"time"

	"github.com/paulmach/orb"

	"propertysearch/server/internal/stats"
)

// PropertyAction is the transaction type a search is run for.
type PropertyAction uint8

const (
	PropertyActionBuy  PropertyAction = 1
	PropertyActionRent PropertyAction = 2
)

// PropertyActions lists every action the pipeline fans out over.
var PropertyActions = []PropertyAction{PropertyActionBuy, PropertyActionRent}

// String returns the string representation of a PropertyAction
func (a PropertyAction) String() string {
	switch a {
	case PropertyActionBuy:
		return "buy"
	case PropertyActionRent:
		return "rent"
	default:
		return "unknown"
	}
}

// Listing is one normalized advertisement returned by a search.
// Rental prices are monthly, buy prices are the asking price.
type Listing struct {
	ID          int64
	Coordinates orb.Point // (longitude, latitude)
	Price       float64
	SquareFeet  *int
	PostDate    time.Time
	ReducedDate *time.Time
	Transacted  bool
}

// PriceRecord is one historical asking price of a listing.
type PriceRecord struct {
	Date  time.Time
	Price int64
}

// PriceHistory holds the price records of a listing sorted by date ascending.
type PriceHistory struct {
	ID      int64
	Records []PriceRecord
}

// PropertyStats is the fixed-shape summary of one search result set.
type PropertyStats struct {
	Price             stats.Stats `json:"price"`
	ListedDays        stats.Stats `json:"listedDays"`
	PercentTransacted stats.Stats `json:"percentTransacted"`
	SquareFeet        stats.Stats `json:"squareFeet"`
	OneMonthPctChange stats.Stats `json:"oneMonthPctChange"`
}

// PropertySummary is the persisted aggregation unit, one per
// postcode/action/bedroom count.
type PropertySummary struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	Postcode    string         `gorm:"index" json:"postcode"`
	Coordinates orb.Point      `gorm:"serializer:json" json:"coordinates"`
	Action      PropertyAction `json:"action"`
	NumBeds     int            `json:"numBeds"`
	Stats       PropertyStats  `gorm:"serializer:json" json:"stats"`
}
