package geometry

import (
	"github.com/paulmach/orb/geojson"

	"propertysearch/server/internal/models"
)

// SummaryFeatures renders one point feature per property summary.
func SummaryFeatures(summaries []models.PropertySummary) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range summaries {
		f := geojson.NewFeature(s.Coordinates)
		f.Properties["postcode"] = s.Postcode
		f.Properties["action"] = s.Action.String()
		f.Properties["numBeds"] = s.NumBeds
		f.Properties["stats"] = s.Stats
		fc.Append(f)
	}
	return fc
}

// StationFeatures renders one point feature per tube station.
func StationFeatures(stations []models.TubeStation) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, st := range stations {
		f := geojson.NewFeature(st.Coordinates)
		f.ID = st.ID
		f.Properties["name"] = st.Name
		f.Properties["postcode"] = st.Postcode
		f.Properties["lines"] = st.Lines
		fc.Append(f)
	}
	return fc
}
