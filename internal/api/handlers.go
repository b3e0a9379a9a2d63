package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"propertysearch/server/internal/geometry"
	"propertysearch/server/internal/models"
)

const (
	defaultNearest = 5
	maxNearest     = 50
)

// Store is the read side of the property database.
type Store interface {
	GetPropertySummaries(ctx context.Context) ([]models.PropertySummary, error)
	GetTubeStations(ctx context.Context) ([]models.TubeStation, error)
	GetLastUpdated(ctx context.Context) (models.LastUpdated, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	store    Store
	stations *geometry.StationIndex
	logger   *logrus.Logger
}

func NewHandler(store Store, logger *logrus.Logger) *Handler {
	return &Handler{
		store:    store,
		stations: geometry.NewStationIndex(nil),
		logger:   logger,
	}
}

// RefreshStations reloads the nearest-station index from the store.
func (h *Handler) RefreshStations(ctx context.Context) error {
	stations, err := h.store.GetTubeStations(ctx)
	if err != nil {
		return err
	}
	h.stations.Reset(stations)
	h.logger.WithField("stations", len(stations)).Info("Refreshed station index")
	return nil
}

func (h *Handler) GetProperty(c *gin.Context) {
	summaries, err := h.store.GetPropertySummaries(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get property summaries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get property summaries"})
		return
	}
	if summaries == nil {
		summaries = []models.PropertySummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *Handler) GetPropertyGeoJSON(c *gin.Context) {
	summaries, err := h.store.GetPropertySummaries(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get property summaries")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get property summaries"})
		return
	}
	h.geoJSON(c, geometry.SummaryFeatures(summaries))
}

func (h *Handler) GetTubeStations(c *gin.Context) {
	stations, err := h.store.GetTubeStations(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get tube stations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get tube stations"})
		return
	}
	if stations == nil {
		stations = []models.TubeStation{}
	}
	c.JSON(http.StatusOK, stations)
}

func (h *Handler) GetTubeStationsGeoJSON(c *gin.Context) {
	stations, err := h.store.GetTubeStations(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get tube stations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get tube stations"})
		return
	}
	h.geoJSON(c, geometry.StationFeatures(stations))
}

// GetNearestStations answers ?lon=&lat=&k= with the k closest stations.
func (h *Handler) GetNearestStations(c *gin.Context) {
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lon parameter"})
		return
	}
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lat parameter"})
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", strconv.Itoa(defaultNearest)))
	if err != nil || k <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid k parameter"})
		return
	}
	if k > maxNearest {
		k = maxNearest
	}

	if h.stations.Size() == 0 {
		if err := h.RefreshStations(c.Request.Context()); err != nil {
			h.logger.WithError(err).Error("Failed to load station index")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tube stations"})
			return
		}
	}

	nearby := h.stations.Nearest(orb.Point{lon, lat}, k)
	if nearby == nil {
		nearby = []geometry.Nearby{}
	}
	c.JSON(http.StatusOK, nearby)
}

func (h *Handler) GetLastUpdated(c *gin.Context) {
	marker, err := h.store.GetLastUpdated(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get last updated")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get last updated"})
		return
	}
	c.JSON(http.StatusOK, marker)
}

func (h *Handler) Healthz(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) geoJSON(c *gin.Context, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode GeoJSON")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode GeoJSON"})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", data)
}
