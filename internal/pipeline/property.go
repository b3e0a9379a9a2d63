// Package pipeline runs the batch tasks that refresh the stored datasets.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"propertysearch/server/internal/aggregator"
	"propertysearch/server/internal/logging"
	"propertysearch/server/internal/metrics"
	"propertysearch/server/internal/models"
)

const (
	// Studio to three bedroom homes
	MaxBeds = 3

	// Miles around each station
	SearchRadius = 0.25
)

// ErrNoLocations is returned when not a single station resolved to a token.
var ErrNoLocations = errors.New("no locations could be resolved")

type ListingSource interface {
	ResolveLocation(ctx context.Context, location string) (string, error)
	Search(ctx context.Context, token string, action models.PropertyAction, numBeds int, radius float64) ([]models.Listing, error)
}

type HistorySource interface {
	GetHistory(ctx context.Context, ids []int64) ([]models.PriceHistory, error)
}

type PropertyStore interface {
	GetTubeStations(ctx context.Context) ([]models.TubeStation, error)
	ReplacePropertySummaries(ctx context.Context, summaries []models.PropertySummary, at time.Time) error
}

type Options struct {
	// StrictLocations aborts the run on the first resolution failure instead
	// of skipping the station.
	StrictLocations bool
	Now             func() time.Time
}

type PropertyPipeline struct {
	listings  ListingSource
	histories HistorySource
	store     PropertyStore
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	strict    bool
	now       func() time.Time
}

// resolvedLocation pairs a station with its opaque search token.
type resolvedLocation struct {
	station models.TubeStation
	token   string
}

type searchJob struct {
	location resolvedLocation
	action   models.PropertyAction
	numBeds  int
	radius   float64
}

// NewPropertyPipeline wires the property task. histories may be nil, in
// which case month over month changes are left empty.
func NewPropertyPipeline(listings ListingSource, histories HistorySource, store PropertyStore, opts Options, logger *logrus.Logger, m *metrics.Metrics) *PropertyPipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PropertyPipeline{
		listings:  listings,
		histories: histories,
		store:     store,
		logger:    logger,
		metrics:   m,
		strict:    opts.StrictLocations,
		now:       now,
	}
}

// UpdateProperty recomputes every property summary and replaces the stored
// set in one transaction. Storage is left untouched on any failure.
func (p *PropertyPipeline) UpdateProperty(ctx context.Context) error {
	log := logging.FromContext(ctx, p.logger)

	stations, err := p.store.GetTubeStations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tube stations: %w", err)
	}
	log.WithField("stations", len(stations)).Info("Loaded reference locations")

	locations, err := p.resolveLocations(ctx, stations)
	if err != nil {
		return err
	}
	if len(locations) == 0 {
		return ErrNoLocations
	}
	log.WithFields(logrus.Fields{
		"resolved": len(locations),
		"skipped":  len(stations) - len(locations),
	}).Info("Resolved locations")

	summaries, err := p.searchAll(ctx, locations)
	if err != nil {
		return err
	}
	log.WithField("summaries", len(summaries)).Info("Aggregated property summaries")

	if err := p.store.ReplacePropertySummaries(ctx, summaries, p.now()); err != nil {
		return fmt.Errorf("failed to replace property summaries: %w", err)
	}
	p.metrics.SetSummariesWritten(len(summaries))
	log.WithField("summaries", len(summaries)).Info("Committed property summaries")

	return nil
}

func (p *PropertyPipeline) resolveLocations(ctx context.Context, stations []models.TubeStation) ([]resolvedLocation, error) {
	log := logging.FromContext(ctx, p.logger)
	tokens := make([]string, len(stations))

	g, gctx := errgroup.WithContext(ctx)
	for i, station := range stations {
		i, station := i, station
		g.Go(func() error {
			token, err := p.listings.ResolveLocation(gctx, station.Postcode)
			if err == nil {
				tokens[i] = token
				return nil
			}
			if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return err
			}
			if p.strict {
				return fmt.Errorf("failed to resolve location of station %s: %w", station.ID, err)
			}
			p.metrics.IncLocationsSkipped()
			log.WithError(err).WithFields(logrus.Fields{
				"station":  station.ID,
				"name":     station.Name,
				"postcode": station.Postcode,
			}).Warn("Skipping station with unresolved location")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	locations := make([]resolvedLocation, 0, len(stations))
	for i, token := range tokens {
		if token != "" {
			locations = append(locations, resolvedLocation{station: stations[i], token: token})
		}
	}
	return locations, nil
}

func (p *PropertyPipeline) searchAll(ctx context.Context, locations []resolvedLocation) ([]models.PropertySummary, error) {
	var jobs []searchJob
	for _, loc := range locations {
		for beds := 0; beds <= MaxBeds; beds++ {
			for _, action := range models.PropertyActions {
				jobs = append(jobs, searchJob{location: loc, action: action, numBeds: beds, radius: SearchRadius})
			}
		}
	}

	now := p.now()
	summaries := make([]models.PropertySummary, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			stats, err := p.searchOne(gctx, job, now)
			if err != nil {
				return err
			}
			summaries[i] = models.PropertySummary{
				Postcode:    job.location.station.Postcode,
				Coordinates: job.location.station.Coordinates,
				Action:      job.action,
				NumBeds:     job.numBeds,
				Stats:       stats,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (p *PropertyPipeline) searchOne(ctx context.Context, job searchJob, now time.Time) (models.PropertyStats, error) {
	station := job.location.station
	listings, err := p.listings.Search(ctx, job.location.token, job.action, job.numBeds, job.radius)
	if err != nil {
		return models.PropertyStats{}, fmt.Errorf("failed to search %s around %s with %d beds: %w", job.action, station.ID, job.numBeds, err)
	}

	var histories []models.PriceHistory
	if p.histories != nil && len(listings) > 0 {
		ids := make([]int64, len(listings))
		for i, l := range listings {
			ids[i] = l.ID
		}
		histories, err = p.histories.GetHistory(ctx, ids)
		if err != nil {
			return models.PropertyStats{}, fmt.Errorf("failed to get price history around %s: %w", station.ID, err)
		}
	}

	logging.FromContext(ctx, p.logger).WithFields(logrus.Fields{
		"station":  station.Name,
		"postcode": station.Postcode,
		"action":   job.action.String(),
		"num_beds": job.numBeds,
		"radius":   job.radius,
		"listings": len(listings),
	}).Debug("Got property stats")

	return aggregator.CalculateStats(listings, histories, now), nil
}
