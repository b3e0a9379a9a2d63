package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"propertysearch/server/internal/logging"
	"propertysearch/server/internal/models"
)

// ErrNoStations keeps an empty upstream answer from wiping the station set.
var ErrNoStations = errors.New("no tube stations returned")

type TubeSource interface {
	GetTubeStations(ctx context.Context) ([]models.TubeStation, error)
}

type TubeStore interface {
	ReplaceTubeStations(ctx context.Context, stations []models.TubeStation, at time.Time) error
}

type TubeUpdater struct {
	source TubeSource
	store  TubeStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewTubeUpdater(source TubeSource, store TubeStore, logger *logrus.Logger) *TubeUpdater {
	return &TubeUpdater{source: source, store: store, logger: logger, now: time.Now}
}

// UpdateTube refreshes the reference station list.
func (u *TubeUpdater) UpdateTube(ctx context.Context) error {
	stations, err := u.source.GetTubeStations(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch tube stations: %w", err)
	}
	if len(stations) == 0 {
		return ErrNoStations
	}

	if err := u.store.ReplaceTubeStations(ctx, stations, u.now()); err != nil {
		return fmt.Errorf("failed to replace tube stations: %w", err)
	}

	logging.FromContext(ctx, u.logger).WithField("stations", len(stations)).Info("Committed tube stations")
	return nil
}
