package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"

	"propertysearch/server/internal/models"
)

const lastUpdatedID = 1

// Store persists the property and tube datasets.
type Store struct {
	pool *Pool
}

func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetTubeStations(ctx context.Context) ([]models.TubeStation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, postcode, coordinates, lines
		FROM tube_stations
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query tube stations: %w", err)
	}
	defer rows.Close()

	var stations []models.TubeStation
	for rows.Next() {
		var (
			st          models.TubeStation
			coordinates []byte
			lines       []byte
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Postcode, &coordinates, &lines); err != nil {
			return nil, fmt.Errorf("scan tube station: %w", err)
		}
		if err := json.Unmarshal(coordinates, &st.Coordinates); err != nil {
			return nil, fmt.Errorf("decode coordinates of %s: %w", st.ID, err)
		}
		if err := json.Unmarshal(lines, &st.Lines); err != nil {
			return nil, fmt.Errorf("decode lines of %s: %w", st.ID, err)
		}
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tube station rows: %w", err)
	}
	return stations, nil
}

// ReplaceTubeStations swaps the station set and stamps the tube marker atomically.
func (s *Store) ReplaceTubeStations(ctx context.Context, stations []models.TubeStation, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tube_stations`); err != nil {
		return fmt.Errorf("delete tube stations: %w", err)
	}

	query := `
		INSERT INTO tube_stations (id, name, postcode, coordinates, lines)
		VALUES ($1, $2, $3, $4, $5)
	`
	batch := &pgx.Batch{}
	for _, st := range stations {
		coordinates, err := marshalPoint(st.Coordinates)
		if err != nil {
			return err
		}
		lines := st.Lines
		if lines == nil {
			lines = []string{}
		}
		encodedLines, err := json.Marshal(lines)
		if err != nil {
			return fmt.Errorf("encode lines of %s: %w", st.ID, err)
		}
		batch.Queue(query, st.ID, st.Name, st.Postcode, coordinates, encodedLines)
	}
	if err := execBatch(ctx, tx, batch, func(i int) string {
		return "tube station " + stations[i].ID
	}); err != nil {
		return err
	}

	if err := touchLastUpdated(ctx, tx, "tube", at); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) GetPropertySummaries(ctx context.Context) ([]models.PropertySummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, postcode, coordinates, action, num_beds, stats
		FROM property_summaries
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query property summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.PropertySummary
	for rows.Next() {
		var (
			sum         models.PropertySummary
			id          int64
			action      int16
			coordinates []byte
			encoded     []byte
		)
		if err := rows.Scan(&id, &sum.Postcode, &coordinates, &action, &sum.NumBeds, &encoded); err != nil {
			return nil, fmt.Errorf("scan property summary: %w", err)
		}
		sum.ID = uint(id)
		sum.Action = models.PropertyAction(action)
		if err := json.Unmarshal(coordinates, &sum.Coordinates); err != nil {
			return nil, fmt.Errorf("decode coordinates of summary %d: %w", id, err)
		}
		if err := json.Unmarshal(encoded, &sum.Stats); err != nil {
			return nil, fmt.Errorf("decode stats of summary %d: %w", id, err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate property summary rows: %w", err)
	}
	return summaries, nil
}

// ReplacePropertySummaries deletes every summary, inserts the new set and
// stamps the property marker in one transaction.
func (s *Store) ReplacePropertySummaries(ctx context.Context, summaries []models.PropertySummary, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM property_summaries`); err != nil {
		return fmt.Errorf("delete property summaries: %w", err)
	}

	query := `
		INSERT INTO property_summaries (postcode, coordinates, action, num_beds, stats)
		VALUES ($1, $2, $3, $4, $5)
	`
	batch := &pgx.Batch{}
	for _, sum := range summaries {
		coordinates, err := marshalPoint(sum.Coordinates)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(sum.Stats)
		if err != nil {
			return fmt.Errorf("encode stats of %s: %w", sum.Postcode, err)
		}
		batch.Queue(query, sum.Postcode, coordinates, int16(sum.Action), sum.NumBeds, encoded)
	}
	if err := execBatch(ctx, tx, batch, func(i int) string {
		return "property summary " + summaries[i].Postcode
	}); err != nil {
		return err
	}

	if err := touchLastUpdated(ctx, tx, "property", at); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetLastUpdated returns the refresh marker; a zero value when nothing ran yet.
func (s *Store) GetLastUpdated(ctx context.Context) (models.LastUpdated, error) {
	var marker models.LastUpdated
	var id int32
	err := s.pool.QueryRow(ctx, `SELECT id, property, tube FROM last_updated WHERE id = $1`, lastUpdatedID).
		Scan(&id, &marker.Property, &marker.Tube)
	if err != nil {
		if isNotFoundError(err) {
			return models.LastUpdated{}, nil
		}
		return models.LastUpdated{}, fmt.Errorf("query last updated: %w", err)
	}
	marker.ID = uint(id)
	return marker, nil
}

// execBatch sends every queued insert in one round trip and reports the first failure.
func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, describe func(i int) string) error {
	if batch.Len() == 0 {
		return nil
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert %s: %w", describe(i), err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}

func touchLastUpdated(ctx context.Context, tx pgx.Tx, column string, at time.Time) error {
	var query string
	switch column {
	case "property":
		query = `
			INSERT INTO last_updated (id, property) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET property = EXCLUDED.property
		`
	case "tube":
		query = `
			INSERT INTO last_updated (id, tube) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET tube = EXCLUDED.tube
		`
	default:
		return fmt.Errorf("unknown last updated column %q", column)
	}

	if _, err := tx.Exec(ctx, query, lastUpdatedID, at.UnixMilli()); err != nil {
		return fmt.Errorf("update last updated: %w", err)
	}
	return nil
}

func marshalPoint(p orb.Point) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode coordinates: %w", err)
	}
	return b, nil
}
