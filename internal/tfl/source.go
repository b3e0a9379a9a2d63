// Package tfl fetches London Underground stations from the TfL unified API.
package tfl

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"propertysearch/server/internal/httpclient"
	"propertysearch/server/internal/models"
)

const DefaultBaseURL = "https://api.tfl.gov.uk"

var postcodeRegex = regexp.MustCompile(`.*,([A-Z0-9 ]+)`)

type lineResponse struct {
	ID string `json:"id"`
}

type stopPointResponse struct {
	ID                   string                       `json:"id"`
	CommonName           string                       `json:"commonName"`
	Lat                  float64                      `json:"lat"`
	Lon                  float64                      `json:"lon"`
	LineModeGroups       []lineModeGroupResponse      `json:"lineModeGroups"`
	AdditionalProperties []additionalPropertyResponse `json:"additionalProperties"`
}

type lineModeGroupResponse struct {
	ModeName       string   `json:"modeName"`
	LineIdentifier []string `json:"lineIdentifier"`
}

type additionalPropertyResponse struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type Source struct {
	client  *httpclient.Client
	logger  *logrus.Logger
	baseURL string
}

func NewSource(client *httpclient.Client, baseURL string, logger *logrus.Logger) *Source {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{client: client, logger: logger, baseURL: baseURL}
}

// GetLines returns the ids of every tube line.
func (s *Source) GetLines(ctx context.Context) ([]string, error) {
	resp, err := s.client.Get(ctx, s.baseURL+"/Line/Mode/tube/Route")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tube lines: %w", err)
	}

	var res []lineResponse
	if err := resp.DecodeJSON(&res, "tube lines"); err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(res))
	for _, l := range res {
		lines = append(lines, l.ID)
	}
	return lines, nil
}

// GetStations returns the stations served by one line.
func (s *Source) GetStations(ctx context.Context, line string) ([]models.TubeStation, error) {
	resp, err := s.client.Get(ctx, s.baseURL+"/Line/"+url.PathEscape(line)+"/StopPoints")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stations of %s: %w", line, err)
	}

	var res []stopPointResponse
	if err := resp.DecodeJSON(&res, "stop points of "+line); err != nil {
		return nil, err
	}

	stations := make([]models.TubeStation, 0, len(res))
	for _, sp := range res {
		station := models.TubeStation{
			ID:          sp.ID,
			Name:        sp.CommonName,
			Postcode:    postcodeOf(sp.AdditionalProperties),
			Coordinates: orb.Point{sp.Lon, sp.Lat},
		}
		for _, g := range sp.LineModeGroups {
			if g.ModeName == "tube" {
				station.Lines = append(station.Lines, g.LineIdentifier...)
			}
		}
		if station.Postcode == "" {
			s.logger.WithFields(logrus.Fields{"station": sp.ID, "name": sp.CommonName}).Warn("Station has no postcode")
		}
		stations = append(stations, station)
	}
	return stations, nil
}

// GetTubeStations fetches all lines concurrently and merges stations served
// by several lines into one record. The result is sorted by id.
func (s *Source) GetTubeStations(ctx context.Context) ([]models.TubeStation, error) {
	lines, err := s.GetLines(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	merged := map[string]*models.TubeStation{}

	g, gctx := errgroup.WithContext(ctx)
	for _, line := range lines {
		line := line
		g.Go(func() error {
			stations, err := s.GetStations(gctx, line)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, st := range stations {
				st := st
				existing, ok := merged[st.ID]
				if !ok {
					merged[st.ID] = &st
					continue
				}
				existing.Lines = append(existing.Lines, st.Lines...)
				if existing.Postcode == "" {
					existing.Postcode = st.Postcode
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]models.TubeStation, 0, len(merged))
	for _, st := range merged {
		st.Lines = uniqueSorted(st.Lines)
		result = append(result, *st)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	s.logger.WithFields(logrus.Fields{
		"lines":    len(lines),
		"stations": len(result),
	}).Info("Fetched tube stations")

	return result, nil
}

func postcodeOf(props []additionalPropertyResponse) string {
	for _, p := range props {
		if p.Category != "Address" || p.Key != "Address" {
			continue
		}
		if m := postcodeRegex.FindStringSubmatch(p.Value); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	return ""
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
