// Package propertylog fetches historical asking prices for Rightmove listings.
package propertylog

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"propertysearch/server/internal/httpclient"
	"propertysearch/server/internal/models"
	"propertysearch/server/internal/retry"
)

const (
	DefaultEndpoint = "https://api.propertylog.net/api/properties"
	// Referer the history service expects on every request.
	Referer = "https://www.rightmove.co.uk/"
)

var priceRegex = regexp.MustCompile(`([0-9]+,)*[0-9]+`)

type propertiesResponse struct {
	Properties map[string]propertyResponse `json:"properties"`
}

type propertyResponse struct {
	Prices []priceResponse `json:"prices"`
}

type priceResponse struct {
	Date  string `json:"date"` // DD/MM/YYYY
	Price string `json:"price"`
}

type Config struct {
	Endpoint      string
	User          string
	MaxRetryCount int
	RetryDelay    time.Duration
}

// Source batch-fetches price histories. The injected client should carry
// the Referer above and its own connection cap.
type Source struct {
	client   *httpclient.Client
	logger   *logrus.Logger
	endpoint string
	user     string
	policy   retry.Policy
}

func NewSource(client *httpclient.Client, cfg Config, logger *logrus.Logger) *Source {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Source{
		client:   client,
		logger:   logger,
		endpoint: endpoint,
		user:     cfg.User,
		policy:   retry.Fixed(cfg.MaxRetryCount, cfg.RetryDelay),
	}
}

// GetHistory returns one history per listing the service knows about, with
// records sorted by date ascending. Malformed records are dropped.
func (s *Source) GetHistory(ctx context.Context, ids []int64) ([]models.PriceHistory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	form := url.Values{}
	for i, id := range ids {
		form.Set(fmt.Sprintf("properties[%d][id]", i), strconv.FormatInt(id, 10))
		form.Set(fmt.Sprintf("properties[%d][price]", i), "")
	}
	form.Set("user", s.user)

	var res propertiesResponse
	err := retry.Do(ctx, s.policy, func() error {
		resp, err := s.client.PostWithForm(ctx, s.endpoint, form)
		if err != nil {
			return err
		}
		res = propertiesResponse{}
		return resp.DecodeJSON(&res, fmt.Sprintf("price history of %d listings", len(ids)))
	}, func(err error, wait time.Duration, remaining int) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"listings":      len(ids),
			"attempts_left": remaining + 1,
			"retry_in":      wait.String(),
		}).Warn("Price history query failed, retrying")
	})
	if err != nil {
		s.logger.WithError(err).WithField("listings", len(ids)).Warn("Ran out of price history retries")
		return nil, fmt.Errorf("failed to fetch price history: %w", err)
	}

	histories := make([]models.PriceHistory, 0, len(res.Properties))
	for key, property := range res.Properties {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.logger.WithField("id", key).Warn("Dropping price history with non-numeric id")
			continue
		}
		histories = append(histories, models.PriceHistory{
			ID:      id,
			Records: s.parseRecords(id, property.Prices),
		})
	}
	sort.Slice(histories, func(i, j int) bool {
		return histories[i].ID < histories[j].ID
	})

	return histories, nil
}

func (s *Source) parseRecords(id int64, prices []priceResponse) []models.PriceRecord {
	records := make([]models.PriceRecord, 0, len(prices))
	for _, p := range prices {
		date, err := time.Parse("02/01/2006", strings.TrimSpace(p.Date))
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"id": id, "date": p.Date}).Warn("Dropping price record with invalid date")
			continue
		}
		price, err := parsePrice(p.Price)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"id": id, "price": p.Price}).Warn("Dropping price record with invalid price")
			continue
		}
		records = append(records, models.PriceRecord{Date: date, Price: price})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
	return records
}

// parsePrice reads the first comma-grouped number, e.g. "£1,250,000" or "£2,300 pcm".
func parsePrice(s string) (int64, error) {
	m := priceRegex.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no number in price %q", s)
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q: %w", s, err)
	}
	return v, nil
}
