// Package rightmove resolves UK locations to search tokens and retrieves
// normalized listing sets from the Rightmove search API.
package rightmove

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"propertysearch/server/internal/httpclient"
	"propertysearch/server/internal/models"
	"propertysearch/server/internal/retry"
)

const (
	DefaultBaseURL = "https://www.rightmove.co.uk"
	PageSize       = 24
)

var (
	// ErrLocationNotFound is returned when no lookup yields a location token.
	ErrLocationNotFound = errors.New("location identifier not found")

	// ErrUnrecognizedPriceFrequency means the search API changed its price contract.
	ErrUnrecognizedPriceFrequency = errors.New("unrecognized price frequency")
)

// subtypeBlacklist holds property subtypes that never describe a home.
var subtypeBlacklist = map[string]struct{}{
	"Garages":       {},
	"Hotel Room":    {},
	"Land":          {},
	"Plot":          {},
	"Parking":       {},
	"Not Specified": {},
	"Office":        {},
}

var transactedStatuses = map[string]struct{}{
	"let agreed":               {},
	"sold subject to contract": {},
	"under offer":              {},
}

const priceReducedReason = "price_reduced"

var (
	squareFeetRegex  = regexp.MustCompile(`([0-9]+(?:,[0-9]{3})*(?:\.[0-9]+)?)\s*sq\.\s*ft\.`)
	scrapeTokenRegex = regexp.MustCompile(`"locationIdentifier"\s*:\s*"([^"]+)"`)
)

type Config struct {
	BaseURL string
	// Whole-page retries layered over the client's transient retries.
	PageRetryCount int
	PageRetryDelay time.Duration
}

// Source is the Rightmove listing source. It is safe for concurrent use;
// all requests share the concurrency gate of the injected client.
type Source struct {
	client  *httpclient.Client
	logger  *logrus.Logger
	baseURL string
	paging  retry.Policy
}

func NewSource(client *httpclient.Client, cfg Config, logger *logrus.Logger) *Source {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{
		client:  client,
		logger:  logger,
		baseURL: baseURL,
		paging:  retry.Fixed(cfg.PageRetryCount, cfg.PageRetryDelay),
	}
}

// ResolveLocation maps free text, usually a postcode, to an opaque location
// token. It tries the type-ahead endpoint first, then probes the search page
// without following redirects, then scrapes the page body.
func (s *Source) ResolveLocation(ctx context.Context, location string) (string, error) {
	location = strings.ToUpper(strings.TrimSpace(location))
	if location == "" {
		return "", fmt.Errorf("%w: empty location", ErrLocationNotFound)
	}

	token, err := s.typeAhead(ctx, location)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}

	token, err = s.probe(ctx, location)
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}

	return "", fmt.Errorf("%w for %q", ErrLocationNotFound, location)
}

func (s *Source) typeAhead(ctx context.Context, location string) (string, error) {
	var chunks []string
	runes := []rune(location)
	for i := 0; i < len(runes); i += 2 {
		end := min(i+2, len(runes))
		chunks = append(chunks, url.PathEscape(string(runes[i:end])))
	}
	target := s.baseURL + "/typeAhead/uknostreet/" + strings.Join(chunks, "/")

	resp, err := s.client.Get(ctx, target)
	if err != nil {
		return "", fmt.Errorf("failed to query type-ahead for %q: %w", location, err)
	}
	if err := resp.OK(); err != nil {
		s.logger.WithError(err).WithField("location", location).Debug("Type-ahead lookup rejected")
		return "", nil
	}

	var res typeAheadResponse
	if err := resp.DecodeJSON(&res, "type-ahead locations"); err != nil {
		return "", err
	}
	for _, l := range res.TypeAheadLocations {
		if l.LocationIdentifier != "" {
			return l.LocationIdentifier, nil
		}
	}
	return "", nil
}

func (s *Source) probe(ctx context.Context, location string) (string, error) {
	query := url.Values{"searchLocation": {location}}
	resp, err := s.client.GetWithOptions(ctx, s.baseURL+"/property-for-sale/search.html", query, false)
	if err != nil {
		return "", fmt.Errorf("failed to probe search page for %q: %w", location, err)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		redirect, err := url.Parse(resp.Header.Get("Location"))
		if err != nil {
			s.logger.WithError(err).WithField("location", location).Debug("Unparseable redirect")
			return "", nil
		}
		return redirect.Query().Get("locationIdentifier"), nil
	case resp.StatusCode == 200:
		if m := scrapeTokenRegex.FindSubmatch(resp.Body); m != nil {
			return string(m[1]), nil
		}
	}
	return "", nil
}

// Search returns the deduplicated, filtered and normalized listings for one
// token, action, bedroom count and radius in miles. An empty token yields an
// empty set.
func (s *Source) Search(ctx context.Context, token string, action models.PropertyAction, numBeds int, radius float64) ([]models.Listing, error) {
	if token == "" {
		return nil, nil
	}

	first, err := s.searchPage(ctx, token, action, numBeds, radius, 0)
	if err != nil {
		return nil, err
	}

	raw := first.Properties
	if total := first.Pagination.Total; total > 1 {
		// Indexed by page number so concatenation follows page order, not arrival order
		pages := make([][]propertyResponse, total)
		g, gctx := errgroup.WithContext(ctx)
		for page := 1; page < total; page++ {
			page := page
			g.Go(func() error {
				res, err := s.searchPage(gctx, token, action, numBeds, radius, page)
				if err != nil {
					return err
				}
				pages[page] = res.Properties
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, properties := range pages[1:] {
			raw = append(raw, properties...)
		}
	}

	listings, err := normalize(dedup(filter(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to normalize listings for %s: %w", token, err)
	}

	s.logger.WithFields(logrus.Fields{
		"location": token,
		"action":   action.String(),
		"num_beds": numBeds,
		"radius":   radius,
		"listings": len(listings),
	}).Debug("Search completed")

	return listings, nil
}

func (s *Source) searchPage(ctx context.Context, token string, action models.PropertyAction, numBeds int, radius float64, page int) (*searchResponse, error) {
	channel, err := channelFor(action)
	if err != nil {
		return nil, err
	}

	beds := strconv.Itoa(numBeds)
	query := url.Values{
		"locationIdentifier":        {token},
		"maxBedrooms":               {beds},
		"minBedrooms":               {beds},
		"numberOfPropertiesPerPage": {strconv.Itoa(PageSize)},
		"radius":                    {strconv.FormatFloat(radius, 'f', -1, 64)},
		"index":                     {strconv.Itoa(page * PageSize)},
		"includeSSTC":               {"true"},
		"viewType":                  {"LIST"},
		"channel":                   {channel},
		"areaSizeUnit":              {"sqft"},
		"currencyCode":              {"GBP"},
	}

	var res searchResponse
	err = retry.Do(ctx, s.paging, func() error {
		resp, err := s.client.GetWithOptions(ctx, s.baseURL+"/api/_search", query, true)
		if err != nil {
			return classifyPageError(err)
		}
		return classifyPageError(resp.DecodeJSON(&res, "search page"))
	}, func(err error, wait time.Duration, remaining int) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"location":  token,
			"page":      page,
			"remaining": remaining,
			"wait":      wait.String(),
		}).Warn("Search page failed, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch search page %d for %s: %w", page, token, err)
	}
	return &res, nil
}

// classifyPageError decides which page failures are worth another full attempt.
// The search API answers with spurious 400s, so only status errors are retried;
// the client has already spent its own retries on transient failures.
func classifyPageError(err error) error {
	if err == nil {
		return nil
	}
	var decodeErr *httpclient.DecodeError
	if errors.As(err, &decodeErr) || errors.Is(err, httpclient.ErrFetchExhausted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Permanent(err)
	}
	return err
}

func channelFor(action models.PropertyAction) (string, error) {
	switch action {
	case models.PropertyActionBuy:
		return "BUY", nil
	case models.PropertyActionRent:
		return "RENT", nil
	default:
		return "", fmt.Errorf("unsupported property action %d", action)
	}
}

func filter(properties []propertyResponse) []propertyResponse {
	kept := make([]propertyResponse, 0, len(properties))
	for _, p := range properties {
		if _, blocked := subtypeBlacklist[p.PropertySubType]; blocked {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// dedup sorts by id and keeps the first of each run of equal ids in page order.
func dedup(properties []propertyResponse) []propertyResponse {
	sorted := make([]propertyResponse, len(properties))
	copy(sorted, properties)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	out := sorted[:0]
	for i, p := range sorted {
		if i > 0 && p.ID == sorted[i-1].ID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalize(properties []propertyResponse) ([]models.Listing, error) {
	listings := make([]models.Listing, 0, len(properties))
	for _, p := range properties {
		price, err := monthlyPrice(p.Price)
		if err != nil {
			return nil, fmt.Errorf("listing %d: %w", p.ID, err)
		}
		postDate, err := time.Parse(time.RFC3339, p.FirstVisibleDate)
		if err != nil {
			return nil, fmt.Errorf("listing %d: invalid first visible date %q: %w", p.ID, p.FirstVisibleDate, err)
		}

		listing := models.Listing{
			ID:          p.ID,
			Coordinates: orb.Point{p.Location.Longitude, p.Location.Latitude},
			Price:       price,
			SquareFeet:  parseSquareFeet(p.DisplaySize),
			PostDate:    postDate.UTC(),
		}
		if p.ListingUpdate.ListingUpdateReason == priceReducedReason && p.ListingUpdate.ListingUpdateDate != "" {
			reduced, err := time.Parse(time.RFC3339, p.ListingUpdate.ListingUpdateDate)
			if err != nil {
				return nil, fmt.Errorf("listing %d: invalid update date %q: %w", p.ID, p.ListingUpdate.ListingUpdateDate, err)
			}
			reduced = reduced.UTC()
			listing.ReducedDate = &reduced
		}
		_, listing.Transacted = transactedStatuses[p.DisplayStatus]

		listings = append(listings, listing)
	}
	return listings, nil
}

// monthlyPrice converts rental amounts to a monthly equivalent. Buy listings
// carry no frequency and keep their amount.
func monthlyPrice(price priceResponse) (float64, error) {
	switch price.Frequency {
	case "", "not specified", "monthly":
		return price.Amount, nil
	case "weekly":
		return price.Amount * 52 / 12, nil
	case "yearly":
		return price.Amount / 12, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnrecognizedPriceFrequency, price.Frequency)
	}
}

func parseSquareFeet(displaySize string) *int {
	m := squareFeetRegex.FindStringSubmatch(displaySize)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v < 1 {
		return nil
	}
	sqft := int(v)
	return &sqft
}
