// Package aggregator turns listing sets into fixed-shape property statistics.
package aggregator

import (
	"sort"
	"time"

	"propertysearch/server/internal/models"
	"propertysearch/server/internal/stats"
)

const (
	day         = 24 * time.Hour
	daysInMonth = 30.0
)

// CalculateStats summarises listings and their price histories as of now.
// Listed days depend on now, so recomputing later yields different numbers.
func CalculateStats(listings []models.Listing, histories []models.PriceHistory, now time.Time) models.PropertyStats {
	prices := make([]float64, 0, len(listings))
	listedDays := make([]int64, 0, len(listings))
	squareFeet := make([]int, 0, len(listings))
	transacted := 0

	for _, l := range listings {
		prices = append(prices, l.Price)
		listedDays = append(listedDays, int64(now.Sub(l.PostDate)/day))
		if l.SquareFeet != nil {
			squareFeet = append(squareFeet, *l.SquareFeet)
		}
		if l.Transacted {
			transacted++
		}
	}

	// The transacted ratio is repeated once per listing so it fits the
	// same summary shape as the other metrics.
	percentTransacted := make([]float64, len(listings))
	if len(listings) > 0 {
		ratio := float64(transacted) / float64(len(listings))
		for i := range percentTransacted {
			percentTransacted[i] = ratio
		}
	}

	changes := make([]float64, 0, len(histories))
	for _, h := range histories {
		changes = append(changes, OneMonthPctChange(h.Records))
	}

	return models.PropertyStats{
		Price:             stats.FromSlice(prices),
		ListedDays:        stats.FromSlice(listedDays),
		PercentTransacted: stats.FromSlice(percentTransacted),
		SquareFeet:        stats.FromSlice(squareFeet),
		OneMonthPctChange: stats.FromSlice(changes),
	}
}

// OneMonthPctChange is the change between the last two records scaled to a
// 30 day month. Fewer than two records, or an unchanged price, yield 0.
func OneMonthPctChange(records []models.PriceRecord) float64 {
	if len(records) < 2 {
		return 0
	}

	sorted := make([]models.PriceRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	prev, last := sorted[len(sorted)-2], sorted[len(sorted)-1]
	if prev.Price == last.Price || prev.Price == 0 {
		return 0
	}

	days := int64(last.Date.Sub(prev.Date) / day)
	if days < 1 {
		days = 1
	}

	change := float64(last.Price-prev.Price) / float64(prev.Price)
	return change * (daysInMonth / float64(days))
}
