// Package sentiment reads a historical Fear & Greed index dataset and
// answers simple market-mood queries. The CSV needs "date" and
// "fear_greed_score" columns; anything else is carried along unread.
package sentiment

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/Ridh1234/Primetrade-Binance-trading-bot/internal/orders"
)

// Default thresholds for mood classification.
const (
	FearThreshold  = 40
	GreedThreshold = 70
)

// Entry is one dated index reading.
type Entry struct {
	Date  time.Time
	Score float64
}

// Index holds the loaded dataset, sorted by date ascending.
type Index struct {
	entries []Entry
}

// Load parses the Fear & Greed CSV at path.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sentiment file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read sentiment csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, orders.Validationf("sentiment csv is empty")
	}

	dateCol, scoreCol := -1, -1
	for i, name := range rows[0] {
		switch name {
		case "date":
			dateCol = i
		case "fear_greed_score":
			scoreCol = i
		}
	}
	if dateCol < 0 || scoreCol < 0 {
		return nil, orders.Validationf("sentiment csv missing required columns: date, fear_greed_score")
	}

	idx := &Index{}
	for n, row := range rows[1:] {
		if len(row) <= dateCol || len(row) <= scoreCol {
			continue
		}
		date, err := time.Parse("2006-01-02", row[dateCol])
		if err != nil {
			return nil, fmt.Errorf("sentiment row %d: bad date %q: %w", n+2, row[dateCol], err)
		}
		score, err := strconv.ParseFloat(row[scoreCol], 64)
		if err != nil {
			return nil, fmt.Errorf("sentiment row %d: bad score %q: %w", n+2, row[scoreCol], err)
		}
		idx.entries = append(idx.entries, Entry{Date: date, Score: score})
	}
	if len(idx.entries) == 0 {
		return nil, orders.Validationf("sentiment csv has no data rows")
	}
	sort.Slice(idx.entries, func(i, j int) bool {
		return idx.entries[i].Date.Before(idx.entries[j].Date)
	})
	return idx, nil
}

// Latest returns the most recent reading.
func (idx *Index) Latest() Entry {
	return idx.entries[len(idx.entries)-1]
}

// Len returns the number of readings.
func (idx *Index) Len() int { return len(idx.entries) }

// IsFearHigh reports whether the latest score is below the fear threshold.
func (idx *Index) IsFearHigh() bool {
	return idx.Latest().Score < FearThreshold
}

// IsGreedHigh reports whether the latest score is above the greed threshold.
func (idx *Index) IsGreedHigh() bool {
	return idx.Latest().Score > GreedThreshold
}
