// Package rating scores news sources by authority.
//
// Two tables are supported. Agency is a flat host to score table read from a
// tab-separated file. Geo carries a raw rating per host plus the share of
// the host's audience per country, read from a JSON array. Missing or broken
// files never fail the pipeline: lookups fall back to the configured unknown
// rating and a warning is logged.
package rating

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/model"
)

// Agency maps a host to a scalar authority score.
type Agency struct {
	records map[string]float64
	unknown float64
}

// AgencyOptions controls how unknown hosts are scored.
type AgencyOptions struct {
	UnknownRating float64
	// SetMinAsUnknown replaces UnknownRating with the lowest score in the
	// table once it is loaded.
	SetMinAsUnknown bool
}

// NewAgency returns an empty table.
func NewAgency(opts AgencyOptions) *Agency {
	return &Agency{records: make(map[string]float64), unknown: opts.UnknownRating}
}

// ParseAgency reads "score<TAB>host" lines. Malformed lines are skipped.
func ParseAgency(r io.Reader, opts AgencyOptions) (*Agency, error) {
	a := NewAgency(opts)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			logging.Warn("agency rating: skipping line", "line", lineNo, "reason", "no tab")
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			logging.Warn("agency rating: skipping line", "line", lineNo, "err", err)
			continue
		}
		a.records[strings.TrimSpace(parts[1])] = score
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read agency rating: %w", err)
	}

	if opts.SetMinAsUnknown && len(a.records) > 0 {
		first := true
		for _, v := range a.records {
			if first || v < a.unknown {
				a.unknown = v
				first = false
			}
		}
	}
	return a, nil
}

// LoadAgency reads the table from path. A missing file yields an empty
// table.
func LoadAgency(path string, opts AgencyOptions) (*Agency, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || path == "" {
			logging.Warn("agency rating file is not available", "path", path)
			return NewAgency(opts), nil
		}
		return nil, fmt.Errorf("open agency rating: %w", err)
	}
	defer f.Close()
	return ParseAgency(f, opts)
}

// Set adds or replaces a host score.
func (a *Agency) Set(host string, score float64) {
	a.records[host] = score
}

// ScoreHost returns the host's score or the unknown rating.
func (a *Agency) ScoreHost(host string) float64 {
	if v, ok := a.records[host]; ok {
		return v
	}
	return a.unknown
}

// ScoreURL scores the host of rawURL.
func (a *Agency) ScoreURL(rawURL string) float64 {
	return a.ScoreHost(model.HostOf(rawURL))
}

// Unknown returns the score used for hosts missing from the table.
func (a *Agency) Unknown() float64 { return a.unknown }

func (a *Agency) Len() int { return len(a.records) }
