package rating

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"

	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/model"
)

// Type selects how a raw rating turns into an authority score.
type Type int

const (
	// Log scores ln(raw*coeff + shift), floored at 0.3.
	Log Type = iota
	// Raw scores raw*coeff.
	Raw
	// One scores every host as 1.
	One
)

func (t Type) String() string {
	switch t {
	case Log:
		return "log"
	case Raw:
		return "raw"
	case One:
		return "one"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// logFloor is the minimum score returned under Log.
const logFloor = 0.3

// Geo holds raw ratings and audience shares per country, in percent.
type Geo struct {
	raw     map[string]float64
	shares  map[string]map[string]float64
	unknown float64
}

type geoRecord struct {
	Host    string             `json:"host"`
	Rating  float64            `json:"rating"`
	Country map[string]float64 `json:"country"`
}

// NewGeo returns an empty table.
func NewGeo(unknown float64) *Geo {
	return &Geo{
		raw:     make(map[string]float64),
		shares:  make(map[string]map[string]float64),
		unknown: unknown,
	}
}

// ParseGeo reads a JSON array of {host, rating, country:{code:share}}.
func ParseGeo(r io.Reader, unknown float64) (*Geo, error) {
	var records []geoRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode geo rating: %w", err)
	}
	g := NewGeo(unknown)
	for _, rec := range records {
		g.Set(rec.Host, rec.Rating, rec.Country)
	}
	return g, nil
}

// LoadGeo reads the table from path. Missing or malformed files degrade to an
// empty table.
func LoadGeo(path string, unknown float64) *Geo {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || path == "" {
			logging.Warn("geo rating file is not available", "path", path)
		} else {
			logging.Warn("geo rating file unreadable", "path", path, "err", err)
		}
		return NewGeo(unknown)
	}
	defer f.Close()

	g, err := ParseGeo(f, unknown)
	if err != nil {
		logging.Warn("geo rating file malformed", "path", path, "err", err)
		return NewGeo(unknown)
	}
	return g
}

// Set records a host's raw rating and country shares.
func (g *Geo) Set(host string, rating float64, shares map[string]float64) {
	g.raw[host] = rating
	m := make(map[string]float64, len(shares))
	for code, share := range shares {
		m[code] = share
	}
	g.shares[host] = m
}

// RawRating returns the host's rating or the unknown rating.
func (g *Geo) RawRating(host string) float64 {
	if v, ok := g.raw[host]; ok {
		return v
	}
	return g.unknown
}

// CountryShare returns the percentage of host's audience in code, or 0.
func (g *Geo) CountryShare(host, code string) float64 {
	return g.shares[host][code]
}

// ScoreHost returns the authority of host for documents in lang.
//
// English sources are credited for their audience outside the US and GB.
// Other languages are credited for their Russian audience.
func (g *Geo) ScoreHost(host string, lang model.Language, typ Type, shift float64) float64 {
	if typ == One {
		return 1
	}

	raw := g.RawRating(host)
	var coeff float64
	if lang == model.LanguageEN {
		coeff = (100 - g.CountryShare(host, "US") - g.CountryShare(host, "GB")) / 100
	} else {
		coeff = g.CountryShare(host, "RU")
	}

	switch typ {
	case Log:
		return math.Max(math.Log(raw*coeff+shift), logFloor)
	case Raw:
		return raw * coeff
	}
	return 1
}

func (g *Geo) Len() int { return len(g.raw) }
