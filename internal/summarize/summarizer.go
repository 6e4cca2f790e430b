package summarize

import (
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/rating"
)

// Summarizer scores every cluster of a clustering run.
type Summarizer struct {
	agency *rating.Agency
	geo    *rating.Geo
}

// New returns a Summarizer. Nil tables are replaced by empty ones that
// score every host with a zero unknown rating.
func New(agency *rating.Agency, geo *rating.Geo) *Summarizer {
	if agency == nil {
		agency = rating.NewAgency(rating.AgencyOptions{})
	}
	if geo == nil {
		geo = rating.NewGeo(0)
	}
	return &Summarizer{agency: agency, geo: geo}
}

// Summarize orders members, computes importance and resolves the category
// of each cluster in place.
func (s *Summarizer) Summarize(clusters []*model.Cluster) {
	for _, c := range clusters {
		Summarize(c, s.agency)
		ComputeImportance(c, s.geo)
		ResolveCategory(c)
	}
}
