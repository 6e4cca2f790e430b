package main

import (
	"fmt"

	"github.com/abelbrown/storyline/internal/clustering"
	"github.com/abelbrown/storyline/internal/config"
	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/otel"
	"github.com/abelbrown/storyline/internal/rating"
	"github.com/abelbrown/storyline/internal/ranking"
	"github.com/abelbrown/storyline/internal/store"
	"github.com/abelbrown/storyline/internal/summarize"
)

// newBuilder wires the clustering pipeline from cfg over st.
func newBuilder(cfg *config.Config, st store.DocStore, events *otel.Logger) (*coord.Builder, error) {
	langs, err := cfg.ClusteringConfigs()
	if err != nil {
		return nil, err
	}
	cl, err := clustering.New(clustering.Options{
		Languages:               langs,
		IterTimestampPercentile: cfg.Index.IterTimestampPercentile,
		Parallelism:             cfg.Index.Parallelism,
		Observer:                coord.ObserveMerges,
	})
	if err != nil {
		return nil, fmt.Errorf("clusterer: %w", err)
	}
	sum, err := newSummarizer(cfg)
	if err != nil {
		return nil, err
	}
	return coord.NewBuilder(st, cl, sum, events), nil
}

// newSummarizer loads the rating tables named in cfg. Missing files give
// empty tables.
func newSummarizer(cfg *config.Config) (*summarize.Summarizer, error) {
	agency, err := rating.LoadAgency(cfg.Rating.AgencyPath, rating.AgencyOptions{
		UnknownRating:   cfg.Rating.AgencyUnknown,
		SetMinAsUnknown: cfg.Rating.SetMinAsUnknown,
	})
	if err != nil {
		return nil, fmt.Errorf("agency rating: %w", err)
	}
	geo := rating.LoadGeo(cfg.Rating.GeoPath, cfg.Rating.GeoUnknown)
	return summarize.New(agency, geo), nil
}

func newRanker(cfg *config.Config) *ranking.Ranker {
	return ranking.NewRanker(cfg.Ranker.MinClusterSize)
}

// openEvents opens the configured event sink with an attached ring buffer
// of size ringSize. Without index.event_log events only reach the ring.
func openEvents(cfg *config.Config, ringSize int) (*otel.Logger, *otel.RingBuffer, error) {
	var (
		events *otel.Logger
		err    error
	)
	if cfg.Index.EventLog != "" {
		events, err = otel.OpenFile(cfg.Index.EventLog)
		if err != nil {
			return nil, nil, err
		}
	} else {
		events = otel.NewNullLogger()
	}
	ring := otel.NewRingBuffer(ringSize)
	events.SetRingBuffer(ring)
	return events, ring, nil
}
