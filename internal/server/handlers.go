package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/abelbrown/storyline/internal/clustering"
	"github.com/abelbrown/storyline/internal/coord"
	"github.com/abelbrown/storyline/internal/model"
	"github.com/abelbrown/storyline/internal/otel"
	"github.com/abelbrown/storyline/internal/store"
)

const (
	defaultEventCount = 100
	maxEventCount     = 5000
)

type threadsResponse struct {
	Threads []coord.Thread `json:"threads"`
}

type documentResponse struct {
	Filename  string         `json:"fname"`
	Status    string         `json:"status"`
	Title     string         `json:"title,omitempty"`
	Language  model.Language `json:"lang,omitempty"`
	Category  model.Category `json:"category,omitempty"`
	PubTime   uint64         `json:"pubtime,omitempty"`
	FetchTime uint64         `json:"fetchtime,omitempty"`
	TTL       uint64         `json:"ttl,omitempty"`
}

type healthResponse struct {
	Status        string                                      `json:"status"`
	Version       string                                      `json:"version,omitempty"`
	BuiltAt       *time.Time                                  `json:"built_at,omitempty"`
	IterTimestamp uint64                                      `json:"iter_timestamp,omitempty"`
	MaxTimestamp  uint64                                      `json:"max_timestamp,omitempty"`
	Languages     map[model.Language]clustering.LanguageStats `json:"languages,omitempty"`
}

func (s *Server) handleThreads(c echo.Context) error {
	period, err := strconv.ParseUint(c.QueryParam("period"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "period must be a non-negative integer")
	}
	lang := model.ParseLanguage(c.QueryParam("lang_code"))
	if lang == model.LanguageUndefined {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown lang_code")
	}
	cat := model.ParseCategory(c.QueryParam("category"))
	if cat == model.CategoryUndefined || cat == model.CategoryNotNews {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
	}

	idx := s.opts.Holder.Load()
	if idx == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "index is not built yet")
	}

	threads := coord.Threads(idx, s.opts.Ranker, coord.Query{
		Period:   period,
		Language: lang,
		Category: cat,
		Limit:    s.opts.ThreadLimit,
	})
	return c.JSON(http.StatusOK, threadsResponse{Threads: threads})
}

func (s *Server) handlePutDocument(c echo.Context) error {
	name := c.Param("name")
	ttl, ok := parseMaxAge(c.Request().Header.Get("Cache-Control"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Cache-Control: max-age=N is required")
	}

	var doc model.Document
	if err := json.NewDecoder(c.Request().Body).Decode(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document body").SetInternal(err)
	}
	doc.Filename = name
	doc.TTL = ttl
	if doc.Host == "" {
		doc.Host = model.HostOf(doc.URL)
	}
	if !doc.IsFullyIndexed() {
		return echo.NewHTTPError(http.StatusBadRequest, "document needs language, category and embeddings")
	}

	created, err := s.opts.Store.Put(c.Request().Context(), &doc)
	if err != nil {
		s.emitStoreError(name, err)
		return err
	}
	s.opts.Events.DocumentStored(name, doc.Language.String(), created)
	if created {
		return c.NoContent(http.StatusCreated)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetDocument(c echo.Context) error {
	name := c.Param("name")
	doc, err := s.opts.Store.Get(c.Request().Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, documentResponse{Filename: name, Status: "no such key"})
	}
	if err != nil {
		s.emitStoreError(name, err)
		return err
	}
	return c.JSON(http.StatusOK, documentResponse{
		Filename:  doc.Filename,
		Status:    "fetched",
		Title:     doc.Title,
		Language:  doc.Language,
		Category:  doc.Category,
		PubTime:   doc.PubTime,
		FetchTime: doc.FetchTime,
		TTL:       doc.TTL,
	})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	name := c.Param("name")
	existed, err := s.opts.Store.Delete(c.Request().Context(), name)
	if err != nil {
		s.emitStoreError(name, err)
		return err
	}
	if !existed {
		return c.NoContent(http.StatusNotFound)
	}
	s.opts.Events.DocumentDeleted(name)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHealth(c echo.Context) error {
	idx := s.opts.Holder.Load()
	if idx == nil {
		return c.JSON(http.StatusOK, healthResponse{Status: "building"})
	}
	built := idx.BuiltAt
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       idx.Version,
		BuiltAt:       &built,
		IterTimestamp: idx.IterTimestamp,
		MaxTimestamp:  idx.MaxTimestamp,
		Languages:     idx.Stats(),
	})
}

// handleEvents serves the newest buffered events, oldest first.
// Query: n, kind ("index." matches a subsystem), level (minimum), comp.
func (s *Server) handleEvents(c echo.Context) error {
	n := defaultEventCount
	if raw := c.QueryParam("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "n must be a positive integer")
		}
		n = min(v, maxEventCount)
	}
	f := otel.Filter{
		Kind:     c.QueryParam("kind"),
		MinLevel: otel.Level(c.QueryParam("level")),
		Comp:     c.QueryParam("comp"),
	}
	events := s.opts.Ring.Find(f, n)
	if events == nil {
		events = []otel.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) emitStoreError(name string, err error) {
	s.logger.Error("store failed", "doc", name, "error", err)
	s.opts.Events.StoreFailed(name, err)
}

// parseMaxAge extracts N from a Cache-Control header carrying max-age=N.
// no-cache or a missing max-age fail.
func parseMaxAge(header string) (uint64, bool) {
	var (
		ttl   uint64
		found bool
	)
	for _, directive := range strings.Split(header, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		if directive == "no-cache" {
			return 0, false
		}
		v, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(strings.Trim(v, `"`), 10, 64)
		if err != nil {
			return 0, false
		}
		ttl, found = n, true
	}
	return ttl, found
}
