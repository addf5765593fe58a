package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/mitsukeru/internal/discovery"
	"github.com/hyperjump/mitsukeru/internal/geo"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/ranking"
	"github.com/hyperjump/mitsukeru/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultSearchLimit  = 20
	defaultSuggestLimit = 10
)

type discoverRequest struct {
	SearchInput string           `json:"search_input"`
	Address     *models.Address  `json:"address"`
	Radius      models.Radius    `json:"radius"`
	Rating      models.MinRating `json:"rating"`
	SortBy      string           `json:"sort_by"`
}

type searchRequest struct {
	Query   string            `json:"query"`
	Address *models.Address   `json:"address" validate:"required"`
	Limit   int               `json:"limit" validate:"gte=0,lte=100"`
	Offset  int               `json:"offset" validate:"gte=0"`
	Params  ranking.Overrides `json:"params"`
}

type recommendRequest struct {
	Address     *models.Address `json:"address" validate:"required"`
	BusinessIDs []int64         `json:"business_ids"`
}

type rankedBusiness struct {
	Business models.BusinessSummary `json:"business"`
	// Distance is null when the business has no location to measure.
	Distance *float64 `json:"distance"`
}

type scoredBusiness struct {
	rankedBusiness
	Semantic float64 `json:"semantic"`
	Score    float64 `json:"score"`
}

type discoverResponse struct {
	RequestID   string           `json:"request_id"`
	Results     []rankedBusiness `json:"results"`
	Total       int              `json:"total"`
	Relaxed     bool             `json:"relaxed"`
	QueryTimeMs int64            `json:"query_time_ms"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sortBy, err := models.ParseSortBy(req.SortBy)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address != nil {
		if err := s.validate.Struct(req.Address); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	filter := models.Filters{
		SearchInput: req.SearchInput,
		Address:     req.Address,
		Radius:      req.Radius,
		Rating:      req.Rating,
		SortBy:      sortBy,
	}
	s.logger.Debug("discover request",
		zap.String("query", filter.SearchInput),
		zap.Stringer("radius", filter.Radius),
		zap.Stringer("rating", filter.Rating),
		zap.String("sort_by", string(filter.SortBy)))

	ctx := r.Context()
	businesses, err := s.storage.ListBusinesses(ctx)
	if err != nil {
		s.logger.Error("list businesses failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var result *discovery.Result
	if key := strings.TrimSpace(r.Header.Get(headerSearchSession)); key != "" {
		result, err = s.latest.Filter(ctx, key, s.pipeline, businesses, filter)
	} else {
		result, err = s.pipeline.Filter(ctx, businesses, filter)
	}
	if errors.Is(err, discovery.ErrSuperseded) {
		s.respondError(w, http.StatusConflict, "search superseded by a newer request")
		return
	}
	if err != nil {
		s.logger.Error("discover failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]rankedBusiness, len(result.Businesses))
	for i, rb := range result.Businesses {
		results[i] = newRankedBusiness(rb.Business, rb.Distance)
	}
	s.respondJSON(w, http.StatusOK, discoverResponse{
		RequestID:   requestIDFrom(ctx),
		Results:     results,
		Total:       len(results),
		Relaxed:     result.Relaxed,
		QueryTimeMs: result.QueryTime.Milliseconds(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("limit", req.Limit))

	ctx := r.Context()
	businesses, err := s.storage.ListBusinesses(ctx)
	if err != nil {
		s.logger.Error("list businesses failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	params := s.searchParams.Apply(req.Params)
	scored := ranking.NewRanker(&params).Rank(req.Query, *req.Address, businesses)
	total := len(scored)
	scored = ranking.Paginate(scored, req.Offset, req.Limit)

	results := make([]scoredBusiness, len(scored))
	for i, sc := range scored {
		b := businesses[sc.Index]
		results[i] = scoredBusiness{
			rankedBusiness: newRankedBusiness(b, sc.Score.Distance),
			Semantic:       sc.Score.Semantic,
			Score:          sc.Score.Combined,
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestIDFrom(ctx),
		"results":    results,
		"total":      total,
		"params":     params,
	})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	businesses, err := s.storage.ListBusinesses(ctx)
	if err != nil {
		s.logger.Error("list businesses failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(req.BusinessIDs) > 0 {
		businesses = selectBusinesses(businesses, req.BusinessIDs)
	}

	ordered := businesses
	if s.recommender != nil {
		ordered = s.recommender.Recommend(ctx, businesses, req.Address)
	}
	results := make([]rankedBusiness, len(ordered))
	for i, b := range ordered {
		d := geo.MinDistance(req.Address.Latitude, req.Address.Longitude, b.Locations, false)
		results[i] = newRankedBusiness(b, d)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestIDFrom(ctx),
		"results":    results,
		"total":      len(results),
	})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		s.respondError(w, http.StatusNotImplemented, "name index not enabled")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := defaultSuggestLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	ctx := r.Context()
	hits, err := s.index.Suggest(ctx, q, limit, nil)
	if err != nil {
		s.logger.Error("suggest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type suggestion struct {
		ID    int64   `json:"id"`
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	out := make([]suggestion, 0, len(hits))
	for _, h := range hits {
		b, err := s.storage.GetBusiness(ctx, h.BusinessID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("suggest lookup failed", zap.Int64("id", h.BusinessID), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, suggestion{ID: b.ID, Name: b.Name, Score: h.Score})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"suggestions": out})
}

func (s *Server) handleGetBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := s.businessID(w, r)
	if !ok {
		return
	}
	b, err := s.storage.GetBusiness(r.Context(), id)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) handlePutBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := s.businessID(w, r)
	if !ok {
		return
	}
	var b models.BusinessSummary
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b.ID = id
	if err := s.validate.Struct(b); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("upsert business request", zap.Int64("id", id), zap.String("name", b.Name))

	ctx := r.Context()
	if err := s.storage.UpsertBusiness(ctx, &b); err != nil {
		s.logger.Error("upsert business failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.index != nil {
		if err := s.index.Index(ctx, &b); err != nil {
			s.logger.Warn("name index update failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, &b)
}

func (s *Server) handleDeleteBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := s.businessID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete business request", zap.Int64("id", id))
	ctx := r.Context()
	if err := s.storage.DeleteBusiness(ctx, id); err != nil {
		s.respondStorageError(w, err)
		return
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			s.logger.Warn("name index delete failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts := make(map[string]int64, 3)
	for name, count := range map[string]func() (int64, error){
		"businesses":   func() (int64, error) { return s.storage.CountBusinesses(ctx) },
		"profiles":     func() (int64, error) { return s.storage.CountProfiles(ctx) },
		"appointments": func() (int64, error) { return s.storage.CountAppointments(ctx) },
	} {
		n, err := count()
		if err != nil {
			s.logger.Error("status: count failed", zap.String("table", name), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		counts[name] = n
	}

	resp := map[string]interface{}{
		"businesses":   counts["businesses"],
		"profiles":     counts["profiles"],
		"appointments": counts["appointments"],
		"in_flight":    s.latest.InFlight(),
	}
	if s.index != nil {
		if n, err := s.index.DocCount(); err == nil {
			resp["name_index_size"] = n
		}
	}

	pipeline := s.pipeline.Params()
	configInfo := map[string]interface{}{
		"storage_driver":  s.cfg.Storage.Driver,
		"search_params":   s.searchParams,
		"pipeline_params": pipeline,
	}
	if s.recommender != nil {
		configInfo["recommend_params"] = s.recommender.Params()
	}
	if s.cfg.Storage.Driver == "sqlite" {
		configInfo["database_path"] = s.cfg.Storage.DatabasePath
	}
	configInfo["bleve_index_path"] = s.cfg.Storage.BleveIndexPath
	if diskBytes, err := storage.DiskUsage(s.cfg.Storage.DatabasePath, s.cfg.Storage.BleveIndexPath); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) businessID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid business id")
		return 0, false
	}
	return id, true
}

func (s *Server) respondStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "business not found")
		return
	}
	s.logger.Error("storage request failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func newRankedBusiness(b models.BusinessSummary, distance float64) rankedBusiness {
	rb := rankedBusiness{Business: b}
	if !math.IsInf(distance, 0) && !math.IsNaN(distance) {
		d := distance
		rb.Distance = &d
	}
	return rb
}

// selectBusinesses keeps businesses whose id is in ids, preserving their order.
func selectBusinesses(businesses []models.BusinessSummary, ids []int64) []models.BusinessSummary {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]models.BusinessSummary, 0, len(ids))
	for _, b := range businesses {
		if _, ok := want[b.ID]; ok {
			out = append(out, b)
		}
	}
	return out
}
