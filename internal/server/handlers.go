package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/search"
	"github.com/hyperjump/ronbun/internal/storage"
	"github.com/hyperjump/ronbun/internal/vector"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		status := searchErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("search failed", zap.Error(err))
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

// searchErrorStatus maps query errors to HTTP status codes.
func searchErrorStatus(err error) int {
	switch {
	case errors.Is(err, search.ErrInvalidQuery), errors.Is(err, vector.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrEncodeFailure):
		return http.StatusBadGateway
	case errors.Is(err, search.ErrNoSnapshot):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := s.storage.GetDocument(r.Context(), id)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("get document failed", zap.Int64("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleFacets(w http.ResponseWriter, r *http.Request) {
	facets, err := s.storage.Facets(r.Context())
	if err != nil {
		s.logger.Error("facets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, facets)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type snapshotStatus struct {
	BuildID   string          `json:"build_id"`
	Vectors   int             `json:"vectors"`
	Dimension int             `json:"dimension"`
	Model     string          `json:"model"`
	LoadedAt  time.Time       `json:"loaded_at"`
	Report    *indexer.Report `json:"report,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	docCount, err := s.storage.CountDocuments(r.Context())
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents": docCount,
	}
	if snap := s.holder.Load(); snap != nil {
		resp["index"] = snapshotStatus{
			BuildID:   snap.BuildID,
			Vectors:   snap.Index.Size(),
			Dimension: snap.Index.Dimensions(),
			Model:     snap.IDs.ModelName,
			LoadedAt:  snap.LoadedAt,
			Report:    snap.Report,
		}
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_model":      s.config.Embedding.ModelName,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"overfetch":            s.config.Search.Overfetch,
			"database_path":        s.config.Storage.DatabasePath,
			"index_dir":            s.config.Storage.IndexDir,
		}
		diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.IndexDir)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		s.respondError(w, http.StatusNotImplemented, "reload not enabled")
		return
	}
	swapped, err := s.reload()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, indexer.ErrConfig) {
			status = http.StatusConflict
		}
		s.logger.Error("reload failed", zap.Error(err))
		s.respondError(w, status, err.Error())
		return
	}
	result := "unchanged"
	if swapped {
		result = "reloaded"
	}
	buildID := ""
	if snap := s.holder.Load(); snap != nil {
		buildID = snap.BuildID
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": result, "build_id": buildID})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
