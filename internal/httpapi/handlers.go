package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/quillnote/semanticd/internal/search"
)

// ReindexRequest is the request body for POST /v1/documents/:id/reindex.
// Content is optional; when absent the document source supplies it.
type ReindexRequest struct {
	Content *string `json:"content,omitempty"`
}

// ReindexResponse is the response body for POST /v1/documents/:id/reindex.
type ReindexResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// SearchResponse is the response body for GET /v1/search.
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReindex(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	documentID := c.Param("id")
	ctx := c.Request().Context()

	if err := s.authorize(ctx, p, documentID); err != nil {
		return err
	}

	var req ReindexRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			s.logger.Warn("invalid reindex request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	var content string
	switch {
	case req.Content != nil:
		content = *req.Content
	case s.docs != nil:
		content, err = s.docs.Content(ctx, p, documentID)
		if err != nil {
			return httpError(err)
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	cfg, err := s.configs.ActiveEmbeddingConfig(ctx, p)
	if err != nil {
		return httpError(err)
	}
	if cfg == nil {
		return httpError(search.ErrConfigurationMissing)
	}
	provider, err := s.regs.Provider(*cfg)
	if err != nil {
		return httpError(err)
	}

	if err := s.writer.Reindex(ctx, p, documentID, content, provider); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ReindexResponse{DocumentID: documentID, Status: "indexed"})
}

func (s *Server) handleRemoveIndex(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	documentID := c.Param("id")

	if err := s.authorize(c.Request().Context(), p, documentID); err != nil {
		return err
	}

	if err := s.writer.Remove(c.Request().Context(), documentID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// authorize rejects write-side operations on documents the principal cannot
// read.
func (s *Server) authorize(ctx context.Context, principal, documentID string) error {
	ok, err := s.perms.CanRead(ctx, principal, documentID)
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "access to document denied")
	}
	return nil
}

func (s *Server) handleSearch(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}

	opts := search.Options{K: s.cfg.DefaultK, Threshold: s.cfg.DefaultThreshold}
	if raw := c.QueryParam("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		opts.K = k
	}
	if raw := c.QueryParam("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 32)
		if err != nil || threshold < 0 || threshold > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "threshold must be within [0, 1]")
		}
		opts.Threshold = float32(threshold)
	}

	results, err := s.engine.Search(c.Request().Context(), p, query, opts)
	if err != nil {
		return httpError(err)
	}
	if results == nil {
		results = []search.Result{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}
