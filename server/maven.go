package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	artifactcache "github.com/wolfeidau/artifact-cache"
	"github.com/wolfeidau/artifact-cache/telemetry"
)

// trackedHeader requests tracked resolution when set to a true value.
const trackedHeader = "X-Tracked"

func isTracked(r *http.Request) bool {
	v := r.URL.Query().Get("tracked")
	if v == "" {
		v = r.Header.Get(trackedHeader)
	}
	tracked, _ := strconv.ParseBool(v)
	return tracked
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	policy := r.PathValue("policy")
	telemetry.SetPolicy(r, policy)

	req, err := artifactcache.ParseRepositoryPath(r.PathValue("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target := req.Coordinate.Target

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	var res *artifactcache.ArtifactResult
	if req.Metadata {
		telemetry.SetEndpoint(r, "metadata")
		res, err = s.cache.FetchMetadata(ctx, policy, req.Group, target)
	} else {
		telemetry.SetEndpoint(r, "artifact")
		res, err = s.cache.FetchArtifact(ctx, policy, req.Coordinate, isTracked(r))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res == nil {
		telemetry.SetCacheResult(r, telemetry.CacheMiss)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer func() { _ = res.Close() }()

	cacheResult := res.Meta(artifactcache.MetaCache)
	telemetry.SetCacheResult(r, telemetry.CacheResult(cacheResult))
	telemetry.SetRepository(r, res.Meta(artifactcache.MetaRepository))

	h := w.Header()
	h.Set("Content-Type", contentType(target))
	h.Set("X-Cache", cacheResult)
	if repo := res.Meta(artifactcache.MetaRepository); repo != "" {
		h.Set("X-Repository", repo)
	}
	if res.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(res.Size, 10))
	}
	if lm := res.Meta("last-modified"); lm != "" {
		h.Set("Last-Modified", lm)
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, res.Data); err != nil {
		s.logger.Error("failed to stream artifact", "policy", policy, "path", r.PathValue("path"), "error", err)
	}
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "deploy")
	telemetry.SetPolicy(r, r.PathValue("policy"))

	if s.deployer == nil {
		http.Error(w, "deploy not enabled", http.StatusMethodNotAllowed)
		return
	}

	req, err := artifactcache.ParseRepositoryPath(r.PathValue("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var key string
	if req.Metadata {
		key, err = s.deployer.DeployMetadata(r.Context(), req.Group, req.Coordinate.Target, r.Body)
	} else {
		key, err = s.deployer.Deploy(r.Context(), req.Coordinate, r.Body)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": key})
}

// statusForError maps cache errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, artifactcache.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, artifactcache.ErrUnknownPolicy):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, artifactcache.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	logger := s.logger.With("method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Debug("bad request")
	}
	http.Error(w, http.StatusText(status)+": "+err.Error(), status)
}
