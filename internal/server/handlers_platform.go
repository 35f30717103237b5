package server

import (
	"net/http"

	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/fonts"
	"github.com/termcam/host/internal/platform"
)

// PlatformResponse is the body of the platform endpoints.
type PlatformResponse struct {
	Class        platform.Class          `json:"class"`
	Dependencies platform.DependencySet `json:"dependencies"`
	Missing      []platform.Artifact    `json:"missing,omitempty"`
	Satisfied    bool                   `json:"satisfied"`
}

// FontsResponse is the body of GET /api/fonts.
type FontsResponse struct {
	Families []string `json:"families"`
}

// FontInstallRequest is the body of POST /api/fonts.
type FontInstallRequest struct {
	URLs []string `json:"urls"`
}

// FontInstallResponse reports each URL and the reloaded family list.
type FontInstallResponse struct {
	Results  []fonts.InstallResult `json:"results"`
	Families []string              `json:"families"`
}

func (s *Server) platformResponse() PlatformResponse {
	deps := s.opts.Platform.Dependencies()
	missing := deps.Missing()
	return PlatformResponse{
		Class:        s.opts.Platform.Class(),
		Dependencies: deps,
		Missing:      missing,
		Satisfied:    len(deps.Artifacts) > 0 && len(missing) == 0,
	}
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.platformResponse())
}

// handleRevalidate drops the cached dependency check and probes again,
// installing where the platform allows it. The font list is reloaded too.
func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	_, err := s.opts.Platform.Revalidate(r.Context())
	if s.opts.Fonts != nil {
		s.opts.Fonts.Invalidate()
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("platform revalidation failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.platformResponse())
}

func (s *Server) handleFonts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Fonts == nil {
		writeJSON(w, http.StatusOK, FontsResponse{Families: []string{fonts.Default}})
		return
	}
	writeJSON(w, http.StatusOK, FontsResponse{Families: s.opts.Fonts.Families(r.Context())})
}

func (s *Server) handleInstallFonts(w http.ResponseWriter, r *http.Request) {
	var req FontInstallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, errors.InvalidMessage("urls must not be empty"))
		return
	}
	if s.opts.Fonts == nil {
		writeError(w, errors.New(errors.CodeFontUnsupported, "font installation is not available"))
		return
	}

	results, err := s.opts.Fonts.Install(r.Context(), req.URLs)
	if err != nil {
		s.log.Warn().Err(err).Msg("font install failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FontInstallResponse{
		Results:  results,
		Families: s.opts.Fonts.Families(r.Context()),
	})
}
