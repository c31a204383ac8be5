// Package web is the browser-facing adapter over the submission flow. It
// renders JSON view-models and leans on the flow package for all semantics;
// nothing here touches stores directly.
package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"haven/internal/files"
	"haven/internal/flow"
	"haven/internal/normalize"
	"haven/internal/report"
	"haven/internal/spec"
	dErrors "haven/pkg/domain-errors"
	"haven/pkg/platform/httputil"
	"haven/pkg/platform/sentinel"
)

// SessionCookie names the cookie carrying the opaque session token. HttpOnly
// and never used for anything but correlation.
const SessionCookie = "haven_session"

// honeypotField is an invisible input on the consent form. Humans leave it
// empty; form-stuffing bots fill it and get a fake success.
const honeypotField = "website"

const maxUploadBytes = 32 << 20

type Handler struct {
	machine  *flow.Machine
	sessions flow.SessionStore
	specs    *spec.Cache
	uploads  files.Store
	logger   *slog.Logger
}

func NewHandler(machine *flow.Machine, sessions flow.SessionStore, specs *spec.Cache, uploads files.Store, logger *slog.Logger) (*Handler, error) {
	if machine == nil || sessions == nil || specs == nil || logger == nil {
		return nil, errors.New("machine, session store, spec cache and logger are required")
	}
	return &Handler{machine: machine, sessions: sessions, specs: specs, uploads: uploads, logger: logger}, nil
}

// Routes mounts the reporting flow under /{org}/{project}.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/{org}/{project}", func(r chi.Router) {
		r.Get("/", h.index)
		r.Post("/", h.start)
		r.Get("/whatnext", h.whatNext)
		r.Get("/{page}", h.viewPage)
		r.Post("/{page}", h.submitPage)
	})
}

// index is the consent page: project steps plus whatever notice a redirect
// carried (expired session, cannot jump ahead).
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	orgName, project := chi.URLParam(r, "org"), chi.URLParam(r, "project")
	sp, err := h.specs.Get(orgName, project)
	if err != nil {
		httputil.WriteError(w, translate(err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"org":     orgName,
		"project": project,
		"steps":   sp.Steps(),
		"notice":  r.URL.Query().Get("notice"),
	})
}

// start handles the consent submit and opens a session.
func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	orgName, project := chi.URLParam(r, "org"), chi.URLParam(r, "project")
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeBadRequest, "malformed form body", err))
		return
	}

	base := "/" + orgName + "/" + project
	if r.PostForm.Get(honeypotField) != "" {
		// Bots see the same redirect a reporter would, minus a session.
		http.Redirect(w, r, base+"/1", http.StatusSeeOther)
		return
	}
	if r.PostForm.Get("consent") != "yes" {
		http.Redirect(w, r, base+"?notice=consent", http.StatusSeeOther)
		return
	}

	sess, err := h.machine.Start(r.Context(), orgName, project, "web", r.UserAgent())
	if err != nil {
		httputil.WriteError(w, translate(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     base,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, base+"/1", http.StatusSeeOther)
}

func (h *Handler) viewPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	ref, err := flow.ParsePageRef(chi.URLParam(r, "page"))
	if err != nil {
		httputil.WriteError(w, translate(err))
		return
	}

	view, err := h.machine.ViewPage(r.Context(), sess, ref)
	if err != nil {
		h.flowError(w, r, sess, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) submitPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	ref, err := flow.ParsePageRef(chi.URLParam(r, "page"))
	if err != nil {
		httputil.WriteError(w, translate(err))
		return
	}

	raw, staged, err := h.parseSubmission(r)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeBadRequest, "malformed form body", err))
		return
	}
	dir := flow.Next
	if r.PostForm.Get("direction") == "back" {
		dir = flow.Prev
	}

	out, err := h.machine.SubmitPage(r.Context(), sess, ref, raw, staged, dir)
	if err != nil {
		h.flowError(w, r, sess, err)
		return
	}

	w.Header().Set("X-Report-ID", out.ReportID.String())
	base := "/" + sess.Org + "/" + sess.Project
	switch {
	case out.Done:
		http.Redirect(w, r, base+"/whatnext", http.StatusSeeOther)
	case out.Index:
		http.Redirect(w, r, base, http.StatusSeeOther)
	default:
		http.Redirect(w, r, base+"/"+out.Next.String(), http.StatusSeeOther)
	}
}

func (h *Handler) whatNext(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.machine.WhatNext(r.Context(), sess)
	if err != nil {
		h.flowError(w, r, sess, err)
		return
	}
	// The session is gone; expire its cookie with it.
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/" + sess.Org + "/" + sess.Project,
		MaxAge:   -1,
		HttpOnly: true,
	})
	httputil.WriteJSON(w, http.StatusOK, view)
}

// session resolves the cookie to a live session, redirecting to the consent
// page when it is missing or expired. A false return means the response has
// been written.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*flow.Session, bool) {
	base := "/" + chi.URLParam(r, "org") + "/" + chi.URLParam(r, "project")

	c, err := r.Cookie(SessionCookie)
	if err != nil {
		http.Redirect(w, r, base+"?notice=expired", http.StatusSeeOther)
		return nil, false
	}
	sess, err := h.sessions.Get(r.Context(), c.Value)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
			http.Redirect(w, r, base+"?notice=expired", http.StatusSeeOther)
			return nil, false
		}
		httputil.WriteError(w, translate(err))
		return nil, false
	}
	if sess.Org != chi.URLParam(r, "org") || sess.Project != chi.URLParam(r, "project") {
		http.Redirect(w, r, base+"?notice=expired", http.StatusSeeOther)
		return nil, false
	}
	return sess, true
}

// parseSubmission extracts the raw field map and stages any non-empty
// uploads. Zero-size parts are browser artifacts of empty file inputs and
// are dropped.
func (h *Handler) parseSubmission(r *http.Request) (normalize.Raw, []report.FileRef, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, nil, err
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, nil, err
	}

	raw := rawFromForm(r.PostForm)

	var staged []report.FileRef
	if r.MultipartForm != nil && h.uploads != nil {
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				if fh.Size == 0 || fh.Filename == "" {
					continue
				}
				f, err := fh.Open()
				if err != nil {
					return nil, nil, err
				}
				ref, err := h.uploads.Save(r.Context(), fh.Filename, f)
				f.Close()
				if err != nil {
					return nil, nil, fmt.Errorf("stage %q: %w", fh.Filename, err)
				}
				staged = append(staged, ref)
			}
		}
	}
	return raw, staged, nil
}

// flowError maps flow failures onto the web conventions: jump-ahead and
// staleness redirect, validation and alias failures come back as structured
// JSON for same-page redisplay.
func (h *Handler) flowError(w http.ResponseWriter, r *http.Request, sess *flow.Session, err error) {
	base := "/" + sess.Org + "/" + sess.Project

	var ahead *flow.PageAheadError
	if errors.As(err, &ahead) {
		http.Redirect(w, r, fmt.Sprintf("%s/%d?notice=cannot-skip", base, ahead.Target), http.StatusSeeOther)
		return
	}
	// Validation failures redisplay the current page with a success status;
	// the field list tells the renderer what to flag inline.
	var verr *normalize.ValidationError
	if errors.As(err, &verr) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"error":  "validation_failed",
			"fields": verr.Fields,
		})
		return
	}
	httputil.WriteError(w, translate(err))
}

// translate maps identity claim failures onto their dedicated codes before
// the generic sentinel classification.
func translate(err error) error {
	var aerr *flow.AliasError
	if errors.As(err, &aerr) {
		if aerr.Conflict {
			return dErrors.Wrap(dErrors.CodeAliasConflict, aerr.Error(), err)
		}
		return dErrors.Wrap(dErrors.CodeAliasUnknown, aerr.Error(), err)
	}
	return httputil.Classify(err)
}

// rawFromForm copies submitted values minus the navigation controls that are
// not answers.
func rawFromForm(form url.Values) normalize.Raw {
	raw := make(normalize.Raw, len(form))
	for k, v := range form {
		switch k {
		case "direction", "consent", honeypotField:
			continue
		}
		raw[k] = append([]string(nil), v...)
	}
	return raw
}
