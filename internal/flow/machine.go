package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"haven/internal/geo"
	"haven/internal/normalize"
	"haven/internal/org"
	"haven/internal/platform/metrics"
	"haven/internal/report"
	"haven/internal/spec"
	"haven/pkg/platform/sentinel"
)

// Machine drives ordered, non-skippable progression through a project's
// pages. Both channel adapters call into the same instance; a session is
// logically single-writer, so the machine holds no per-session locks.
type Machine struct {
	specs     *spec.Cache
	orgs      *org.Registry
	sessions  SessionStore
	geocoder  geo.Geocoder
	resources geo.ResourceFinder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	aliasMaxLen int
	now         func() time.Time
}

// Config carries the machine's dependencies. Geocoder and Resources are
// optional; everything else is required.
type Config struct {
	Specs       *spec.Cache
	Orgs        *org.Registry
	Sessions    SessionStore
	Geocoder    geo.Geocoder
	Resources   geo.ResourceFinder
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	AliasMaxLen int
}

func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Specs == nil || cfg.Orgs == nil || cfg.Sessions == nil {
		return nil, errors.New("spec cache, org registry and session store are required")
	}
	if cfg.Metrics == nil || cfg.Logger == nil {
		return nil, errors.New("metrics and logger are required")
	}
	maxLen := cfg.AliasMaxLen
	if maxLen <= 0 {
		maxLen = 18
	}
	return &Machine{
		specs:       cfg.Specs,
		orgs:        cfg.Orgs,
		sessions:    cfg.Sessions,
		geocoder:    cfg.Geocoder,
		resources:   cfg.Resources,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		tracer:      otel.Tracer("haven/flow"),
		aliasMaxLen: maxLen,
		now:         time.Now,
	}, nil
}

// WithClock overrides the wall clock for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// PageView is the declarative view-model a rendering layer consumes: which
// inputs to show and which values are pre-selected. No DOM mutation needed.
type PageView struct {
	Page    PageRef       `json:"page"`
	Title   string        `json:"title"`
	Inputs  []spec.Input  `json:"inputs"`
	Prefill normalize.Raw `json:"prefill"`
	Steps   []string      `json:"steps"`
}

// Outcome is where a successful submit lands the reporter.
type Outcome struct {
	Next     PageRef   `json:"next"`
	Index    bool      `json:"index,omitempty"`
	Done     bool      `json:"done,omitempty"`
	ReportID uuid.UUID `json:"report_id"`
}

// WhatNextView closes the flow.
type WhatNextView struct {
	Message   string         `json:"message"`
	Resources []geo.Resource `json:"resources,omitempty"`
}

// Start creates a fresh session and its funnel telemetry record.
func (m *Machine) Start(ctx context.Context, orgName, project, channel, userAgent string) (*Session, error) {
	ctx, span := m.tracer.Start(ctx, "flow.Start",
		trace.WithAttributes(attribute.String("org", orgName), attribute.String("project", project)))
	defer span.End()

	handle, err := m.orgs.Resolve(orgName)
	if err != nil {
		return nil, err
	}
	if _, err := m.specs.Get(orgName, project); err != nil {
		return nil, err
	}

	subID, err := handle.Funnel.Start(ctx, orgName, project, channel, userAgent)
	if err != nil {
		return nil, fmt.Errorf("funnel start: %w", err)
	}

	sess := &Session{
		Token:        uuid.NewString(),
		Org:          orgName,
		Project:      project,
		Channel:      channel,
		UserAgent:    userAgent,
		SubmissionID: subID,
		StartedAt:    m.now(),
	}
	if err := m.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	m.metrics.SessionsStarted.Inc()
	return sess, nil
}

// ViewPage renders a page. Requesting past the high-water mark returns a
// PageAheadError; revisits are pre-filled from the report's raw fields
// merged over spec-driven defaults.
func (m *Machine) ViewPage(ctx context.Context, sess *Session, ref PageRef) (*PageView, error) {
	ctx, span := m.tracer.Start(ctx, "flow.ViewPage",
		trace.WithAttributes(attribute.String("page", ref.String())))
	defer span.End()

	sp, err := m.specs.Get(sess.Org, sess.Project)
	if err != nil {
		return nil, err
	}
	if !ref.All && ref.N > sess.CompletedPage+1 {
		return nil, &PageAheadError{Target: sess.CompletedPage + 1}
	}

	inputs, err := sp.InputsFor(m.pageNumber(ref))
	if err != nil {
		return nil, err
	}

	view := &PageView{
		Page:    ref,
		Inputs:  inputs,
		Prefill: m.prefill(ctx, sess, inputs),
		Steps:   sp.Steps(),
	}
	if !ref.All {
		view.Title = sp.Pages[ref.N-1].Title
	}
	return view, nil
}

// SubmitPage validates, normalizes, and persists one page, then computes the
// transition. Validation and alias failures come back as *ValidationError
// and *AliasError for same-page redisplay; already-persisted progress is
// never lost on any error path.
func (m *Machine) SubmitPage(ctx context.Context, sess *Session, ref PageRef, raw normalize.Raw, staged []report.FileRef, dir Direction) (*Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "flow.SubmitPage",
		trace.WithAttributes(
			attribute.String("org", sess.Org),
			attribute.String("project", sess.Project),
			attribute.String("page", ref.String()),
		))
	defer span.End()

	handle, err := m.orgs.Resolve(sess.Org)
	if err != nil {
		return nil, err
	}
	sp, err := m.specs.Get(sess.Org, sess.Project)
	if err != nil {
		return nil, err
	}
	if !ref.All && ref.N > sess.CompletedPage+1 {
		return nil, &PageAheadError{Target: sess.CompletedPage + 1}
	}

	inputs, err := sp.InputsFor(m.pageNumber(ref))
	if err != nil {
		return nil, err
	}

	if verr := normalize.Validate(inputs, raw, m.now()); verr != nil {
		m.stashFiles(ctx, sess, staged)
		return nil, verr
	}

	aliasPage := ref.All || (sp.AliasPage() != 0 && ref.N == sp.AliasPage())
	if aliasPage && sp.AliasPage() != 0 {
		if err := m.resolveIdentity(ctx, handle, sp, sess, inputs, raw); err != nil {
			m.stashFiles(ctx, sess, staged)
			return nil, err
		}
	}
	if err := m.ensureReport(ctx, handle, sp, sess, ""); err != nil {
		return nil, err
	}

	doc, err := normalize.Normalize(inputs, raw, m.now())
	if err != nil {
		m.stashFiles(ctx, sess, staged)
		return nil, err
	}
	if err := handle.Reports.UpdatePage(ctx, *sess.ReportID, storedRaw(inputs, raw), doc); err != nil {
		return nil, fmt.Errorf("persist page %s: %w", ref, err)
	}

	attachments := append(append([]report.FileRef(nil), sess.PendingFiles...), staged...)
	if err := handle.Reports.AttachFiles(ctx, *sess.ReportID, attachments); err != nil {
		return nil, fmt.Errorf("attach files: %w", err)
	}
	sess.PendingFiles = nil

	m.cacheGeocode(ctx, sess, inputs, raw)

	step := ref.String()
	if ref.All {
		sess.CompletedPage = sp.PageCount()
	} else if ref.N > sess.CompletedPage {
		sess.CompletedPage = ref.N
		step = strconv.Itoa(ref.N)
	}
	if err := handle.Funnel.Step(ctx, sess.SubmissionID, step); err != nil {
		// Telemetry must not fail the submission.
		m.logger.Warn("funnel step failed", "submission_id", sess.SubmissionID, "step", step, "error", err)
	}

	if err := m.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	m.metrics.PagesSubmitted.Inc()

	return m.outcome(sp, sess, ref, dir), nil
}

// WhatNext is the terminal state. The first entry for a completed session
// marks the funnel complete and destroys the session so back-navigation
// cannot produce a duplicate terminal submission.
func (m *Machine) WhatNext(ctx context.Context, sess *Session) (*WhatNextView, error) {
	ctx, span := m.tracer.Start(ctx, "flow.WhatNext")
	defer span.End()

	handle, err := m.orgs.Resolve(sess.Org)
	if err != nil {
		return nil, err
	}
	sp, err := m.specs.Get(sess.Org, sess.Project)
	if err != nil {
		return nil, err
	}
	if sess.CompletedPage < sp.PageCount() {
		return nil, &PageAheadError{Target: sess.CompletedPage + 1}
	}

	if err := handle.Funnel.Step(ctx, sess.SubmissionID, "complete"); err != nil {
		m.logger.Warn("funnel complete step failed", "submission_id", sess.SubmissionID, "error", err)
	}
	m.metrics.ReportsCompleted.Inc()

	view := &WhatNextView{Message: "Your report has been submitted. Thank you."}
	if m.resources != nil && sess.Geocode != nil {
		if near, err := m.resources.Near(ctx, *sess.Geocode, 3); err == nil {
			view.Resources = near
		}
	}

	if err := m.sessions.Delete(ctx, sess.Token); err != nil {
		return nil, fmt.Errorf("clear session: %w", err)
	}
	return view, nil
}

// resolveIdentity handles the alias-establishing page: it resolves the
// reporter's claim, adopting the prior report for a returning alias or
// creating a fresh one for a new alias.
func (m *Machine) resolveIdentity(ctx context.Context, handle *org.Handle, sp *spec.Spec, sess *Session, inputs []spec.Input, raw normalize.Raw) error {
	var usedBeforeIn, aliasIn *spec.Input
	for i := range inputs {
		switch inputs[i].Type {
		case spec.TypeUsedBefore:
			usedBeforeIn = &inputs[i]
		case spec.TypeAlias:
			aliasIn = &inputs[i]
		}
	}
	if aliasIn == nil {
		return nil
	}

	aliasVal := firstValue(raw[aliasIn.Name])
	usedBeforeVal := ""
	if usedBeforeIn != nil {
		usedBeforeVal = firstValue(raw[usedBeforeIn.Name])
	}

	// The normalizer never sees identity fields, so their required checks
	// live here.
	verr := &normalize.ValidationError{}
	if usedBeforeIn != nil && usedBeforeIn.Required && usedBeforeVal == "" {
		verr.Fields = append(verr.Fields, normalize.FieldError{Name: usedBeforeIn.Name, Message: "required"})
	}
	if aliasIn.Required && aliasVal == "" {
		verr.Fields = append(verr.Fields, normalize.FieldError{Name: aliasIn.Name, Message: "required"})
	} else if m.aliasMaxLen > 0 && len(aliasVal) > m.aliasMaxLen {
		verr.Fields = append(verr.Fields, normalize.FieldError{Name: aliasIn.Name, Message: fmt.Sprintf("must be %d characters or fewer", m.aliasMaxLen)})
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	usedBefore := isTruthy(usedBeforeVal)

	var exclude uuid.UUID
	if sess.ReportID != nil {
		exclude = *sess.ReportID
	}

	owner, err := handle.Alias.Claim(ctx, sess.Org, sess.Project, aliasVal, usedBefore, exclude)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			m.metrics.AliasConflicts.Inc()
			return &AliasError{Conflict: true, cause: err}
		case errors.Is(err, sentinel.ErrNotFound):
			return &AliasError{cause: err}
		}
		return fmt.Errorf("alias claim: %w", err)
	}

	if owner != nil {
		// Returning reporter: continue the prior report, carrying over any
		// pages already answered in this session.
		if sess.ReportID != nil && *sess.ReportID != owner.ID {
			if err := m.carryOver(ctx, handle, *sess.ReportID, owner.ID); err != nil {
				return err
			}
		}
		sess.ReportID = &owner.ID
		if err := handle.Funnel.Link(ctx, sess.SubmissionID, owner.ID); err != nil {
			m.logger.Warn("funnel link failed", "submission_id", sess.SubmissionID, "error", err)
		}
		return nil
	}
	if sess.ReportID != nil {
		// Pages before the identity page already created the report; bind
		// the asserted alias onto it now.
		if err := handle.Reports.SetAlias(ctx, *sess.ReportID, aliasVal); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				m.metrics.AliasConflicts.Inc()
				return &AliasError{Conflict: true, cause: err}
			}
			return fmt.Errorf("set alias: %w", err)
		}
		return nil
	}
	return m.ensureReport(ctx, handle, sp, sess, aliasVal)
}

// carryOver merges answers accumulated before the identity page into the
// adopted prior report, so nothing entered this session is stranded on the
// interim record.
func (m *Machine) carryOver(ctx context.Context, handle *org.Handle, from, to uuid.UUID) error {
	interim, err := handle.Reports.Get(ctx, from)
	if err != nil {
		return fmt.Errorf("load interim report: %w", err)
	}
	if len(interim.SubmittedRaw) > 0 || len(interim.Submitted) > 0 {
		if err := handle.Reports.UpdatePage(ctx, to, interim.SubmittedRaw, interim.Submitted); err != nil {
			return fmt.Errorf("carry over answers: %w", err)
		}
	}
	if err := handle.Reports.AttachFiles(ctx, to, interim.Files); err != nil {
		return fmt.Errorf("carry over files: %w", err)
	}
	return nil
}

// ensureReport lazily creates the report record. The store's unique
// constraint is the backstop behind the advisory claim: an insert that loses
// the race surfaces as the same conflict class.
func (m *Machine) ensureReport(ctx context.Context, handle *org.Handle, sp *spec.Spec, sess *Session, aliasVal string) error {
	if sess.ReportID != nil {
		return nil
	}
	rpt := &report.Report{
		ID:        uuid.New(),
		Org:       sess.Org,
		Project:   sess.Project,
		Alias:     aliasVal,
		Version:   sp.Version,
		UserAgent: sess.UserAgent,
	}
	if err := handle.Reports.Create(ctx, rpt); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			m.metrics.AliasConflicts.Inc()
			return &AliasError{Conflict: true, cause: err}
		}
		return fmt.Errorf("create report: %w", err)
	}
	sess.ReportID = &rpt.ID
	if err := handle.Funnel.Link(ctx, sess.SubmissionID, rpt.ID); err != nil {
		m.logger.Warn("funnel link failed", "submission_id", sess.SubmissionID, "error", err)
	}
	return nil
}

// prefill merges the report's raw fields over spec defaults so revisited
// pages repopulate and the incident date defaults to today.
func (m *Machine) prefill(ctx context.Context, sess *Session, inputs []spec.Input) normalize.Raw {
	out := normalize.Raw{}
	now := m.now()
	for _, in := range inputs {
		if in.Type == spec.TypeDate && in.Default == "today" {
			out[in.Name+"-day"] = []string{strconv.Itoa(now.Day())}
			out[in.Name+"-month"] = []string{strconv.Itoa(int(now.Month()))}
			out[in.Name+"-year"] = []string{strconv.Itoa(now.Year())}
		} else if in.Default != "" {
			out[in.Name] = []string{in.Default}
		}
	}

	if sess.ReportID == nil {
		return out
	}
	handle, err := m.orgs.Resolve(sess.Org)
	if err != nil {
		return out
	}
	rpt, err := handle.Reports.Get(ctx, *sess.ReportID)
	if err != nil {
		return out
	}
	names := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		names[in.Name] = true
	}
	for k, v := range rpt.SubmittedRaw {
		if names[k] || names[trimComponent(k)] {
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}

// cacheGeocode resolves the transient address helper, best-effort.
func (m *Machine) cacheGeocode(ctx context.Context, sess *Session, inputs []spec.Input, raw normalize.Raw) {
	if m.geocoder == nil {
		return
	}
	for _, in := range inputs {
		if in.Type != spec.TypeLookup {
			continue
		}
		text := firstValue(raw[in.Name])
		if text == "" {
			continue
		}
		loc, err := m.geocoder.Lookup(ctx, text)
		if err != nil {
			m.logger.Warn("geocode lookup failed", "error", err)
			return
		}
		if loc != nil {
			sess.Geocode = loc
		}
		return
	}
}

// stashFiles keeps already-uploaded attachments across a failed validation
// so the reporter does not have to upload them again.
func (m *Machine) stashFiles(ctx context.Context, sess *Session, staged []report.FileRef) {
	if len(staged) == 0 {
		return
	}
	sess.PendingFiles = append(sess.PendingFiles, staged...)
	if err := m.sessions.Put(ctx, sess); err != nil {
		m.logger.Warn("stash pending files failed", "error", err)
	}
}

func (m *Machine) outcome(sp *spec.Spec, sess *Session, ref PageRef, dir Direction) *Outcome {
	out := &Outcome{ReportID: *sess.ReportID}
	if ref.All {
		out.Done = true
		return out
	}
	switch dir {
	case Prev:
		if ref.N-1 < 1 {
			out.Index = true
			return out
		}
		out.Next = PageRef{N: ref.N - 1}
	default:
		if ref.N+1 > sp.PageCount() {
			out.Done = true
			return out
		}
		out.Next = PageRef{N: ref.N + 1}
	}
	return out
}

func (m *Machine) pageNumber(ref PageRef) int {
	if ref.All {
		return 0
	}
	return ref.N
}

func firstValue(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func isTruthy(v string) bool {
	switch v {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// storedRaw blanks every page key the submission omitted, because browsers
// drop unchecked boxes entirely and the store's merge is per-key. Without
// the explicit empty entries a revisit that clears a selection would leave
// the stale value in the raw record and it would resurface on prefill.
func storedRaw(inputs []spec.Input, raw normalize.Raw) normalize.Raw {
	out := raw.Clone()
	for _, in := range inputs {
		keys := []string{in.Name}
		if in.Type == spec.TypeDate {
			keys = append(keys, in.Name+"-day", in.Name+"-month", in.Name+"-year", in.Name+"-time")
		}
		if in.SkipOption {
			keys = append(keys, in.Name+"-skip")
		}
		for _, k := range keys {
			if _, ok := out[k]; !ok {
				out[k] = []string{}
			}
		}
	}
	return out
}

// trimComponent maps a date component field back to its base input name.
func trimComponent(name string) string {
	for _, suffix := range []string{"-day", "-month", "-year", "-time", "-skip"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}
