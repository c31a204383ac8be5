package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"haven/internal/alias"
	"haven/internal/normalize"
	"haven/internal/spec"
	"haven/pkg/platform/sentinel"
)

const conversationClaimAttempts = 8

// Reply is what the SMS adapter sends back after each exchange.
type Reply struct {
	Text string
	Done bool
}

// StartConversation opens an SMS reporting attempt. The alias is generated
// server-side since a texting reporter cannot be walked through the identity
// page; collisions retry with a fresh candidate.
func (m *Machine) StartConversation(ctx context.Context, orgName, project string) (*Session, *Reply, error) {
	ctx, span := m.tracer.Start(ctx, "flow.StartConversation",
		trace.WithAttributes(attribute.String("org", orgName), attribute.String("project", project)))
	defer span.End()

	handle, err := m.orgs.Resolve(orgName)
	if err != nil {
		return nil, nil, err
	}
	sp, err := m.specs.Get(orgName, project)
	if err != nil {
		return nil, nil, err
	}
	questions := sp.Questions()
	if len(questions) == 0 {
		return nil, nil, fmt.Errorf("project %s/%s: %w: no askable questions", orgName, project, sentinel.ErrInvalidState)
	}

	sess, err := m.Start(ctx, orgName, project, "sms", "")
	if err != nil {
		return nil, nil, err
	}

	var assigned string
	for i := 0; i < conversationClaimAttempts; i++ {
		candidate := alias.Generate(m.aliasMaxLen)
		if _, err := handle.Alias.Claim(ctx, orgName, project, candidate, false, uuid.Nil); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return nil, nil, fmt.Errorf("alias claim: %w", err)
		}
		if err := m.ensureReport(ctx, handle, sp, sess, candidate); err != nil {
			var aerr *AliasError
			if errors.As(err, &aerr) && aerr.Conflict {
				continue
			}
			return nil, nil, err
		}
		assigned = candidate
		break
	}
	if assigned == "" {
		return nil, nil, fmt.Errorf("assign alias: %w", sentinel.ErrUnavailable)
	}

	if err := m.sessions.Put(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("store session: %w", err)
	}

	reply := &Reply{Text: fmt.Sprintf(
		"Your report name is %q. Keep it to continue this report later.\n%s", assigned, questions[0].Label)}
	return sess, reply, nil
}

// SubmitQuestion records one answer and advances the cursor. The reply
// carries the next question, or the closing message when the last answer
// lands.
func (m *Machine) SubmitQuestion(ctx context.Context, sess *Session, answer string) (*Reply, error) {
	ctx, span := m.tracer.Start(ctx, "flow.SubmitQuestion",
		trace.WithAttributes(attribute.Int("question", sess.Question)))
	defer span.End()

	handle, err := m.orgs.Resolve(sess.Org)
	if err != nil {
		return nil, err
	}
	sp, err := m.specs.Get(sess.Org, sess.Project)
	if err != nil {
		return nil, err
	}
	questions := sp.Questions()
	if sess.Question >= len(questions) {
		return nil, fmt.Errorf("conversation already complete: %w", sentinel.ErrInvalidState)
	}
	q := questions[sess.Question]

	raw, perr := answerToRaw(q, answer)
	if perr != nil {
		return &Reply{Text: perr.Error() + "\n" + q.Label}, nil
	}
	if verr := normalize.Validate([]spec.Input{q}, raw, m.now()); verr != nil {
		return &Reply{Text: verr.Error() + "\n" + q.Label}, nil
	}
	doc, err := normalize.Normalize([]spec.Input{q}, raw, m.now())
	if err != nil {
		return nil, err
	}
	if err := handle.Reports.UpdatePage(ctx, *sess.ReportID, raw, doc); err != nil {
		return nil, fmt.Errorf("persist answer: %w", err)
	}

	sess.Question++
	if err := handle.Funnel.Step(ctx, sess.SubmissionID, "q"+strconv.Itoa(sess.Question)); err != nil {
		m.logger.Warn("funnel step failed", "submission_id", sess.SubmissionID, "error", err)
	}

	if sess.Question >= len(questions) {
		if err := handle.Funnel.Step(ctx, sess.SubmissionID, "complete"); err != nil {
			m.logger.Warn("funnel complete step failed", "submission_id", sess.SubmissionID, "error", err)
		}
		m.metrics.ReportsCompleted.Inc()
		if err := m.sessions.Delete(ctx, sess.Token); err != nil {
			return nil, fmt.Errorf("clear session: %w", err)
		}
		return &Reply{Text: "That was the last question. Your report has been submitted. Thank you.", Done: true}, nil
	}

	if err := m.sessions.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &Reply{Text: questions[sess.Question].Label}, nil
}

// smsDateLayouts are the formats a reporter plausibly texts for a date.
var smsDateLayouts = []string{
	"2 Jan 2006 15:04",
	"2 Jan 2006",
	"2/1/2006 15:04",
	"2/1/2006",
	"2006-01-02 15:04",
	"2006-01-02",
}

// answerToRaw turns a texted answer into the raw field map the normalizer
// expects, so both channels share one validation and persistence path.
func answerToRaw(q spec.Input, answer string) (normalize.Raw, error) {
	answer = strings.TrimSpace(answer)
	if q.SkipOption && strings.EqualFold(answer, "skip") {
		return normalize.Raw{q.Name + "-skip": {"1"}}, nil
	}

	switch q.Type {
	case spec.TypeCheckbox:
		var values []string
		for _, part := range strings.Split(answer, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			opt, ok := matchOption(q.Options, part)
			if !ok {
				return nil, fmt.Errorf("%q is not one of the choices", part)
			}
			values = append(values, opt.Value)
		}
		if len(values) == 0 {
			return normalize.Raw{}, nil
		}
		return normalize.Raw{q.Name: values}, nil

	case spec.TypeRadio, spec.TypeSelect:
		if answer == "" {
			return normalize.Raw{}, nil
		}
		opt, ok := matchOption(q.Options, answer)
		if !ok {
			return nil, fmt.Errorf("%q is not one of the choices", answer)
		}
		return normalize.Raw{q.Name: {opt.Value}}, nil

	case spec.TypeDate:
		if answer == "" {
			return normalize.Raw{}, nil
		}
		for _, layout := range smsDateLayouts {
			ts, err := time.Parse(layout, answer)
			if err != nil {
				continue
			}
			raw := normalize.Raw{
				q.Name + "-day":   {strconv.Itoa(ts.Day())},
				q.Name + "-month": {strconv.Itoa(int(ts.Month()))},
				q.Name + "-year":  {strconv.Itoa(ts.Year())},
			}
			if strings.Contains(layout, "15:04") {
				raw[q.Name+"-time"] = []string{ts.Format("15:04")}
			}
			return raw, nil
		}
		return nil, fmt.Errorf("could not read %q as a date, try e.g. 14 Mar 2026", answer)

	default:
		if answer == "" {
			return normalize.Raw{}, nil
		}
		return normalize.Raw{q.Name: {answer}}, nil
	}
}

// matchOption resolves a texted token against an option's value or label,
// case-insensitively, or by its 1-based position.
func matchOption(opts []spec.Option, token string) (spec.Option, bool) {
	for _, o := range opts {
		if strings.EqualFold(o.Value, token) || strings.EqualFold(o.Label, token) {
			return o, true
		}
	}
	if n, err := strconv.Atoi(token); err == nil && n >= 1 && n <= len(opts) {
		return opts[n-1], true
	}
	return spec.Option{}, false
}
