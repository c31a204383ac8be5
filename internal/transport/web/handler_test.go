package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"haven/internal/files"
	"haven/internal/flow"
	"haven/internal/funnel"
	"haven/internal/geo"
	"haven/internal/org"
	"haven/internal/platform/metrics"
	"haven/internal/report"
	"haven/internal/spec"
	"haven/internal/transport/web"
	"haven/pkg/testutil"
)

const handlerSpecYAML = `
version: "1"
pages:
  - title: About you
    inputs:
      - name: used-before
        label: Have you reported with us before?
        type: used-before
        required: true
      - name: alias
        label: Your alias
        type: alias
        required: true
  - title: What happened?
    inputs:
      - name: what
        label: What happened?
        type: textarea
        required: true
      - name: evidence
        label: Any documents?
        type: file
`

type HandlerSuite struct {
	suite.Suite

	ctx     context.Context
	router  chi.Router
	reports *report.InMemoryStore
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()

	root := s.T().TempDir()
	s.Require().NoError(os.MkdirAll(filepath.Join(root, "acme"), 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(root, "acme", "speakup.yaml"), []byte(handlerSpecYAML), 0o644))

	s.reports = report.NewInMemoryStore()
	handle, err := org.NewHandle("acme", s.reports, funnel.NewInMemoryStore(), nil)
	s.Require().NoError(err)
	orgs := org.NewRegistry()
	orgs.Register(handle)

	sessions := flow.NewInMemorySessionStore(45 * time.Minute)
	specs := spec.NewCache(spec.NewLoader(root))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	machine, err := flow.NewMachine(flow.Config{
		Specs:     specs,
		Orgs:      orgs,
		Sessions:  sessions,
		Resources: geo.NewStatic(nil, nil),
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Logger:    logger,
	})
	s.Require().NoError(err)

	uploads, err := files.NewLocalStore(s.T().TempDir())
	s.Require().NoError(err)

	h, err := web.NewHandler(machine, sessions, specs, uploads, logger)
	s.Require().NoError(err)
	s.router = chi.NewRouter()
	h.Routes(s.router)
}

// startSession walks the consent form and returns the session cookie.
func (s *HandlerSuite) startSession() *http.Cookie {
	rr := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), "/acme/speakup", url.Values{
		"consent": {"yes"},
	}))
	s.Require().Equal(http.StatusSeeOther, rr.Code)
	s.Require().Equal("/acme/speakup/1", rr.Header().Get("Location"))
	return testutil.SessionCookie(s.T(), rr, web.SessionCookie)
}

func (s *HandlerSuite) submit(cookie *http.Cookie, page string, values url.Values) *httptest.ResponseRecorder {
	req := testutil.NewFormRequest(s.T(), "/acme/speakup/"+page, values)
	req.AddCookie(cookie)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) get(cookie *http.Cookie, path string) *httptest.ResponseRecorder {
	req := testutil.NewRequest(s.T(), http.MethodGet, path)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestIndex() {
	rr := s.get(nil, "/acme/speakup?notice=expired")
	s.Require().Equal(http.StatusOK, rr.Code)

	var body struct {
		Steps  []string `json:"steps"`
		Notice string   `json:"notice"`
	}
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	s.Equal([]string{"About you", "What happened?"}, body.Steps)
	s.Equal("expired", body.Notice)
}

func (s *HandlerSuite) TestIndexUnknownProject() {
	rr := s.get(nil, "/acme/nope")
	s.Equal(http.StatusNotFound, rr.Code)
}

func (s *HandlerSuite) TestStartRequiresConsent() {
	rr := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), "/acme/speakup", url.Values{}))
	s.Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup?notice=consent", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestHoneypotGetsFakeSuccess() {
	rr := testutil.DoRequest(s.router, testutil.NewFormRequest(s.T(), "/acme/speakup", url.Values{
		"consent": {"yes"},
		"website": {"http://spam.example"},
	}))
	s.Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup/1", rr.Header().Get("Location"))

	res := rr.Result()
	defer res.Body.Close()
	s.Empty(res.Cookies())
}

func (s *HandlerSuite) TestSessionCookieIsHttpOnly() {
	cookie := s.startSession()
	s.True(cookie.HttpOnly)
	s.NotEmpty(cookie.Value)
}

func (s *HandlerSuite) TestViewPage() {
	cookie := s.startSession()

	rr := s.get(cookie, "/acme/speakup/1")
	s.Require().Equal(http.StatusOK, rr.Code)

	var view flow.PageView
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &view))
	s.Equal("About you", view.Title)
	s.Len(view.Inputs, 2)
}

func (s *HandlerSuite) TestViewPageWithoutSessionRedirects() {
	rr := s.get(nil, "/acme/speakup/1")
	s.Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup?notice=expired", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestJumpAheadRedirects() {
	cookie := s.startSession()

	rr := s.get(cookie, "/acme/speakup/2")
	s.Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup/1?notice=cannot-skip", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestSubmitAdvances() {
	cookie := s.startSession()

	rr := s.submit(cookie, "1", url.Values{
		"used-before": {"no"},
		"alias":       {"cedar lagoon"},
	})
	s.Require().Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup/2", rr.Header().Get("Location"))
	s.NotEmpty(rr.Header().Get("X-Report-ID"))

	rr = s.submit(cookie, "2", url.Values{"what": {"it happened at work"}})
	s.Require().Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup/whatnext", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestSubmitBackFromFirstPage() {
	cookie := s.startSession()

	rr := s.submit(cookie, "1", url.Values{
		"used-before": {"no"},
		"alias":       {"cedar lagoon"},
		"direction":   {"back"},
	})
	s.Require().Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestValidationFailure() {
	cookie := s.startSession()

	rr := s.submit(cookie, "1", url.Values{"used-before": {"no"}})
	// The page redisplays rather than erroring, so the status stays 200.
	s.Require().Equal(http.StatusOK, rr.Code)

	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	s.Equal("validation_failed", body.Error)
	s.Require().Len(body.Fields, 1)
	s.Equal("alias", body.Fields[0].Name)
}

func (s *HandlerSuite) TestAliasConflict() {
	first := s.startSession()
	rr := s.submit(first, "1", url.Values{"used-before": {"no"}, "alias": {"cedar lagoon"}})
	s.Require().Equal(http.StatusSeeOther, rr.Code)

	second := s.startSession()
	rr = s.submit(second, "1", url.Values{"used-before": {"no"}, "alias": {"cedar lagoon"}})
	s.Require().Equal(http.StatusConflict, rr.Code)
	s.Contains(rr.Body.String(), "alias_conflict")
}

func (s *HandlerSuite) TestUnknownAliasAsReturning() {
	cookie := s.startSession()

	rr := s.submit(cookie, "1", url.Values{"used-before": {"yes"}, "alias": {"granite mesa"}})
	s.Require().Equal(http.StatusNotFound, rr.Code)
	s.Contains(rr.Body.String(), "alias_unknown")
}

func (s *HandlerSuite) TestMultipartUpload() {
	cookie := s.startSession()
	rr := s.submit(cookie, "1", url.Values{"used-before": {"no"}, "alias": {"cedar lagoon"}})
	s.Require().Equal(http.StatusSeeOther, rr.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	s.Require().NoError(mw.WriteField("what", "there are documents"))
	part, err := mw.CreateFormFile("evidence", "contract.pdf")
	s.Require().NoError(err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/acme/speakup/2", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	rr = testutil.DoRequest(s.router, req)
	s.Require().Equal(http.StatusSeeOther, rr.Code)

	rpt, err := s.reports.FindByAlias(s.ctx, "acme", "speakup", "cedar lagoon")
	s.Require().NoError(err)
	s.Require().Len(rpt.Files, 1)
	s.Equal("contract.pdf", rpt.Files[0].Name)
	s.Equal(int64(len("%PDF-1.4 fake")), rpt.Files[0].Size)
}

func (s *HandlerSuite) TestWhatNextClearsSession() {
	cookie := s.startSession()
	s.submit(cookie, "1", url.Values{"used-before": {"no"}, "alias": {"cedar lagoon"}})
	s.submit(cookie, "2", url.Values{"what": {"it happened at work"}})

	rr := s.get(cookie, "/acme/speakup/whatnext")
	s.Require().Equal(http.StatusOK, rr.Code)

	cleared := testutil.SessionCookie(s.T(), rr, web.SessionCookie)
	s.True(cleared.MaxAge < 0)

	// The session is gone: a revisit bounces to the consent page.
	rr = s.get(cookie, "/acme/speakup/whatnext")
	s.Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup?notice=expired", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestWhatNextBeforeCompletion() {
	cookie := s.startSession()

	rr := s.get(cookie, "/acme/speakup/whatnext")
	s.Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup/1?notice=cannot-skip", rr.Header().Get("Location"))
}

func (s *HandlerSuite) TestSinglePageSubmit() {
	cookie := s.startSession()

	rr := s.submit(cookie, "*", url.Values{
		"used-before": {"no"},
		"alias":       {"amber lagoon"},
		"what":        {"everything at once"},
	})
	s.Require().Equal(http.StatusSeeOther, rr.Code)
	s.Equal("/acme/speakup/whatnext", rr.Header().Get("Location"))
}
