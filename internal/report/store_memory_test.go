package report

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"haven/internal/normalize"
	"haven/pkg/platform/sentinel"
)

type ReportStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestReportStoreSuite(t *testing.T) {
	suite.Run(t, new(ReportStoreSuite))
}

func (s *ReportStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *ReportStoreSuite) newReport(alias string) *Report {
	return &Report{
		ID:      uuid.New(),
		Org:     "acme",
		Project: "speakup",
		Alias:   alias,
		Version: "3",
	}
}

func (s *ReportStoreSuite) TestCreateAndLookups() {
	s.Run("creates and finds by id and alias", func() {
		r := s.newReport("cedar lagoon")
		s.Require().NoError(s.store.Create(s.ctx, r))

		byID, err := s.store.Get(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal("cedar lagoon", byID.Alias)

		byAlias, err := s.store.FindByAlias(s.ctx, "acme", "speakup", "cedar lagoon")
		s.Require().NoError(err)
		s.Equal(r.ID, byAlias.ID)
	})

	s.Run("alias lookup is case-insensitive", func() {
		r := s.newReport("Amber Fjord")
		s.Require().NoError(s.store.Create(s.ctx, r))

		found, err := s.store.FindByAlias(s.ctx, "acme", "speakup", "amber fjord")
		s.Require().NoError(err)
		s.Equal(r.ID, found.ID)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.ctx, uuid.New())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ReportStoreSuite) TestAliasUniqueConstraint() {
	s.Run("duplicate alias within org/project conflicts", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newReport("cedar lagoon")))

		err := s.store.Create(s.ctx, s.newReport("cedar lagoon"))
		s.Require().Error(err)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("same alias in a different project is fine", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newReport("rowan mesa")))

		other := s.newReport("rowan mesa")
		other.Project = "otherproject"
		s.NoError(s.store.Create(s.ctx, other))
	})
}

func (s *ReportStoreSuite) TestSetAlias() {
	s.Run("binds an alias onto an aliasless report", func() {
		r := s.newReport("")
		s.Require().NoError(s.store.Create(s.ctx, r))

		s.Require().NoError(s.store.SetAlias(s.ctx, r.ID, "tansy delta"))

		found, err := s.store.FindByAlias(s.ctx, "acme", "speakup", "Tansy Delta")
		s.Require().NoError(err)
		s.Equal(r.ID, found.ID)
		s.Equal("tansy delta", found.Alias)
	})

	s.Run("taken alias conflicts", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newReport("moss tarn")))
		r := s.newReport("")
		s.Require().NoError(s.store.Create(s.ctx, r))

		err := s.store.SetAlias(s.ctx, r.ID, "Moss Tarn")
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("rebinding frees the previous alias", func() {
		r := s.newReport("beryl moor")
		s.Require().NoError(s.store.Create(s.ctx, r))

		s.Require().NoError(s.store.SetAlias(s.ctx, r.ID, "beryl heath"))

		_, err := s.store.FindByAlias(s.ctx, "acme", "speakup", "beryl moor")
		s.ErrorIs(err, sentinel.ErrNotFound)
		found, err := s.store.FindByAlias(s.ctx, "acme", "speakup", "beryl heath")
		s.Require().NoError(err)
		s.Equal(r.ID, found.ID)
	})

	s.Run("unknown report is not found", func() {
		s.ErrorIs(s.store.SetAlias(s.ctx, uuid.New(), "opal dune"), sentinel.ErrNotFound)
	})
}

func (s *ReportStoreSuite) TestUpdatePageIsIncremental() {
	r := s.newReport("flint cove")
	s.Require().NoError(s.store.Create(s.ctx, r))

	page1Raw := normalize.Raw{"what": {"it happened"}}
	page1Doc := normalize.Document{{Label: "What happened?", Value: "it happened"}}
	s.Require().NoError(s.store.UpdatePage(s.ctx, r.ID, page1Raw, page1Doc))

	page2Raw := normalize.Raw{"spoken-to": {"Police"}}
	page2Doc := normalize.Document{{Label: "Spoken to anybody?", Value: []string{"Police or government officials"}}}
	s.Require().NoError(s.store.UpdatePage(s.ctx, r.ID, page2Raw, page2Doc))

	stored, err := s.store.Get(s.ctx, r.ID)
	s.Require().NoError(err)

	s.Equal([]string{"it happened"}, []string(stored.SubmittedRaw["what"]), "earlier pages survive later updates")
	s.Equal([]string{"Police"}, []string(stored.SubmittedRaw["spoken-to"]))
	s.Len(stored.Submitted, 2)

	s.Run("revisiting a page replaces its answers in place", func() {
		revised := normalize.Document{{Label: "What happened?", Value: "revised account"}}
		s.Require().NoError(s.store.UpdatePage(s.ctx, r.ID, normalize.Raw{"what": {"revised account"}}, revised))

		stored, err := s.store.Get(s.ctx, r.ID)
		s.Require().NoError(err)
		v, _ := stored.Submitted.Get("What happened?")
		s.Equal("revised account", v)
		s.Len(stored.Submitted, 2, "replacement, not append")
	})
}

func (s *ReportStoreSuite) TestAttachFiles() {
	r := s.newReport("moss tarn")
	s.Require().NoError(s.store.Create(s.ctx, r))

	s.Require().NoError(s.store.AttachFiles(s.ctx, r.ID, []FileRef{
		{Name: "photo.jpg", Path: "uploads/abc", Size: 1024},
	}))
	s.Require().NoError(s.store.AttachFiles(s.ctx, r.ID, nil))

	stored, err := s.store.Get(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Len(stored.Files, 1)
}

func (s *ReportStoreSuite) TestReadsReturnCopies() {
	r := s.newReport("hazel delta")
	r.SubmittedRaw = normalize.Raw{"what": {"original"}}
	s.Require().NoError(s.store.Create(s.ctx, r))

	got, err := s.store.Get(s.ctx, r.ID)
	s.Require().NoError(err)
	got.SubmittedRaw["what"][0] = "mutated"

	again, err := s.store.Get(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal("original", again.SubmittedRaw["what"][0])
}
