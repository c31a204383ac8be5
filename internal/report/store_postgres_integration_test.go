//go:build integration

package report_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"haven/internal/normalize"
	"haven/internal/report"
	"haven/pkg/platform/sentinel"
	"haven/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *report.PostgresStore
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = report.NewPostgres(s.postgres.Pool)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.postgres.Pool.Exec(s.ctx, "TRUNCATE reports")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newReport(alias string) *report.Report {
	return &report.Report{
		ID:      uuid.New(),
		Org:     "acme",
		Project: "speakup",
		Alias:   alias,
		Version: "3",
	}
}

func (s *PostgresStoreSuite) TestUniqueConstraintMapsToConflict() {
	s.Require().NoError(s.store.Create(s.ctx, s.newReport("cedar lagoon")))

	err := s.store.Create(s.ctx, s.newReport("Cedar Lagoon"))
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict, "unique violation must surface as the same conflict class the advisory check uses")
}

func (s *PostgresStoreSuite) TestSetAlias() {
	r := s.newReport("")
	s.Require().NoError(s.store.Create(s.ctx, r))

	s.Require().NoError(s.store.SetAlias(s.ctx, r.ID, "tansy delta"))
	found, err := s.store.FindByAlias(s.ctx, "acme", "speakup", "Tansy Delta")
	s.Require().NoError(err)
	s.Equal(r.ID, found.ID)

	// Binding a taken alias hits the same partial unique index as Create.
	other := s.newReport("")
	s.Require().NoError(s.store.Create(s.ctx, other))
	err = s.store.SetAlias(s.ctx, other.ID, "Tansy Delta")
	s.ErrorIs(err, sentinel.ErrConflict)

	s.ErrorIs(s.store.SetAlias(s.ctx, uuid.New(), "opal dune"), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	r := s.newReport("flint cove")
	s.Require().NoError(s.store.Create(s.ctx, r))

	raw := normalize.Raw{"spoken-to": {"Police", "Friends"}, "friends-detail": {"told my sister"}}
	doc := normalize.Document{{
		Label: "Spoken to anybody?",
		Value: []string{"Police or government officials", "Friends, family (told my sister)"},
	}}
	s.Require().NoError(s.store.UpdatePage(s.ctx, r.ID, raw, doc))
	s.Require().NoError(s.store.AttachFiles(s.ctx, r.ID, []report.FileRef{{Name: "photo.jpg", Path: "uploads/x", Size: 10}}))

	stored, err := s.store.FindByAlias(s.ctx, "acme", "speakup", "flint cove")
	s.Require().NoError(err)
	s.Equal(r.ID, stored.ID)
	s.Equal([]string{"Police", "Friends"}, []string(stored.SubmittedRaw["spoken-to"]))

	v, ok := stored.Submitted.Get("Spoken to anybody?")
	s.Require().True(ok)
	s.Equal([]string{"Police or government officials", "Friends, family (told my sister)"}, v)
	s.Len(stored.Files, 1)
}

func (s *PostgresStoreSuite) TestUpdateUnknownReport() {
	err := s.store.UpdatePage(s.ctx, uuid.New(), normalize.Raw{}, nil)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
