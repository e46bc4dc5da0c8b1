package integration_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/database"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/hackathon"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/rowstore"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/server"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheetclient"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheets"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	integrationSigningSecret = "integration-secret"
	integrationIssuer        = "hackboard-auth"
	integrationAudience      = "hackboard-api"
)

type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func startBackend(testContext *testing.T) *httptest.Server {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(testContext.TempDir(), "integration.db")
	db, err := database.OpenSQLite(context.Background(), databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	store, err := sheets.NewStore(sheets.StoreConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to construct store: %v", err)
	}
	issuer := newIssuer(testContext)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:        store,
		TokenManager: issuer,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}
	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return testServer
}

func newIssuer(testContext *testing.T) *auth.TokenIssuer {
	testContext.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        integrationIssuer,
		Audience:      integrationAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}
	return issuer
}

func loadProjects(testContext *testing.T, baseURL, subject string, clock *steppingClock) *rowstore.Table {
	testContext.Helper()
	token, _, err := newIssuer(testContext).IssueToken(subject)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}
	client, err := sheetclient.New(sheetclient.Config{BaseURL: baseURL, Token: token})
	if err != nil {
		testContext.Fatalf("failed to construct client: %v", err)
	}
	table, err := rowstore.LoadTable(context.Background(), rowstore.TableConfig{
		Name:    hackathon.ProjectsTab,
		Shape:   hackathon.ProjectShape,
		Backend: client,
		Clock:   clock.Now,
	})
	if err != nil {
		testContext.Fatalf("failed to load projects for %s: %v", subject, err)
	}
	return table
}

func TestConcurrentEditorsDetectConflicts(testContext *testing.T) {
	testServer := startBackend(testContext)
	ctx := context.Background()

	aliceClock := &steppingClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	bobClock := &steppingClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	alice := loadProjects(testContext, testServer.URL, "alice", aliceClock)

	draft := alice.NewRow()
	if err := draft.AssignObject(map[string]any{"name": "Rocket", "members": "ann@example.com,bea@example.com", "locked": "no"}); err != nil {
		testContext.Fatalf("failed to assign draft: %v", err)
	}
	created, err := alice.Create(ctx, draft)
	if err != nil {
		testContext.Fatalf("alice create failed: %v", err)
	}
	if created.Position() != 2 || len(created.List("members")) != 2 || created.Bool("locked") {
		testContext.Fatalf("unexpected created row %v", created.Values())
	}

	bob := loadProjects(testContext, testServer.URL, "bob", bobClock)
	bobCopy := bob.Get(created.ID())
	if bobCopy == nil || !bobCopy.Equal(created) {
		testContext.Fatalf("expected bob to see alice's row")
	}
	bobEdit := bobCopy.Clone()
	if err := bobEdit.Set("locked", true); err != nil {
		testContext.Fatalf("failed to stage bob edit: %v", err)
	}
	if _, err := bob.Update(ctx, bobEdit); err != nil {
		testContext.Fatalf("bob update failed: %v", err)
	}

	aliceEdit := created.Clone()
	if err := aliceEdit.Set("description", "stale"); err != nil {
		testContext.Fatalf("failed to stage alice edit: %v", err)
	}
	_, err = alice.Update(ctx, aliceEdit)
	if !errors.Is(err, rowstore.ErrConflict) {
		testContext.Fatalf("expected conflict for alice, got %v", err)
	}
	var conflict *rowstore.ConflictError
	if !errors.As(err, &conflict) {
		testContext.Fatalf("expected a conflict report, got %T", err)
	}
	mismatches := conflict.Mismatches()
	if len(mismatches) != 1 || mismatches[0].Field != rowstore.UpdatedField {
		testContext.Fatalf("expected a single update-time mismatch, got %v", mismatches)
	}

	if _, err := alice.Refresh(ctx); err != nil {
		testContext.Fatalf("alice refresh failed: %v", err)
	}
	refreshed := alice.Get(created.ID())
	if refreshed == nil || !refreshed.Bool("locked") {
		testContext.Fatalf("expected alice to see bob's lock after refresh")
	}

	if err := alice.Delete(ctx, refreshed); err != nil {
		testContext.Fatalf("alice delete failed: %v", err)
	}
	if alice.Len() != 0 {
		testContext.Fatalf("expected alice's mirror to be empty, got %d rows", alice.Len())
	}

	err = bob.CheckOutdated(ctx, bob.Get(created.ID()))
	if !errors.As(err, &conflict) {
		testContext.Fatalf("expected bob's copy to be outdated, got %v", err)
	}
	if mismatches := conflict.Mismatches(); len(mismatches) != 1 || mismatches[0].Field != rowstore.MismatchRowMissing {
		testContext.Fatalf("expected a missing-row mismatch, got %v", mismatches)
	}
}

func TestDirectoryOverHTTP(testContext *testing.T) {
	testServer := startBackend(testContext)
	ctx := context.Background()

	token, _, err := newIssuer(testContext).IssueToken("organizer")
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}
	client, err := sheetclient.New(sheetclient.Config{BaseURL: testServer.URL, Token: token})
	if err != nil {
		testContext.Fatalf("failed to construct client: %v", err)
	}
	directory, err := hackathon.OpenDirectory(ctx, hackathon.DirectoryConfig{Backend: client})
	if err != nil {
		testContext.Fatalf("failed to open directory: %v", err)
	}

	project, err := directory.AddProject(ctx, hackathon.ProjectInput{Name: "Rocket"})
	if err != nil {
		testContext.Fatalf("add project failed: %v", err)
	}
	if _, err := directory.JoinProject(ctx, "ann@example.com", "Ann", project.Name); err != nil {
		testContext.Fatalf("join failed: %v", err)
	}

	values, err := client.ReadTab(ctx, hackathon.HackersTab)
	if err != nil {
		testContext.Fatalf("read hackers failed: %v", err)
	}
	if len(values) != 2 || values[1][2] != "ann@example.com" || values[1][4] != project.ID {
		testContext.Fatalf("unexpected hackers tab %v", values)
	}

	unauthorized, err := sheetclient.New(sheetclient.Config{BaseURL: testServer.URL})
	if err != nil {
		testContext.Fatalf("failed to construct client: %v", err)
	}
	if _, err := unauthorized.Tabs(ctx); !errors.Is(err, sheetclient.ErrUnauthorized) {
		testContext.Fatalf("expected unauthorized, got %v", err)
	}
}
