package hackathon

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/rowstore"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheets"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("id-%d", s.next), nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestDirectory(t *testing.T) (*Directory, *sheets.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:hackboard_directory_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sheets.SheetRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := sheets.NewStore(sheets.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	if err := EnsureTabs(context.Background(), store); err != nil {
		t.Fatalf("failed to ensure tabs: %v", err)
	}
	return openDirectory(t, store), store
}

func openDirectory(t *testing.T, store *sheets.Store) *Directory {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	directory, err := OpenDirectory(context.Background(), DirectoryConfig{
		Backend:    store,
		Clock:      clock.Now,
		IDProvider: &sequenceIDs{},
	})
	if err != nil {
		t.Fatalf("failed to open directory: %v", err)
	}
	return directory
}

func TestShapeHeaders(t *testing.T) {
	projectHeader := ProjectShape.Header()
	if len(projectHeader) != 7 || projectHeader[4] != "members" {
		t.Fatalf("unexpected project header %v", projectHeader)
	}
	hackerHeader := HackerShape.Header()
	if len(hackerHeader) != 5 || hackerHeader[2] != "email" {
		t.Fatalf("unexpected hacker header %v", hackerHeader)
	}
}

func TestAddProjectPersistsTypedFields(t *testing.T) {
	directory, store := newTestDirectory(t)
	ctx := context.Background()

	project, err := directory.AddProject(ctx, ProjectInput{
		Name:        " Rocket ",
		Description: "Launch things",
		Members:     []string{"Ann@example.com", "ann@example.com", " ", "bea@example.com"},
	})
	if err != nil {
		t.Fatalf("add project failed: %v", err)
	}
	if project.ID != "id-1" || project.Name != "Rocket" || project.Position != 2 {
		t.Fatalf("unexpected project %#v", project)
	}
	if len(project.Members) != 2 || project.Members[0] != "ann@example.com" {
		t.Fatalf("expected normalized members, got %v", project.Members)
	}
	if project.Started.IsZero() || project.UpdatedAt.IsZero() {
		t.Fatalf("expected dates to be stamped")
	}

	reopened := openDirectory(t, store)
	loaded, err := reopened.Project("Rocket")
	if err != nil {
		t.Fatalf("project lookup failed: %v", err)
	}
	if loaded.ID != project.ID || loaded.Description != "Launch things" || len(loaded.Members) != 2 {
		t.Fatalf("unexpected reloaded project %#v", loaded)
	}
	if !loaded.UpdatedAt.Equal(project.UpdatedAt) {
		t.Fatalf("expected update stamp to survive the round trip, got %v and %v", loaded.UpdatedAt, project.UpdatedAt)
	}

	if _, err := directory.AddProject(ctx, ProjectInput{Name: "Rocket"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected duplicate name to be rejected, got %v", err)
	}
	if _, err := directory.AddProject(ctx, ProjectInput{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected blank name to be rejected, got %v", err)
	}
}

func TestProjectNotFound(t *testing.T) {
	directory, _ := newTestDirectory(t)
	if _, err := directory.Project("ghost"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
	if _, err := directory.Hacker("ghost@example.com"); !errors.Is(err, ErrHackerNotFound) {
		t.Fatalf("expected hacker not found, got %v", err)
	}
	if err := directory.RemoveProject(context.Background(), "ghost"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
}

func TestSaveProjectRejectsStaleView(t *testing.T) {
	directory, store := newTestDirectory(t)
	ctx := context.Background()

	project, err := directory.AddProject(ctx, ProjectInput{Name: "Rocket"})
	if err != nil {
		t.Fatalf("add project failed: %v", err)
	}

	other := openDirectory(t, store)
	if _, err := other.SetLocked(ctx, project.ID, true); err != nil {
		t.Fatalf("concurrent lock failed: %v", err)
	}

	project.Description = "stale edit"
	_, err = directory.SaveProject(ctx, project)
	if !errors.Is(err, rowstore.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	current, err := directory.Project(project.ID)
	if err != nil {
		t.Fatalf("project lookup failed: %v", err)
	}
	if current.Description != "" || current.Locked {
		t.Fatalf("failed save must leave the local mirror unchanged, got %#v", current)
	}

	if err := directory.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	refreshed, err := directory.Project(project.ID)
	if err != nil {
		t.Fatalf("project lookup failed: %v", err)
	}
	if !refreshed.Locked {
		t.Fatalf("expected refresh to pick up the remote lock")
	}
	refreshed.Description = "fresh edit"
	saved, err := directory.SaveProject(ctx, refreshed)
	if err != nil {
		t.Fatalf("save after refresh failed: %v", err)
	}
	if saved.Description != "fresh edit" || !saved.Locked {
		t.Fatalf("unexpected saved project %#v", saved)
	}
}

func TestJoinProjectRegistersHackerAndMembership(t *testing.T) {
	directory, _ := newTestDirectory(t)
	ctx := context.Background()

	project, err := directory.AddProject(ctx, ProjectInput{Name: "Rocket"})
	if err != nil {
		t.Fatalf("add project failed: %v", err)
	}

	hacker, err := directory.JoinProject(ctx, "Ann@Example.com", "Ann", "Rocket")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if hacker.Email != "ann@example.com" || hacker.Project != project.ID || hacker.Position != 2 {
		t.Fatalf("unexpected hacker %#v", hacker)
	}

	again, err := directory.JoinProject(ctx, "ann@example.com", "", project.ID)
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	if again.Name != "Ann" || again.Position != 2 {
		t.Fatalf("expected existing hacker to be updated in place, got %#v", again)
	}
	if len(directory.Hackers()) != 1 {
		t.Fatalf("expected one hacker, got %d", len(directory.Hackers()))
	}

	joined, err := directory.Project(project.ID)
	if err != nil {
		t.Fatalf("project lookup failed: %v", err)
	}
	if len(joined.Members) != 1 || joined.Members[0] != "ann@example.com" {
		t.Fatalf("unexpected members %v", joined.Members)
	}

	if _, err := directory.SetLocked(ctx, project.ID, true); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := directory.JoinProject(ctx, "bea@example.com", "Bea", project.ID); !errors.Is(err, ErrProjectLocked) {
		t.Fatalf("expected locked project to refuse members, got %v", err)
	}
	if _, err := directory.JoinProject(ctx, "bea@example.com", "Bea", "ghost"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
}

func TestRemoveProjectClearsAssignments(t *testing.T) {
	directory, _ := newTestDirectory(t)
	ctx := context.Background()

	first, err := directory.AddProject(ctx, ProjectInput{Name: "Rocket"})
	if err != nil {
		t.Fatalf("add project failed: %v", err)
	}
	second, err := directory.AddProject(ctx, ProjectInput{Name: "Balloon"})
	if err != nil {
		t.Fatalf("add project failed: %v", err)
	}
	if _, err := directory.JoinProject(ctx, "ann@example.com", "Ann", first.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := directory.RemoveProject(ctx, "Rocket"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	projects := directory.Projects()
	if len(projects) != 1 || projects[0].ID != second.ID || projects[0].Position != 2 {
		t.Fatalf("expected Balloon to move up to row 2, got %#v", projects)
	}
	hacker, err := directory.Hacker("ann@example.com")
	if err != nil {
		t.Fatalf("hacker lookup failed: %v", err)
	}
	if hacker.Project != "" {
		t.Fatalf("expected assignment to be cleared, got %q", hacker.Project)
	}
}

func TestOpenDirectoryRequiresTabs(t *testing.T) {
	dsn := fmt.Sprintf("file:hackboard_directory_empty_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sheets.SheetRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := sheets.NewStore(sheets.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	if _, err := OpenDirectory(context.Background(), DirectoryConfig{Backend: store}); !errors.Is(err, sheets.ErrTabNotFound) {
		t.Fatalf("expected missing tab error, got %v", err)
	}
}
