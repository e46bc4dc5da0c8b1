package hackathon

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/rowstore"
)

// Tab names of the hackathon record shapes.
const (
	ProjectsTab = "projects"
	HackersTab  = "hackers"
)

const (
	fieldName        = "name"
	fieldDescription = "description"
	fieldMembers     = "members"
	fieldLocked      = "locked"
	fieldStarted     = "started"
	fieldEmail       = "email"
	fieldProject     = "project"

	hackerKeyColumn = fieldEmail
)

var (
	// ErrProjectNotFound indicates that no project matches the reference.
	ErrProjectNotFound = errors.New("hackathon: project not found")
	// ErrHackerNotFound indicates that no hacker matches the email.
	ErrHackerNotFound = errors.New("hackathon: hacker not found")
	// ErrInvalidInput indicates a blank name or email.
	ErrInvalidInput = errors.New("hackathon: invalid input")
	// ErrProjectLocked indicates a membership change on a locked project.
	ErrProjectLocked = errors.New("hackathon: project locked")
)

// ProjectShape is the projects tab layout.
var ProjectShape = rowstore.MustShape(
	rowstore.Field{Name: rowstore.IDField, Type: rowstore.FieldString},
	rowstore.Field{Name: rowstore.UpdatedField, Type: rowstore.FieldDate},
	rowstore.Field{Name: fieldName, Type: rowstore.FieldString},
	rowstore.Field{Name: fieldDescription, Type: rowstore.FieldString},
	rowstore.Field{Name: fieldMembers, Type: rowstore.FieldList},
	rowstore.Field{Name: fieldLocked, Type: rowstore.FieldBoolean},
	rowstore.Field{Name: fieldStarted, Type: rowstore.FieldDate},
)

// HackerShape is the hackers tab layout; hackers are keyed by email.
var HackerShape = rowstore.MustShape(
	rowstore.Field{Name: rowstore.IDField, Type: rowstore.FieldString},
	rowstore.Field{Name: rowstore.UpdatedField, Type: rowstore.FieldDate},
	rowstore.Field{Name: fieldEmail, Type: rowstore.FieldString},
	rowstore.Field{Name: fieldName, Type: rowstore.FieldString},
	rowstore.Field{Name: fieldProject, Type: rowstore.FieldString},
)

// TabEnsurer creates a tab with a header or verifies the header of an existing tab.
type TabEnsurer interface {
	EnsureTab(ctx context.Context, tab string, header []string) error
}

// EnsureTabs writes the projects and hackers headers.
func EnsureTabs(ctx context.Context, store TabEnsurer) error {
	if err := store.EnsureTab(ctx, ProjectsTab, ProjectShape.Header()); err != nil {
		return err
	}
	return store.EnsureTab(ctx, HackersTab, HackerShape.Header())
}

// Project is a typed view of a projects row.
type Project struct {
	ID          string
	Name        string
	Description string
	Members     []string
	Locked      bool
	Started     time.Time
	UpdatedAt   time.Time
	Position    int
}

// Hacker is a typed view of a hackers row.
type Hacker struct {
	ID        string
	Email     string
	Name      string
	Project   string
	UpdatedAt time.Time
	Position  int
}

func projectFromRow(row *rowstore.Row) Project {
	return Project{
		ID:          row.ID(),
		Name:        row.Text(fieldName),
		Description: row.Text(fieldDescription),
		Members:     row.List(fieldMembers),
		Locked:      row.Bool(fieldLocked),
		Started:     row.Time(fieldStarted),
		UpdatedAt:   row.UpdatedAt(),
		Position:    row.Position(),
	}
}

func hackerFromRow(row *rowstore.Row) Hacker {
	return Hacker{
		ID:        row.ID(),
		Email:     row.Text(fieldEmail),
		Name:      row.Text(fieldName),
		Project:   row.Text(fieldProject),
		UpdatedAt: row.UpdatedAt(),
		Position:  row.Position(),
	}
}

// projectObject carries the caller's update time so stale views are rejected on save.
func projectObject(project Project) map[string]any {
	return map[string]any{
		rowstore.UpdatedField: project.UpdatedAt,
		fieldName:             project.Name,
		fieldDescription:      project.Description,
		fieldMembers:          append([]string{}, project.Members...),
		fieldLocked:           project.Locked,
		fieldStarted:          project.Started,
	}
}
