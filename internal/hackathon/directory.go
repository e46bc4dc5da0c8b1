package hackathon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/rowstore"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	opOpenDirectory = "hackathon.open"
	opAddProject    = "hackathon.add_project"
	opSaveProject   = "hackathon.save_project"
	opRemoveProject = "hackathon.remove_project"
	opJoinProject   = "hackathon.join_project"
)

// DirectoryConfig describes the dependencies of a Directory.
type DirectoryConfig struct {
	Backend    rowstore.Backend
	Clock      func() time.Time
	IDProvider rowstore.IDProvider
	Logger     *zap.Logger
}

// Directory exposes the projects and hackers tabs as typed records.
type Directory struct {
	projects *rowstore.Table
	hackers  *rowstore.Table
	clock    func() time.Time
	logger   *zap.Logger
}

// ProjectInput carries the fields of a new project.
type ProjectInput struct {
	Name        string
	Description string
	Members     []string
}

// OpenDirectory loads both tabs through the backend.
func OpenDirectory(ctx context.Context, cfg DirectoryConfig) (*Directory, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	projects, err := rowstore.LoadTable(ctx, rowstore.TableConfig{
		Name:       ProjectsTab,
		Shape:      ProjectShape,
		Backend:    cfg.Backend,
		Clock:      clock,
		IDProvider: cfg.IDProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opOpenDirectory, err)
	}
	hackers, err := rowstore.LoadTable(ctx, rowstore.TableConfig{
		Name:       HackersTab,
		Shape:      HackerShape,
		KeyColumn:  hackerKeyColumn,
		Backend:    cfg.Backend,
		Clock:      clock,
		IDProvider: cfg.IDProvider,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opOpenDirectory, err)
	}
	return &Directory{projects: projects, hackers: hackers, clock: clock, logger: logger}, nil
}

// Refresh reloads both tabs.
func (d *Directory) Refresh(ctx context.Context) error {
	if _, err := d.projects.Refresh(ctx); err != nil {
		return err
	}
	_, err := d.hackers.Refresh(ctx)
	return err
}

// Projects lists every project in tab order.
func (d *Directory) Projects() []Project {
	rows := d.projects.Rows()
	projects := make([]Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, projectFromRow(row))
	}
	return projects
}

// Project resolves a project by id, then by name.
func (d *Directory) Project(ref string) (Project, error) {
	row := d.projectRow(ref)
	if row == nil {
		return Project{}, fmt.Errorf("%w: %q", ErrProjectNotFound, ref)
	}
	return projectFromRow(row), nil
}

// AddProject creates a project with a unique name.
func (d *Directory) AddProject(ctx context.Context, input ProjectInput) (Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: project name required", ErrInvalidInput)
	}
	if d.projects.Find(name, fieldName) != nil {
		return Project{}, fmt.Errorf("%w: project %q already exists", ErrInvalidInput, name)
	}

	row := d.projects.NewRow()
	err := row.AssignObject(map[string]any{
		fieldName:        name,
		fieldDescription: strings.TrimSpace(input.Description),
		fieldMembers:     normalizeMembers(input.Members),
		fieldStarted:     d.clock(),
	})
	if err != nil {
		return Project{}, fmt.Errorf("%s: %w", opAddProject, err)
	}
	created, err := d.projects.Create(ctx, row)
	if err != nil {
		return Project{}, fmt.Errorf("%s: %w", opAddProject, err)
	}
	d.logger.Info("project added", zap.String("project_id", created.ID()), zap.String("name", name))
	return projectFromRow(created), nil
}

// SaveProject writes project back. The write is rejected with rowstore.ErrConflict when the
// project changed remotely after project.UpdatedAt.
func (d *Directory) SaveProject(ctx context.Context, project Project) (Project, error) {
	current := d.projects.Get(project.ID)
	if current == nil {
		return Project{}, fmt.Errorf("%w: %q", ErrProjectNotFound, project.ID)
	}
	project.Members = normalizeMembers(project.Members)

	staged := current.Clone()
	if err := staged.AssignObject(projectObject(project)); err != nil {
		return Project{}, fmt.Errorf("%s: %w", opSaveProject, err)
	}
	updated, err := d.projects.Update(ctx, staged)
	if err != nil {
		return Project{}, fmt.Errorf("%s: %w", opSaveProject, err)
	}
	return projectFromRow(updated), nil
}

// SetLocked locks or unlocks a project.
func (d *Directory) SetLocked(ctx context.Context, ref string, locked bool) (Project, error) {
	project, err := d.Project(ref)
	if err != nil {
		return Project{}, err
	}
	project.Locked = locked
	return d.SaveProject(ctx, project)
}

// RemoveProject deletes a project and clears the assignment of its hackers.
func (d *Directory) RemoveProject(ctx context.Context, ref string) error {
	row := d.projectRow(ref)
	if row == nil {
		return fmt.Errorf("%w: %q", ErrProjectNotFound, ref)
	}
	projectID := row.ID()
	if err := d.projects.Delete(ctx, row); err != nil {
		return fmt.Errorf("%s: %w", opRemoveProject, err)
	}

	var errs error
	for _, hacker := range d.hackers.Rows() {
		if hacker.Text(fieldProject) != projectID {
			continue
		}
		staged := hacker.Clone()
		if err := staged.Set(fieldProject, ""); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := d.hackers.Update(ctx, staged); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return fmt.Errorf("%s: %w", opRemoveProject, errs)
	}
	d.logger.Info("project removed", zap.String("project_id", projectID))
	return nil
}

// Hackers lists every hacker in tab order.
func (d *Directory) Hackers() []Hacker {
	rows := d.hackers.Rows()
	hackers := make([]Hacker, 0, len(rows))
	for _, row := range rows {
		hackers = append(hackers, hackerFromRow(row))
	}
	return hackers
}

// Hacker looks a hacker up by email.
func (d *Directory) Hacker(email string) (Hacker, error) {
	row := d.hackers.Get(normalizeEmail(email))
	if row == nil {
		return Hacker{}, fmt.Errorf("%w: %q", ErrHackerNotFound, email)
	}
	return hackerFromRow(row), nil
}

// JoinProject registers the hacker if needed, assigns them to the project and adds them to its members.
func (d *Directory) JoinProject(ctx context.Context, email, name, projectRef string) (Hacker, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Hacker{}, fmt.Errorf("%w: email required", ErrInvalidInput)
	}
	projectRow := d.projectRow(projectRef)
	if projectRow == nil {
		return Hacker{}, fmt.Errorf("%w: %q", ErrProjectNotFound, projectRef)
	}
	if projectRow.Bool(fieldLocked) {
		return Hacker{}, fmt.Errorf("%w: %q", ErrProjectLocked, projectRow.Text(fieldName))
	}

	hacker, err := d.saveHacker(ctx, email, strings.TrimSpace(name), projectRow.ID())
	if err != nil {
		return Hacker{}, fmt.Errorf("%s: %w", opJoinProject, err)
	}

	members := projectRow.List(fieldMembers)
	for _, member := range members {
		if member == email {
			return hacker, nil
		}
	}
	staged := projectRow.Clone()
	if err := staged.Set(fieldMembers, append(members, email)); err != nil {
		return Hacker{}, fmt.Errorf("%s: %w", opJoinProject, err)
	}
	if _, err := d.projects.Update(ctx, staged); err != nil {
		return Hacker{}, fmt.Errorf("%s: %w", opJoinProject, err)
	}
	return hacker, nil
}

func (d *Directory) saveHacker(ctx context.Context, email, name, projectID string) (Hacker, error) {
	row := d.hackers.Get(email)
	if row == nil {
		row = d.hackers.NewRow()
		if err := row.Set(fieldEmail, email); err != nil {
			return Hacker{}, err
		}
	} else {
		row = row.Clone()
	}
	if name != "" {
		if err := row.Set(fieldName, name); err != nil {
			return Hacker{}, err
		}
	}
	if err := row.Set(fieldProject, projectID); err != nil {
		return Hacker{}, err
	}
	saved, err := d.hackers.Save(ctx, row)
	if err != nil {
		return Hacker{}, err
	}
	return hackerFromRow(saved), nil
}

func (d *Directory) projectRow(ref string) *rowstore.Row {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if row := d.projects.Get(ref); row != nil {
		return row
	}
	return d.projects.Find(ref, fieldName)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizeMembers trims entries and drops blanks and duplicates; commas would split on read-back.
func normalizeMembers(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	normalized := make([]string, 0, len(members))
	for _, member := range members {
		member = strings.ReplaceAll(normalizeEmail(member), ",", "")
		if member == "" {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		normalized = append(normalized, member)
	}
	return normalized
}
