package gerrit

import (
	"context"
	"fmt"
	"strconv"
)

// Querier runs a query expression. *QueryClient implements it.
type Querier interface {
	Query(ctx context.Context, expr string) ([]RawRecord, error)
}

// Repository answers change-level questions on top of a Querier. Each call returns a
// fresh snapshot; nothing is cached between calls.
type Repository struct {
	q Querier
}

// NewRepository creates a repository backed by q
func NewRepository(q Querier) *Repository {
	return &Repository{q: q}
}

func openQuery(project *string) string {
	if project == nil || *project == "" {
		return "is:open"
	}
	return "is:open project:" + *project
}

// ListOpenChanges returns every open change, optionally restricted to one project.
// The result is unordered; use SortByLastUpdate when order matters.
func (r *Repository) ListOpenChanges(ctx context.Context, project *string) ([]*Change, error) {
	changes, err := r.query(ctx, openQuery(project))
	if err != nil {
		return nil, fmt.Errorf("failed to list open changes: %w", err)
	}
	return changes, nil
}

// GetLastChange returns the most recently updated open change, or nil when there is none
func (r *Repository) GetLastChange(ctx context.Context, project *string) (*Change, error) {
	changes, err := r.ListOpenChanges(ctx, project)
	if err != nil {
		return nil, err
	}
	return latest(changes, func(*Change) bool { return true }), nil
}

// GetLastUnverifiedChange returns the most recently updated open change whose
// verification score is below +1, or nil. This picks the next change to build.
func (r *Repository) GetLastUnverifiedChange(ctx context.Context, project *string) (*Change, error) {
	changes, err := r.ListOpenChanges(ctx, project)
	if err != nil {
		return nil, err
	}
	return latest(changes, (*Change).NeedsVerification), nil
}

// GetUnverifiedOpenChanges returns all open changes whose verification score is below +1
func (r *Repository) GetUnverifiedOpenChanges(ctx context.Context, project *string) ([]*Change, error) {
	changes, err := r.ListOpenChanges(ctx, project)
	if err != nil {
		return nil, err
	}

	var out []*Change
	for _, c := range changes {
		if c.NeedsVerification() {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChangeByRevision returns the change containing the given commit, or nil
func (r *Repository) GetChangeByRevision(ctx context.Context, commit string) (*Change, error) {
	return r.lookup(ctx, "commit:"+commit)
}

// GetChangeByID returns the change with the given Change-Id, or nil
func (r *Repository) GetChangeByID(ctx context.Context, changeID string) (*Change, error) {
	return r.lookup(ctx, "change:"+changeID)
}

// GetChangeByNumber returns the change with the given number, or nil
func (r *Repository) GetChangeByNumber(ctx context.Context, number int) (*Change, error) {
	return r.lookup(ctx, strconv.Itoa(number))
}

func (r *Repository) lookup(ctx context.Context, expr string) (*Change, error) {
	changes, err := r.query(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %q: %w", expr, err)
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return changes[0], nil
}

// query maps every change record. A trailer counting rows that never arrived is
// a ProtocolError; no trailer at all, or a zero count, is simply no match.
func (r *Repository) query(ctx context.Context, expr string) ([]*Change, error) {
	records, err := r.q.Query(ctx, expr)
	if err != nil {
		return nil, err
	}

	rowCount := -1
	var changes []*Change
	for _, rec := range records {
		if !rec.HasProject() {
			if n, ok := rec.RowCount(); ok {
				rowCount = n
			}
			continue
		}

		c, err := MapChange(rec)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}

	if len(changes) == 0 && rowCount > 0 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("%q reported %d rows but returned no change", expr, rowCount)}
	}
	return changes, nil
}

// latest returns the change with the greatest LastUpdate among those accepted by keep.
// Ties go to the one enumerated last.
func latest(changes []*Change, keep func(*Change) bool) *Change {
	var best *Change
	for _, c := range changes {
		if !keep(c) {
			continue
		}
		if best == nil || !c.LastUpdate.Before(best.LastUpdate) {
			best = c
		}
	}
	return best
}
