package exportsource

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type ObjectIDString = string
type SortExpressionString = string

const (
	sortFieldSeparator     = ";"
	sortDirectionSeparator = ":"
	sortDirectionAsc       = "asc"
	sortDirectionDesc      = "desc"
)

/***** ExportQuery *****/

// ExportQuery describes which window of an export should be read from a PagedSource.
//
// Take == 0 is the "count only" sentinel: a source must not return any items for it.
// Sort has the form "field[:asc|desc];field[:asc|desc]...".
type ExportQuery struct {
	Skip      int
	Take      int
	ObjectIDs []ObjectIDString
	Sort      SortExpressionString
}

// Validate checks that the query window is not negative and that the sort expression can be parsed.
func (q ExportQuery) Validate() error {
	if q.Skip < 0 {
		return errors.Join(ErrInvalidExportQuery, fmt.Errorf("negative skip: %d", q.Skip))
	}

	if q.Take < 0 {
		return errors.Join(ErrInvalidExportQuery, fmt.Errorf("negative take: %d", q.Take))
	}

	if slices.Contains(q.ObjectIDs, "") {
		return errors.Join(ErrInvalidExportQuery, errors.New("empty object id"))
	}

	if _, err := q.SortFields(); err != nil {
		return errors.Join(ErrInvalidExportQuery, err)
	}

	return nil
}

// Clone returns a deep copy of the query, so that the copy's ObjectIDs can not be altered via the original.
func (q ExportQuery) Clone() ExportQuery {
	c := q
	if q.ObjectIDs != nil {
		c.ObjectIDs = slices.Clone(q.ObjectIDs)
	}

	return c
}

// Window returns a copy of the query with Skip and Take replaced.
func (q ExportQuery) Window(skip, take int) ExportQuery {
	c := q.Clone()
	c.Skip = skip
	c.Take = take

	return c
}

// Counting returns a copy of the query with Skip=0 and Take=0, the "count only" sentinel.
func (q ExportQuery) Counting() ExportQuery {
	return q.Window(0, 0)
}

// IsCountOnly reports whether the query must not fetch any items.
func (q ExportQuery) IsCountOnly() bool {
	return q.Take == 0
}

// HasObjectIDs reports whether the query is restricted to a set of object ids.
func (q ExportQuery) HasObjectIDs() bool {
	return len(q.ObjectIDs) > 0
}

// SortFields parses the Sort expression.
// An empty expression yields no fields; it is up to the source to apply its default ordering.
func (q ExportQuery) SortFields() ([]SortField, error) {
	return ParseSortExpression(q.Sort)
}

/***** SortField *****/

type SortField struct {
	name       string
	descending bool
}

func (sf SortField) Name() string {
	return sf.name
}

func (sf SortField) Descending() bool {
	return sf.descending
}

// ParseSortExpression parses "field[:asc|desc];field..." into SortFields.
// Field names are lower-cased and trimmed, empty segments are skipped.
func ParseSortExpression(expr SortExpressionString) ([]SortField, error) {
	fields := make([]SortField, 0)

	for _, segment := range strings.Split(expr, sortFieldSeparator) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		name, direction, hasDirection := strings.Cut(segment, sortDirectionSeparator)
		name = strings.ToLower(strings.TrimSpace(name))
		direction = strings.ToLower(strings.TrimSpace(direction))

		if name == "" {
			return nil, errors.Join(ErrInvalidSortExpression, fmt.Errorf("missing field name in %q", segment))
		}

		field := SortField{name: name}

		if hasDirection {
			switch direction {
			case sortDirectionAsc:
			case sortDirectionDesc:
				field.descending = true
			default:
				return nil, errors.Join(ErrInvalidSortExpression, fmt.Errorf("unknown direction %q for field %q", direction, name))
			}
		}

		fields = append(fields, field)
	}

	return fields, nil
}

/***** ExportQueryBuilder *****/

// ExportQueryBuilder builds an ExportQuery step by step and validates it on Finalize.
type ExportQueryBuilder struct {
	query ExportQuery
}

// BuildExportQuery starts building an ExportQuery that selects everything in default order.
func BuildExportQuery() ExportQueryBuilder {
	return ExportQueryBuilder{}
}

// WithObjectIDs restricts the export to the given object ids. Duplicates are removed, order is kept.
func (b ExportQueryBuilder) WithObjectIDs(objectIDs ...ObjectIDString) ExportQueryBuilder {
	ids := slices.Clone(b.query.ObjectIDs)
	for _, id := range objectIDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	b.query.ObjectIDs = ids

	return b
}

// SortedBy sets the sort expression.
func (b ExportQueryBuilder) SortedBy(expr SortExpressionString) ExportQueryBuilder {
	b.query.Sort = expr

	return b
}

// Skipping sets Skip.
func (b ExportQueryBuilder) Skipping(skip int) ExportQueryBuilder {
	b.query.Skip = skip

	return b
}

// Taking sets Take.
func (b ExportQueryBuilder) Taking(take int) ExportQueryBuilder {
	b.query.Take = take

	return b
}

// Finalize validates and returns the ExportQuery.
func (b ExportQueryBuilder) Finalize() (ExportQuery, error) {
	if err := b.query.Validate(); err != nil {
		return ExportQuery{}, err
	}

	return b.query.Clone(), nil
}
