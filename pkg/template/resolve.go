package template

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/surge/pkg/errors"
)

// ReferenceLoader fetches candidate values for the groups of one table.
// Implementations receive every group the template needs from table in a
// single call; groups missing from the result are reported lazily.
type ReferenceLoader interface {
	LoadReferenceValues(ctx context.Context, table string, groups []string) (map[string][]string, error)
}

// ReferenceTable maps table name to group name to candidate values.
// It is built once and never modified afterwards.
type ReferenceTable map[string]map[string][]string

// Lookup returns the values of a (table, group) pair, or a lookup error if
// the pair is missing or has no values.
func (t ReferenceTable) Lookup(table, group string) ([]string, error) {
	values, ok := t[table][group]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeLookup, "group %s not found in table %s", group, table).
			WithDetail("table", table).
			WithDetail("group", group)
	}
	if len(values) == 0 {
		return nil, errors.Newf(errors.ErrorTypeLookup, "group %s in table %s has no values", group, table).
			WithDetail("table", table).
			WithDetail("group", group)
	}
	return values, nil
}

// ResolveReferences loads the values every ReferenceValue match needs. It
// issues exactly one LoadReferenceValues call per distinct table, passing
// that table's groups deduplicated in order of first appearance, and runs
// the calls concurrently. Matches of other kinds are ignored.
func ResolveReferences(ctx context.Context, loader ReferenceLoader, matches []Match) (ReferenceTable, error) {
	var tables []string
	groups := make(map[string][]string)
	seen := make(map[[2]string]bool)

	for _, m := range matches {
		if m.Func != FuncReferenceValue {
			continue
		}
		table, group := m.Args[0], m.Args[1]
		if _, ok := groups[table]; !ok {
			tables = append(tables, table)
			groups[table] = nil
		}
		if key := [2]string{table, group}; !seen[key] {
			seen[key] = true
			groups[table] = append(groups[table], group)
		}
	}

	refs := make(ReferenceTable, len(tables))
	if len(tables) == 0 {
		return refs, nil
	}
	if loader == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "template uses ReferenceValue but no catalog is configured")
	}

	results := make([]map[string][]string, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range tables {
		g.Go(func() error {
			values, err := loader.LoadReferenceValues(gctx, table, groups[table])
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeLookup, "load reference values for table "+table).
					WithDetail("table", table)
			}
			results[i] = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, table := range tables {
		if results[i] == nil {
			results[i] = map[string][]string{}
		}
		refs[table] = results[i]
	}
	return refs, nil
}
