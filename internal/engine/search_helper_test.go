package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restkit/internal/metadata"
)

func TestLimitPriority(t *testing.T) {
	cases := []struct {
		name     string
		params   map[string]string
		defaults metadata.Defaults
		want     int
		has      bool
	}{
		{"limit wins", map[string]string{"limit": "5", "per_page": "10", "perPage": "20"}, metadata.Defaults{}, 5, true},
		{"per_page before perPage", map[string]string{"per_page": "10", "perPage": "20"}, metadata.Defaults{}, 10, true},
		{"perPage", map[string]string{"perPage": "20"}, metadata.Defaults{}, 20, true},
		{"default", nil, metadata.Defaults{Limit: "25"}, 25, true},
		{"all", map[string]string{"limit": "all"}, metadata.Defaults{}, AllLimit, true},
		{"none", nil, metadata.Defaults{}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSearchHelper(tc.params, tc.defaults)
			require.NoError(t, err)
			got, has := s.Limit()
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.has, has)
			assert.Equal(t, tc.has, s.Paginate())
		})
	}
}

func TestBadLimit(t *testing.T) {
	_, err := NewSearchHelper(map[string]string{"limit": "ten"}, metadata.Defaults{})
	requireCode(t, err, "BAD_PARAMETER", 400)

	_, err = NewSearchHelper(map[string]string{"limit": "-1"}, metadata.Defaults{})
	requireCode(t, err, "BAD_PARAMETER", 400)
}

func TestOffsetFromPage(t *testing.T) {
	s := mustSearch(t, map[string]string{"limit": "10", "page": "3"})
	off, ok := s.Offset()
	assert.True(t, ok)
	assert.Equal(t, 20, off)

	// explicit offset beats page
	s = mustSearch(t, map[string]string{"limit": "10", "page": "3", "offset": "7"})
	off, _ = s.Offset()
	assert.Equal(t, 7, off)

	// page means nothing without a limit
	s = mustSearch(t, map[string]string{"page": "3"})
	_, ok = s.Offset()
	assert.False(t, ok)

	_, err := NewSearchHelper(map[string]string{"limit": "10", "page": "0"}, metadata.Defaults{})
	requireCode(t, err, "BAD_PARAMETER", 400)
}

func TestOffsetFromPageOutOfRange(t *testing.T) {
	s := mustSearch(t, map[string]string{"limit": "all", "page": "2"})
	off, _ := s.Offset()
	assert.Equal(t, AllLimit, off)

	_, err := NewSearchHelper(map[string]string{"limit": "all", "page": "9223372036854775807"}, metadata.Defaults{})
	requireCode(t, err, "BAD_PARAMETER", 400)
}

func TestSortParsing(t *testing.T) {
	s := mustSearch(t, map[string]string{"sort": "-title, +id,department:name"})
	assert.Equal(t, []SortField{
		{Name: "title", Desc: true},
		{Name: "id"},
		{Name: "department:name"},
	}, s.Sort())
	assert.Equal(t, "title DESC, id ASC, department:name ASC", s.SortSQL())

	s = mustSearch(t, map[string]string{"sort_field": "title desc, id ASC"})
	assert.Equal(t, []SortField{{Name: "title", Desc: true}, {Name: "id"}}, s.Sort())

	s, err := NewSearchHelper(nil, metadata.Defaults{Sort: "-id"})
	require.NoError(t, err)
	assert.Equal(t, []SortField{{Name: "id", Desc: true}}, s.Sort())

	_, err = NewSearchHelper(map[string]string{"sort": "title sideways"}, metadata.Defaults{})
	requireCode(t, err, "BAD_SORT", 400)
}

func TestFieldsParsing(t *testing.T) {
	s := mustSearch(t, map[string]string{"fields": "(id, title)"})
	assert.Equal(t, []string{"id", "title"}, s.Fields())

	_, err := NewSearchHelper(map[string]string{"fields": "id,title"}, metadata.Defaults{})
	requireCode(t, err, "BAD_FIELDS", 400)

	_, err = NewSearchHelper(map[string]string{"fields": "( )"}, metadata.Defaults{})
	requireCode(t, err, "BAD_FIELDS", 400)
}

func TestSearchFieldsSkipReservedAndApplyFixedDefaults(t *testing.T) {
	params := map[string]string{
		"title": "Eng*", "limit": "5", "with": "all", "_url": "/api/employees",
		"department_id": "2",
	}
	s, err := NewSearchHelper(params, metadata.Defaults{Search: map[string]string{"department_id": "1"}})
	require.NoError(t, err)
	assert.Equal(t, []SearchField{
		{Name: "department_id", Value: "1"},
		{Name: "title", Value: "Eng*"},
	}, s.SearchFields())
}

func TestResolveWith(t *testing.T) {
	parents := []string{"person"}

	cases := []struct {
		name     string
		supplied string
		def      string
		want     []string
		all      bool
	}{
		{"all", "all", "none", parents, true},
		{"none", "none", "all", parents, false},
		{"default all", "", "all", parents, true},
		{"list", "task,badge", "none", []string{"task", "badge", "person"}, false},
		{"list merges default list", "task", "department", []string{"task", "department", "person"}, false},
		{"default list", "", "department", []string{"department", "person"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := map[string]string{}
			if tc.supplied != "" {
				params["with"] = tc.supplied
			}
			s, err := NewSearchHelper(params, metadata.Defaults{With: tc.def})
			require.NoError(t, err)
			names, all, err := s.ResolveWith(parents)
			require.NoError(t, err)
			assert.Equal(t, tc.want, names)
			assert.Equal(t, tc.all, all)
		})
	}
}

func TestResolveWithUnresolved(t *testing.T) {
	s, err := NewSearchHelper(nil, metadata.Defaults{})
	require.NoError(t, err)
	_, _, err = s.ResolveWith(nil)
	requireCode(t, err, "RELATIONSHIP_SET_UNRESOLVED", 401)
}
