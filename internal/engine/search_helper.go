package engine

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"restkit/internal/metadata"
)

// AllLimit is what limit=all resolves to.
const AllLimit = 1<<31 - 1

// reserved query parameters are never read as filters.
var reserved = map[string]bool{
	"with": true, "sort": true, "sortField": true, "sort_field": true,
	"offset": true, "limit": true, "fields": true,
	"perPage": true, "per_page": true, "page": true, "_url": true,
}

const (
	WithAll  = "all"
	WithNone = "none"
)

// SortField is one ORDER BY term. Name may carry a "table:" prefix.
type SortField struct {
	Name string
	Desc bool
}

func (s SortField) Direction() string {
	if s.Desc {
		return "DESC"
	}
	return "ASC"
}

// SearchField is one filter token in request order of keys.
type SearchField struct {
	Name  string
	Value string
}

// SearchHelper holds the search intent of one request after merging the query
// string with the model defaults. It is read-only once built.
type SearchHelper struct {
	limit     int
	hasLimit  bool
	offset    int
	hasOffset bool
	sort      []SortField
	fields    []string
	search    []SearchField

	suppliedWith string
	defaultWith  string
}

// NewSearchHelper parses query parameters against the model defaults.
func NewSearchHelper(params map[string]string, defaults metadata.Defaults) (*SearchHelper, error) {
	s := &SearchHelper{
		suppliedWith: strings.TrimSpace(params["with"]),
		defaultWith:  strings.TrimSpace(defaults.With),
	}
	if err := s.parseLimit(params, defaults); err != nil {
		return nil, err
	}
	if err := s.parseOffset(params, defaults); err != nil {
		return nil, err
	}
	if err := s.parseSort(params, defaults); err != nil {
		return nil, err
	}
	if err := s.parseFields(params["fields"]); err != nil {
		return nil, err
	}
	s.parseSearch(params, defaults.Search)
	return s, nil
}

func firstSet(params map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func parseCount(name, raw string) (int, error) {
	if strings.EqualFold(raw, "all") {
		return AllLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ClientError("BAD_PARAMETER", "%s must be a non-negative integer or all, got %q", name, raw)
	}
	return n, nil
}

// limit must be known before page can become an offset.
func (s *SearchHelper) parseLimit(params map[string]string, defaults metadata.Defaults) error {
	raw, ok := firstSet(params, "limit", "per_page", "perPage")
	if !ok {
		raw, ok = strings.TrimSpace(defaults.Limit), defaults.Limit != ""
	}
	if !ok {
		return nil
	}
	n, err := parseCount("limit", raw)
	if err != nil {
		return err
	}
	s.limit, s.hasLimit = n, true
	return nil
}

func (s *SearchHelper) parseOffset(params map[string]string, defaults metadata.Defaults) error {
	if raw, ok := firstSet(params, "offset"); ok {
		n, err := parseCount("offset", raw)
		if err != nil {
			return err
		}
		s.offset, s.hasOffset = n, true
		return nil
	}
	if raw, ok := firstSet(params, "page"); ok && s.hasLimit {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return ClientError("BAD_PARAMETER", "page must be a positive integer, got %q", raw)
		}
		if s.limit > 0 && page-1 > math.MaxInt/s.limit {
			return ClientError("BAD_PARAMETER", "page %d is out of range", page)
		}
		s.offset, s.hasOffset = (page-1)*s.limit, true
		return nil
	}
	if defaults.Offset != "" {
		n, err := parseCount("offset", strings.TrimSpace(defaults.Offset))
		if err != nil {
			return err
		}
		s.offset, s.hasOffset = n, true
	}
	return nil
}

func (s *SearchHelper) parseSort(params map[string]string, defaults metadata.Defaults) error {
	raw, ok := firstSet(params, "sort", "sort_field", "sortField")
	if !ok {
		raw = strings.TrimSpace(defaults.Sort)
	}
	if raw == "" {
		return nil
	}
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// SQL form: "name DESC"
		if parts := strings.Fields(tok); len(parts) == 2 {
			switch strings.ToUpper(parts[1]) {
			case "ASC":
				s.sort = append(s.sort, SortField{Name: parts[0]})
			case "DESC":
				s.sort = append(s.sort, SortField{Name: parts[0], Desc: true})
			default:
				return ClientError("BAD_SORT", "bad sort direction in %q", tok)
			}
			continue
		} else if len(parts) > 2 {
			return ClientError("BAD_SORT", "bad sort term %q", tok)
		}
		if name, desc := strings.CutPrefix(tok, "-"); desc {
			s.sort = append(s.sort, SortField{Name: name, Desc: true})
		} else {
			s.sort = append(s.sort, SortField{Name: strings.TrimPrefix(tok, "+")})
		}
	}
	return nil
}

func (s *SearchHelper) parseFields(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.HasPrefix(raw, "(") || !strings.HasSuffix(raw, ")") {
		return ClientError("BAD_FIELDS", "fields must be a parenthesized list like (id,name), got %q", raw)
	}
	list := lo.Compact(lo.Map(strings.Split(raw[1:len(raw)-1], ","), func(f string, _ int) string {
		return strings.TrimSpace(f)
	}))
	if len(list) == 0 {
		return ClientError("BAD_FIELDS", "fields list is empty")
	}
	s.fields = list
	return nil
}

// Model-declared search fields override anything the request supplied.
func (s *SearchHelper) parseSearch(params, fixed map[string]string) {
	merged := make(map[string]string, len(params)+len(fixed))
	for k, v := range params {
		if !reserved[k] {
			merged[k] = v
		}
	}
	for k, v := range fixed {
		merged[k] = v
	}
	keys := lo.Keys(merged)
	sort.Strings(keys)
	for _, k := range keys {
		s.search = append(s.search, SearchField{Name: k, Value: merged[k]})
	}
}

// Limit returns the resolved row limit and whether one applies.
func (s *SearchHelper) Limit() (int, bool) { return s.limit, s.hasLimit }

// Offset returns the resolved offset and whether one applies.
func (s *SearchHelper) Offset() (int, bool) { return s.offset, s.hasOffset }

// Paginate is true whenever a limit was resolved.
func (s *SearchHelper) Paginate() bool { return s.hasLimit }

func (s *SearchHelper) Sort() []SortField { return s.sort }

// SortSQL renders the sort in "field ASC, field2 DESC" form.
func (s *SearchHelper) SortSQL() string {
	return strings.Join(lo.Map(s.sort, func(f SortField, _ int) string {
		return f.Name + " " + f.Direction()
	}), ", ")
}

// Fields is the partial response column list, nil for all columns.
func (s *SearchHelper) Fields() []string { return s.fields }

func (s *SearchHelper) SearchFields() []SearchField { return s.search }

// ResolveWith returns the relation names to activate. parents are always
// included. all reports that every relation is wanted.
func (s *SearchHelper) ResolveWith(parents []string) (names []string, all bool, err error) {
	if s.suppliedWith == "" && s.defaultWith == "" {
		return nil, false, &AppError{
			Code:    "RELATIONSHIP_SET_UNRESOLVED",
			Status:  401,
			Message: "could not resolve relationship set",
		}
	}
	value := s.suppliedWith
	if value == "" {
		value = s.defaultWith
	}
	switch strings.ToLower(value) {
	case WithAll:
		return parents, true, nil
	case WithNone:
		return parents, false, nil
	}
	list := splitCSV(value)
	if s.suppliedWith != "" && isExplicitList(s.defaultWith) {
		list = lo.Union(list, splitCSV(s.defaultWith))
	}
	return lo.Union(list, parents), false, nil
}

func isExplicitList(v string) bool {
	l := strings.ToLower(v)
	return l != "" && l != WithAll && l != WithNone
}

func splitCSV(v string) []string {
	return lo.Compact(lo.Map(strings.Split(v, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
}

func (s *SearchHelper) String() string {
	return fmt.Sprintf("limit=%d/%t offset=%d/%t sort=%q with=%q/%q filters=%d",
		s.limit, s.hasLimit, s.offset, s.hasOffset, s.SortSQL(), s.suppliedWith, s.defaultWith, len(s.search))
}
