package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restkit/internal/rules"
)

const companySchema = `
models:
  - name: user
    columns: [id, email, first_name, last_name, password_hash]
    block: [password_hash]
  - name: department
    columns: [id, name]
    relations:
      - {kind: has_many, model: employee}
  - name: employee
    parent: user
    columns: [id, user_id, department_id, title, salary]
    block: [salary, email]
    relations:
      - {kind: belongs_to, model: user}
      - {kind: belongs_to, model: department}
      - {kind: has_many, model: task}
      - {kind: has_many_through, model: project, through: assignment}
    rules:
      - actions: [read]
        roles: [staff]
        conditions:
          - {field: department_id, operator: eq, value: 3}
  - name: manager
    parent: employee
    columns: [id, employee_id, level]
    relations:
      - {kind: 0, model: employee}
  - name: task
    columns: [id, employee_id, title]
  - name: project
    columns: [id, name]
  - name: assignment
    columns: [id, employee_id, project_id]
`

func loadCompany(t *testing.T) *Registry {
	t.Helper()
	models, err := Parse([]byte(companySchema))
	require.NoError(t, err)
	reg := NewRegistry()
	require.NoError(t, reg.Load(models))
	return reg
}

func TestLoadAppliesDefaults(t *testing.T) {
	reg := loadCompany(t)

	emp := reg.GetModel("employee")
	require.NotNil(t, emp)
	assert.Equal(t, "employees", emp.Table)
	assert.Equal(t, "id", emp.PrimaryKey)
	assert.Equal(t, "none", emp.Defaults.With)

	user, ok := emp.Relation("user")
	require.True(t, ok)
	assert.Equal(t, "user_id", user.Field)
	assert.Equal(t, "id", user.ReferencedField)

	tasks, ok := emp.Relation("task")
	require.True(t, ok)
	assert.Equal(t, "id", tasks.Field)
	assert.Equal(t, "employee_id", tasks.ReferencedField)

	projects, ok := emp.Relation("project")
	require.True(t, ok)
	assert.Equal(t, HasManyThrough, projects.Kind)
	assert.Equal(t, "employee_id", projects.ThroughField)
	assert.Equal(t, "project_id", projects.ThroughReferencedField)

	mgr := reg.GetModel("manager")
	link, ok := mgr.ParentLink()
	require.True(t, ok)
	assert.Equal(t, BelongsTo, link.Kind)

	require.Len(t, emp.Rules, 1)
	assert.Equal(t, rules.OpEq, emp.Rules[0].Conditions[0].Operator)
}

func TestResourceLookup(t *testing.T) {
	reg := loadCompany(t)
	assert.Equal(t, "employee", reg.Resource("employees").Name)
	assert.Equal(t, "employee", reg.Resource("employee").Name)
	assert.Nil(t, reg.Resource("widgets"))
	assert.Len(t, reg.AllModels(), 7)
	assert.Equal(t, "user", reg.AllModels()[0].Name)
}

func TestParentChainIsWalkedInOrder(t *testing.T) {
	reg := loadCompany(t)
	chain, err := reg.ParentChain("manager")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "employee", chain[0].Name)
	assert.Equal(t, "user", chain[1].Name)

	chain, err = reg.ParentChain("task")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestAllowedColumnsIncludeParentColumns(t *testing.T) {
	reg := loadCompany(t)

	// employee blocks "email" but that column belongs to the parent
	assert.Equal(t,
		[]string{"id", "user_id", "department_id", "title", "email", "first_name", "last_name"},
		reg.AllowedColumns("employee"))

	mgr := reg.AllowedColumns("manager")
	assert.Contains(t, mgr, "title")
	assert.Contains(t, mgr, "email")
	assert.NotContains(t, mgr, "salary")
	assert.NotContains(t, mgr, "password_hash")
}

func TestLoadRejectsBadSchemas(t *testing.T) {
	cases := map[string][]*Model{
		"cycle": {
			{Name: "a", Parent: "b", Relations: []RelationDef{{Kind: BelongsTo, Model: "b"}}},
			{Name: "b", Parent: "a", Relations: []RelationDef{{Kind: BelongsTo, Model: "a"}}},
		},
		"parent without link": {
			{Name: "a"},
			{Name: "b", Parent: "a"},
		},
		"ambiguous relation": {
			{Name: "a"},
			{Name: "b", Relations: []RelationDef{{Kind: BelongsTo, Model: "a"}, {Kind: HasOne, Model: "a"}}},
		},
		"unknown target": {
			{Name: "a", Relations: []RelationDef{{Kind: HasMany, Model: "ghost"}}},
		},
		"through without model": {
			{Name: "a"},
			{Name: "b", Relations: []RelationDef{{Kind: HasManyThrough, Model: "a", Through: "ghost"}}},
		},
	}
	for name, models := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, NewRegistry().Load(models))
		})
	}
}

func TestAliasDisambiguatesRelations(t *testing.T) {
	reg := NewRegistry()
	err := reg.Load([]*Model{
		{Name: "user", Columns: Fields("id", "name")},
		{Name: "ticket", Columns: Fields("id", "author_id", "assignee_id"), Relations: []RelationDef{
			{Kind: BelongsTo, Model: "user", Alias: "author", Field: "author_id"},
			{Kind: BelongsTo, Model: "user", Alias: "assignee", Field: "assignee_id"},
		}},
	})
	require.NoError(t, err)
	rel, ok := reg.GetModel("ticket").Relation("assignee")
	require.True(t, ok)
	assert.Equal(t, "assignee_id", rel.Field)
}

func TestLoadDirReadsEveryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("name: author\ncolumns: [id, name]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(`
name: book
columns:
  - id
  - {name: pages, type: int}
  - author_id
relations:
  - {kind: belongs_to, model: author}
`), 0o644))

	models, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "int", models[1].Columns[1].Type)
	assert.Equal(t, "string", models[1].Columns[0].Type)

	reg := NewRegistry()
	require.NoError(t, reg.Load(models))
	assert.Equal(t, "books", reg.GetModel("book").Table)
}

func TestRelationKindYAML(t *testing.T) {
	models, err := Parse([]byte("name: x\nrelations:\n  - {kind: hasManyThrough, model: y}\n  - {kind: 1, model: z}\n"))
	require.NoError(t, err)
	assert.Equal(t, HasManyThrough, models[0].Relations[0].Kind)
	assert.Equal(t, HasOne, models[0].Relations[1].Kind)

	_, err = Parse([]byte("name: x\nrelations:\n  - {kind: 9, model: y}\n"))
	assert.Error(t, err)
}
