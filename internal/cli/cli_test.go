package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/canopy/internal/loader"
	"github.com/mesh-intelligence/canopy/internal/plugin"
	"github.com/mesh-intelligence/canopy/pkg/types"
)

type project struct {
	configDir string
	dataDir   string
}

func newProject(t *testing.T) project {
	t.Helper()
	t.Setenv("CANOPY_CONFIG_DIR", "")
	t.Setenv("CANOPY_DATA_DIR", "")
	root := t.TempDir()
	return project{
		configDir: filepath.Join(root, ".canopy"),
		dataDir:   filepath.Join(root, ".canopy-db"),
	}
}

// run executes one canopy invocation in-process and returns stdout.
func (p project) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return p.runWith(t, nil, args...)
}

func (p project) runWith(t *testing.T, extensions []Extension, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(extensions...)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config-dir", p.configDir, "--data-dir", p.dataDir}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (p project) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := p.run(t, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

func (p project) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(filepath.Dir(p.configDir), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	p := newProject(t)
	out := p.mustRun(t, "version")
	assert.Contains(t, out, "canopy v"+Version)
	assert.Contains(t, out, modulePath)
}

func TestInit(t *testing.T) {
	p := newProject(t)
	out := p.mustRun(t, "init")
	assert.Contains(t, out, "Initialized canopy project")
	assert.FileExists(t, filepath.Join(p.configDir, "canopy.yaml"))

	out = p.mustRun(t, "--json", "init")
	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, false, res["config_written"])
}

func TestEntityCommands(t *testing.T) {
	p := newProject(t)
	p.mustRun(t, "init")

	out := p.mustRun(t, "entity", "register", "taxonomy", "--kind", "reference", "--table", "taxa",
		"--config", `{"hierarchy":{"sort_field":"rank_order"}}`)
	assert.Contains(t, out, `Registered reference "taxonomy" -> taxa`)
	p.mustRun(t, "entity", "register", "occurrences")

	out = p.mustRun(t, "--json", "entity", "get", "taxonomy")
	var meta types.EntityMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &meta))
	assert.Equal(t, "taxa", meta.TableName)
	assert.Equal(t, types.KindReference, meta.Kind)
	assert.Equal(t, map[string]any{"sort_field": "rank_order"}, meta.Config["hierarchy"])

	out = p.mustRun(t, "--json", "entity", "list", "--kind", "dataset")
	var metas []types.EntityMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, "occurrences", metas[0].Name)

	p.mustRun(t, "entity", "remove", "occurrences")
	_, err := p.run(t, "entity", "get", "occurrences")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = p.run(t, "entity", "register", "bad", "--kind", "lookup")
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = p.run(t, "entity", "register", "bad", "--config", "[1, 2]")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

const projectConfig = `backend: sqlite
log_level: warn
groups:
  taxon:
    loader: nested_set
    reference: taxonomy
    dataset: occurrences
    key: taxon_id
  survey:
    loader: join_table
    reference: surveys
    dataset: occurrences
    join_table: survey_occurrences
    keys:
      source: occurrence_id
      reference: survey_id
  broken:
    loader: direct_reference
    reference: taxonomy
`

func seedProject(t *testing.T, p project) {
	t.Helper()
	p.mustRun(t, "init")
	require.NoError(t, os.WriteFile(filepath.Join(p.configDir, "canopy.yaml"), []byte(projectConfig), 0o644))

	taxa := p.writeFile(t, "taxa.jsonl", strings.Join([]string{
		`{"id": 1, "parent_id": null, "name": "Fabaceae"}`,
		`{"id": 2, "parent_id": 1, "name": "Acacia"}`,
		`{"id": 3, "parent_id": 2, "name": "Acacia dealbata"}`,
		`{"id": 4, "parent_id": null, "name": "Myrtaceae"}`,
	}, "\n"))
	occ := p.writeFile(t, "occurrences.jsonl", strings.Join([]string{
		`{"id": 10, "taxon_id": 3}`,
		`{"id": 11, "taxon_id": 2}`,
		`{"id": 12, "taxon_id": 4}`,
	}, "\n"))
	links := p.writeFile(t, "links.jsonl", strings.Join([]string{
		`{"occurrence_id": 10, "survey_id": 42}`,
		`{"occurrence_id": 11, "survey_id": 42}`,
		`{"occurrence_id": 12, "survey_id": 43}`,
	}, "\n"))
	surveys := p.writeFile(t, "surveys.jsonl", `{"id": 42}`+"\n"+`{"id": 43}`)

	p.mustRun(t, "entity", "register", "taxonomy", "--kind", "reference", "--table", "taxa")
	out := p.mustRun(t, "import", "taxonomy", taxa)
	assert.Contains(t, out, "Imported 4 rows into taxa")
	p.mustRun(t, "import", "occurrences", occ)
	p.mustRun(t, "import", "survey_occurrences", links)
	p.mustRun(t, "import", "surveys", surveys)
}

func TestLoadWorkflow(t *testing.T) {
	p := newProject(t)
	seedProject(t, p)

	_, err := p.run(t, "load", "taxon", "2")
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf, "coordinates not built yet")
	assert.Equal(t, "lft", nf.Name)
	assert.Equal(t, exitUserError, exitCode(err))

	out := p.mustRun(t, "hierarchy", "build", "taxonomy")
	assert.Contains(t, out, "Built taxa: 4 nodes, 2 roots, depth 2")

	out = p.mustRun(t, "--json", "load", "taxon", "2")
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	ids := make([]float64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r["id"].(float64))
	}
	assert.ElementsMatch(t, []float64{10, 11}, ids)

	out = p.mustRun(t, "load", "survey", "42")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "taxon_id")

	dest := filepath.Join(t.TempDir(), "taxon-4.jsonl")
	out = p.mustRun(t, "load", "taxon", "4", "--output", dest)
	assert.Contains(t, out, "Wrote 1 rows")
	assert.FileExists(t, dest)
}

func TestLoadErrors(t *testing.T) {
	p := newProject(t)
	seedProject(t, p)

	_, err := p.run(t, "load", "habitat", "1")
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = p.run(t, "load", "broken", "1")
	var ce *types.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "dataset", ce.Field)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestHierarchyFromRanks(t *testing.T) {
	p := newProject(t)
	p.mustRun(t, "init")
	flat := p.writeFile(t, "flat.jsonl", strings.Join([]string{
		`{"id": 1, "family": "Fabaceae", "genus": "Acacia"}`,
		`{"id": 2, "family": "Fabaceae", "genus": "Senna"}`,
		`{"id": 3, "family": "Myrtaceae", "genus": "Eucalyptus"}`,
	}, "\n"))
	p.mustRun(t, "import", "flora", flat)

	out := p.mustRun(t, "--json", "hierarchy", "build", "flora", "--ranks", "family,genus", "--target", "flora_tree")
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "flora_tree", report["table"])
	assert.Equal(t, float64(5), report["nodes"])
	assert.Equal(t, float64(2), report["roots"])
}

func TestLoaders(t *testing.T) {
	p := newProject(t)
	p.mustRun(t, "init")
	out := p.mustRun(t, "loaders")
	for _, name := range []string{"direct_reference", "join_table", "nested_set", "spatial"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "keys.source: string (required)")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitUserError, exitCode(types.NewConfigurationError("x", "bad")))
	assert.Equal(t, exitUserError, exitCode(&types.NotFoundError{Kind: types.NotFoundEntity, Name: "x"}))
	assert.Equal(t, exitSysError, exitCode(&types.QueryError{Op: "query", Err: assert.AnError}))
	assert.Equal(t, exitSysError, exitCode(&types.CyclicHierarchyError{NodeIDs: []int64{1, 2, 1}}))
}

func TestParseGroupID(t *testing.T) {
	assert.Equal(t, int64(42), parseGroupID("42"))
	assert.Equal(t, "S-014", parseGroupID("S-014"))
}

// echoLoader returns one row holding the group id and a configured label.
type echoLoader struct{}

type echoConfig struct {
	Label string `mapstructure:"label"`
}

func (echoConfig) Strategy() loader.Strategy { return 0 }

func (echoLoader) Strategy() loader.Strategy { return 0 }

func (echoLoader) Schema() plugin.Schema {
	return plugin.Schema{Fields: []plugin.Field{{Name: "label", Type: plugin.TypeString, Required: true}}}
}

func (l echoLoader) Validate(raw map[string]any) (loader.Config, error) {
	var cfg echoConfig
	if err := plugin.ValidateInto(l.Schema(), raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (echoLoader) Load(_ context.Context, groupID any, cfg loader.Config) (*types.RowSet, error) {
	return &types.RowSet{
		Columns: []string{"group", "label"},
		Rows:    [][]any{{groupID, cfg.(echoConfig).Label}},
	}, nil
}

func registerEcho(reg *plugin.Registry) error {
	return reg.Register(plugin.Descriptor{
		Name:       "echo",
		Capability: plugin.CapabilityLoader,
		Schema:     echoLoader{}.Schema(),
		Impl:       echoLoader{},
	})
}

func TestExtensions(t *testing.T) {
	p := newProject(t)
	p.mustRun(t, "init")
	require.NoError(t, os.WriteFile(filepath.Join(p.configDir, "canopy.yaml"), []byte(`backend: sqlite
groups:
  plot:
    loader: echo
    label: transect
`), 0o644))

	_, err := p.run(t, "load", "plot", "7")
	assert.ErrorIs(t, err, types.ErrConfiguration, "echo is unknown without the extension")

	exts := []Extension{registerEcho}
	out, err := p.runWith(t, exts, "loaders")
	require.NoError(t, err)
	assert.Contains(t, out, "echo\n  label: string (required)")
	assert.Contains(t, out, "nested_set")

	out, err = p.runWith(t, exts, "--json", "load", "plot", "7")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []map[string]any{{"group": float64(7), "label": "transect"}}, rows)
}

func TestExtensions_ConflictingRebind(t *testing.T) {
	p := newProject(t)
	p.mustRun(t, "init")

	rebind := func(reg *plugin.Registry) error {
		return reg.Register(plugin.Descriptor{Name: "nested_set", Capability: plugin.CapabilityLoader, Impl: echoLoader{}})
	}
	_, err := p.runWith(t, []Extension{rebind}, "loaders")
	var ce *plugin.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "nested_set", ce.Name)
	assert.Equal(t, exitUserError, exitCode(err))

	// Another capability may reuse a loader's name.
	exporter := func(reg *plugin.Registry) error {
		return reg.Register(plugin.Descriptor{Name: "nested_set", Capability: plugin.Capability("exporter"), Impl: echoLoader{}})
	}
	_, err = p.runWith(t, []Extension{exporter}, "loaders")
	assert.NoError(t, err)
}
