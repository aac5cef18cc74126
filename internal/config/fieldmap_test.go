package config

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func writeTempMap(t *testing.T, content string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "field_map.yaml")
    require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
    return path
}

func TestLoadFieldMapFull(t *testing.T) {
    path := writeTempMap(t, `
story_point_field: customfield_20001
epic_link_field: customfield_20002
status_buckets:
  open: ["New", "Triage"]
  inprogress: ["Doing"]
  closed: ["Shipped"]
`)
    fm, err := LoadFieldMap(path)
    require.NoError(t, err)
    assert.Equal(t, "customfield_20001", fm.StoryPointField)
    assert.Equal(t, "customfield_20002", fm.EpicLinkField)
    assert.Equal(t, []string{"Shipped"}, fm.StatusBuckets["closed"])
}

func TestLoadFieldMapPartialKeepsDefaults(t *testing.T) {
    path := writeTempMap(t, "story_point_field: customfield_20001\n")
    fm, err := LoadFieldMap(path)
    require.NoError(t, err)
    assert.Equal(t, "customfield_20001", fm.StoryPointField)
    assert.Equal(t, "customfield_10014", fm.EpicLinkField)
    assert.Contains(t, fm.StatusBuckets["open"], "To Do")
}

func TestLoadFieldMapMissingFileReturnsDefaults(t *testing.T) {
    fm, err := LoadFieldMap(filepath.Join(t.TempDir(), "nope.yaml"))
    assert.Error(t, err)
    assert.Equal(t, DefaultFieldMap(), fm)
}

func TestLoadFieldMapInvalidYAML(t *testing.T) {
    path := writeTempMap(t, "status_buckets: [not, a, map\n")
    _, err := LoadFieldMap(path)
    assert.Error(t, err)
}
