package config

import (
    "fmt"
    "os"
    "strings"

    "gopkg.in/yaml.v3"
)

// FieldMap describes how tracker-specific field identifiers and status names
// map into the domain model. Story points live in a per-instance custom field,
// so the id is configurable; status names map into the three canonical buckets.
type FieldMap struct {
    StoryPointField string              `yaml:"story_point_field"`
    EpicLinkField   string              `yaml:"epic_link_field"`
    StatusBuckets   map[string][]string `yaml:"status_buckets"` // open|inprogress|closed -> status names
}

// DefaultFieldMap covers a stock Jira Cloud instance.
func DefaultFieldMap() FieldMap {
    return FieldMap{
        StoryPointField: "customfield_10016",
        EpicLinkField:   "customfield_10014",
        StatusBuckets: map[string][]string{
            "open":       {"To Do", "Open", "Backlog"},
            "inprogress": {"In Progress", "In Review", "Indeterminate"},
            "closed":     {"Done", "Closed", "Resolved"},
        },
    }
}

// LoadFieldMap reads the YAML mapping file. Absent sections fall back to the
// defaults so a partial file stays usable.
func LoadFieldMap(path string) (FieldMap, error) {
    fm := DefaultFieldMap()
    data, err := os.ReadFile(path)
    if err != nil { return fm, fmt.Errorf("field map: %w", err) }
    var in FieldMap
    if err := yaml.Unmarshal(data, &in); err != nil { return fm, fmt.Errorf("field map %s: %w", path, err) }
    if strings.TrimSpace(in.StoryPointField) != "" { fm.StoryPointField = in.StoryPointField }
    if strings.TrimSpace(in.EpicLinkField) != "" { fm.EpicLinkField = in.EpicLinkField }
    if len(in.StatusBuckets) > 0 { fm.StatusBuckets = in.StatusBuckets }
    return fm, nil
}
