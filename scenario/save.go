package scenario

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Clone returns a deep copy of sc.
func (sc *Scenario) Clone() (*Scenario, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("copying scenario: %w", err)
	}
	c := &Scenario{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("copying scenario: %w", err)
	}
	c.Path = sc.Path
	return c, nil
}

// Save writes a loaded scenario as a single YAML file. External files and
// groups were merged by Load, so their references are not written.
func (sc *Scenario) Save(path string) error {
	flat := *sc
	flat.ConfigPath = ""
	flat.PoliciesFile = ""
	flat.AgentsFile = ""
	flat.ObstaclesFile = ""
	flat.Groups = nil

	raw, err := json.Marshal(&flat)
	if err != nil {
		return fmt.Errorf("marshaling scenario: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("marshaling scenario: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling scenario: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing scenario: %w", err)
	}
	return nil
}
