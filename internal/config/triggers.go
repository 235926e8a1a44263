package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bhangun/cncjs/controller"
)

// TriggerFile is the on-disk shape of an event-trigger mapping file: a
// flat map from event name to either a gcode line or a shell command.
// This is the local static half of the external persistent
// configuration store collaborator — good enough to seed
// EventTrigger.Configure without building a database-backed store.
type TriggerFile struct {
	GCode  map[string]string `yaml:"gcode"`
	System map[string]string `yaml:"system"`
}

// LoadTriggerFile reads and parses a YAML trigger-mapping file into the
// shape EventTrigger.Configure expects.
func LoadTriggerFile(path string) (map[string]controller.TriggerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read trigger file: %w", err)
	}

	var tf TriggerFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("config: parse trigger file: %w", err)
	}

	mapping := make(map[string]controller.TriggerSpec, len(tf.GCode)+len(tf.System))
	for event, line := range tf.GCode {
		mapping[event] = controller.TriggerSpec{Kind: controller.TriggerGCode, Command: line}
	}
	for event, cmd := range tf.System {
		mapping[event] = controller.TriggerSpec{Kind: controller.TriggerSystem, Command: cmd}
	}
	return mapping, nil
}
