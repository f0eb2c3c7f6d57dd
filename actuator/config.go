package actuator

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

type entitiesFile struct {
	Entities map[string]Entity `yaml:"entities"`
}

// LoadEntities reads the lock entity configuration from a YAML file:
//
//	entities:
//	  front-door:
//	    name: Front Door
//	    haEntity: lock.front_door
func LoadEntities(path string) (map[interfaces.EntityID]Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity config: %w", err)
	}

	var cfg entitiesFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse entity config: %w", err)
	}
	if len(cfg.Entities) == 0 {
		return nil, fmt.Errorf("entity config %s defines no entities", path)
	}

	entities := make(map[interfaces.EntityID]Entity, len(cfg.Entities))
	for id, entity := range cfg.Entities {
		if entity.HAEntity == "" {
			return nil, fmt.Errorf("entity %s has no haEntity", id)
		}
		entities[interfaces.EntityID(id)] = entity
	}
	return entities, nil
}
