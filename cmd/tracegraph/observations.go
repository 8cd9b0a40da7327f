// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/tracegraph/services/trace/entity"
)

// observationFile is the mapping form of an observations file.
type observationFile struct {
	Observations []entity.Observation `json:"observations" yaml:"observations"`
}

// loadObservations reads a list of observations, or a mapping holding one
// under "observations". YAML is tried first, then JSON.
func loadObservations(path string) ([]entity.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	obs, err := decodeObservations(data)
	if err != nil {
		return nil, fmt.Errorf("parse observations %s: %w", path, err)
	}
	return obs, nil
}

func decodeObservations(data []byte) ([]entity.Observation, error) {
	var list []entity.Observation
	yamlErr := yaml.Unmarshal(data, &list)
	if yamlErr == nil {
		return list, nil
	}
	var file observationFile
	if err := yaml.Unmarshal(data, &file); err == nil {
		return file.Observations, nil
	}

	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("tried YAML and JSON: YAML error: %v, JSON error: %w", yamlErr, err)
	}
	return file.Observations, nil
}

// applyObservations applies observations in order, stamping each version
// with its observed_at when present. The first failure stops the load.
func applyObservations(store *entity.Store, clock *replayClock, obs []entity.Observation) error {
	defer clock.Set(clock.pinned())
	for i, o := range obs {
		clock.Set(o.ObservedAt)
		if _, err := store.Apply(o); err != nil {
			return fmt.Errorf("observation %d (%s %q): %w", i+1, o.Type, o.ID, err)
		}
	}
	return nil
}
