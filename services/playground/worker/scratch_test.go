// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func renderToMap(t *testing.T, cfg ScratchConfig) map[string]interface{} {
	t.Helper()

	data, err := cfg.render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal rendered config: %v", err)
	}
	return doc
}

func TestScratchConfigRender(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		doc := renderToMap(t, ScratchConfig{})

		if doc["pythonVersion"] != "3.12" {
			t.Errorf("pythonVersion = %v, want 3.12", doc["pythonVersion"])
		}
		if doc["pythonPlatform"] != "All" {
			t.Errorf("pythonPlatform = %v, want All", doc["pythonPlatform"])
		}
		if _, ok := doc["typeCheckingMode"]; ok {
			t.Error("typeCheckingMode should be absent when unset")
		}
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		doc := renderToMap(t, ScratchConfig{
			PythonVersion:    "3.10",
			PythonPlatform:   "Linux",
			TypeCheckingMode: "strict",
		})

		if doc["pythonVersion"] != "3.10" {
			t.Errorf("pythonVersion = %v, want 3.10", doc["pythonVersion"])
		}
		if doc["pythonPlatform"] != "Linux" {
			t.Errorf("pythonPlatform = %v, want Linux", doc["pythonPlatform"])
		}
		if doc["typeCheckingMode"] != "strict" {
			t.Errorf("typeCheckingMode = %v, want strict", doc["typeCheckingMode"])
		}
	})

	t.Run("merges rule overrides", func(t *testing.T) {
		doc := renderToMap(t, ScratchConfig{
			Overrides: map[string]bool{
				"reportMissingImports": false,
				"strictListInference":  true,
			},
		})

		if doc["reportMissingImports"] != false {
			t.Errorf("reportMissingImports = %v, want false", doc["reportMissingImports"])
		}
		if doc["strictListInference"] != true {
			t.Errorf("strictListInference = %v, want true", doc["strictListInference"])
		}
	})

	t.Run("overrides win over computed fields", func(t *testing.T) {
		doc := renderToMap(t, ScratchConfig{
			PythonVersion: "3.12",
			Overrides:     map[string]bool{"pythonVersion": true},
		})

		if doc["pythonVersion"] != true {
			t.Errorf("pythonVersion = %v, want override value true", doc["pythonVersion"])
		}
	})
}

func TestCreateScratch(t *testing.T) {
	t.Run("writes the config file", func(t *testing.T) {
		root := t.TempDir()

		dir, contents, err := CreateScratch(root, ScratchConfig{TypeCheckingMode: "basic"})
		if err != nil {
			t.Fatalf("CreateScratch: %v", err)
		}

		if filepath.Dir(dir) != root {
			t.Errorf("scratch dir %s not under root %s", dir, root)
		}

		onDisk, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
		if err != nil {
			t.Fatalf("read config: %v", err)
		}
		if string(onDisk) != string(contents) {
			t.Errorf("returned contents differ from file:\n%s\nvs\n%s", contents, onDisk)
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(onDisk, &doc); err != nil {
			t.Fatalf("config is not valid JSON: %v", err)
		}
		if doc["typeCheckingMode"] != "basic" {
			t.Errorf("typeCheckingMode = %v, want basic", doc["typeCheckingMode"])
		}
	})

	t.Run("creates distinct directories", func(t *testing.T) {
		root := t.TempDir()

		a, _, err := CreateScratch(root, ScratchConfig{})
		if err != nil {
			t.Fatalf("CreateScratch: %v", err)
		}
		b, _, err := CreateScratch(root, ScratchConfig{})
		if err != nil {
			t.Fatalf("CreateScratch: %v", err)
		}
		if a == b {
			t.Errorf("both calls returned %s", a)
		}
	})

	t.Run("fails when the root does not exist", func(t *testing.T) {
		_, _, err := CreateScratch(filepath.Join(t.TempDir(), "missing", "deeper"), ScratchConfig{})
		if err == nil {
			t.Error("expected error for nonexistent root")
		}
	})
}

func TestRemoveScratch(t *testing.T) {
	t.Run("removes the directory", func(t *testing.T) {
		dir, _, err := CreateScratch(t.TempDir(), ScratchConfig{})
		if err != nil {
			t.Fatalf("CreateScratch: %v", err)
		}

		if err := RemoveScratch(dir); err != nil {
			t.Fatalf("RemoveScratch: %v", err)
		}
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("scratch dir still present: %v", err)
		}
	})

	t.Run("tolerates repeat and empty calls", func(t *testing.T) {
		if err := RemoveScratch(""); err != nil {
			t.Errorf("RemoveScratch(\"\") = %v, want nil", err)
		}

		dir, _, err := CreateScratch(t.TempDir(), ScratchConfig{})
		if err != nil {
			t.Fatalf("CreateScratch: %v", err)
		}
		if err := RemoveScratch(dir); err != nil {
			t.Fatalf("RemoveScratch: %v", err)
		}
		if err := RemoveScratch(dir); err != nil {
			t.Errorf("second RemoveScratch = %v, want nil", err)
		}
	})
}
