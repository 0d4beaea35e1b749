// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package modelregistry maintains the local model artifact store,
// populated on demand from the HuggingFace hub.
package modelregistry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Variant identifiers for quantized/precision model variants.
const (
	// VariantF32 is the default FP32 model (model.onnx)
	VariantF32 = "f32"
	// VariantF16 is FP16 half precision
	VariantF16 = "f16"
	// VariantI8 is INT8 dynamic quantization
	VariantI8 = "i8"
	// VariantI4 is INT4 quantization
	VariantI4 = "i4"
)

// VariantFilenames maps variant identifiers to their ONNX filenames.
var VariantFilenames = map[string]string{
	VariantF32: "model.onnx",
	VariantF16: "model_f16.onnx",
	VariantI8:  "model_i8.onnx",
	VariantI4:  "model_i4.onnx",
}

// FilenameToVariant maps ONNX filenames back to variant identifiers.
var FilenameToVariant = map[string]string{
	"model.onnx":     VariantF32,
	"model_f16.onnx": VariantF16,
	"model_i8.onnx":  VariantI8,
	"model_i4.onnx":  VariantI4,
}

// CurrentSchemaVersion is the current manifest schema version.
const CurrentSchemaVersion = 1

// ManifestFilename is the standard filename for model manifests.
const ManifestFilename = "model_manifest.json"

// ModelFile represents a single file in the model manifest.
type ModelFile struct {
	// Name is the filename (e.g., "model.onnx", "tokenizer.json")
	Name string `json:"name"`
	// Digest is the SHA256 hash of the file (e.g., "sha256:abc123...")
	Digest string `json:"digest"`
	// Size is the file size in bytes
	Size int64 `json:"size"`
}

// ModelProvenance tracks model origin and download metadata.
type ModelProvenance struct {
	// DownloadedFrom is the source: "huggingface" or "local"
	DownloadedFrom string `json:"downloadedFrom"`
	// DownloadedAt is when the model was downloaded
	DownloadedAt time.Time `json:"downloadedAt"`
}

// ModelManifest describes the files making up one locally stored model.
type ModelManifest struct {
	SchemaVersion int `json:"schemaVersion"`
	// Name is the model identifier (e.g., "bge-small-en-v1.5")
	Name string `json:"name"`
	// Source is the full owner/model identifier (e.g., "BAAI/bge-small-en-v1.5")
	Source string `json:"source,omitempty"`
	// Owner is the namespace/organization
	Owner string `json:"owner,omitempty"`
	// Files lists all files for the model
	Files []ModelFile `json:"files"`
	// Variants lists the precision variants present on disk
	Variants []string `json:"variants,omitempty"`
	// Provenance tracks where/when the model was obtained
	Provenance *ModelProvenance `json:"provenance,omitempty"`
}

// FullName returns the full owner/name format, falling back to Name
// when the owner is unknown.
func (m *ModelManifest) FullName() string {
	if m.Owner != "" {
		return m.Owner + "/" + m.Name
	}
	return m.Name
}

// TotalSize sums the sizes of all files in the manifest.
func (m *ModelManifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// Validate checks that the manifest is well-formed.
func (m *ModelManifest) Validate() error {
	if m.SchemaVersion < 1 || m.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %d", m.SchemaVersion)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest missing required field: name")
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest must have at least one file")
	}
	for _, f := range m.Files {
		if f.Name == "" {
			return fmt.Errorf("file entry missing name")
		}
	}
	return nil
}

// ParseManifest parses and validates a JSON manifest.
func ParseManifest(data []byte) (*ModelManifest, error) {
	var manifest ModelManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// SaveTo writes the manifest to a file as JSON.
func (m *ModelManifest) SaveTo(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifestFromDir loads a manifest from a model directory.
func LoadManifestFromDir(modelDir string) (*ModelManifest, error) {
	data, err := os.ReadFile(filepath.Join(modelDir, ManifestFilename))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// ComputeFileDigest computes the SHA256 digest of a file in
// "sha256:..." format.
func ComputeFileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}

	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

// ScanModelFiles scans a directory and returns ModelFile entries for
// every regular file except the manifest itself.
func ScanModelFiles(modelDir string) ([]ModelFile, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var files []ModelFile
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == ManifestFilename {
			continue
		}

		filePath := filepath.Join(modelDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		digest, err := ComputeFileDigest(filePath)
		if err != nil {
			continue
		}

		files = append(files, ModelFile{
			Name:   entry.Name(),
			Digest: digest,
			Size:   info.Size(),
		})
	}

	return files, nil
}

// GenerateManifestFromDir creates a manifest by scanning a model
// directory.
func GenerateManifestFromDir(modelDir, owner, name, source string) (*ModelManifest, error) {
	files, err := ScanModelFiles(modelDir)
	if err != nil {
		return nil, fmt.Errorf("scanning files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no model files found in directory")
	}

	if source == "" {
		source = name
		if owner != "" {
			source = owner + "/" + name
		}
	}

	manifest := &ModelManifest{
		SchemaVersion: CurrentSchemaVersion,
		Name:          name,
		Source:        source,
		Owner:         owner,
		Files:         files,
		Variants:      discoverVariantsFromFiles(files),
		Provenance: &ModelProvenance{
			DownloadedFrom: "local",
			DownloadedAt:   time.Now(),
		},
	}
	return manifest, nil
}

// discoverVariantsFromFiles lists the precision variants present in a
// file set, skipping the f32 base model.
func discoverVariantsFromFiles(files []ModelFile) []string {
	var variants []string
	for _, f := range files {
		if variantID, ok := FilenameToVariant[f.Name]; ok && variantID != VariantF32 {
			variants = append(variants, variantID)
		}
	}
	return variants
}
