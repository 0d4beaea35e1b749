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

package modelregistry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Store manages the local model artifact directory. Models are laid out
// as <dir>/<owner>/<name>; missing models are pulled from the
// HuggingFace hub on demand.
type Store struct {
	dir    string
	hf     *HuggingFaceClient
	logger *zap.Logger
}

// LocalModel describes one model present in the store.
type LocalModel struct {
	ID       string   `json:"id"`
	Path     string   `json:"path"`
	Size     int64    `json:"size"`
	Variants []string `json:"variants,omitempty"`
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithHFClient overrides the HuggingFace client used for pulls.
func WithHFClient(hf *HuggingFaceClient) StoreOption {
	return func(s *Store) { s.hf = hf }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{
		dir:    dir,
		hf:     NewHuggingFaceClient(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// PathFor returns the on-disk directory for a model id without
// checking whether it exists.
func (s *Store) PathFor(modelID string) (string, error) {
	ref, err := ParseModelRef(modelID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, ref.DirPath()), nil
}

// Ensure returns the local directory holding modelID's artifacts,
// pulling them from the HuggingFace hub when absent.
func (s *Store) Ensure(ctx context.Context, modelID string) (string, error) {
	ref, err := ParseModelRef(modelID)
	if err != nil {
		return "", err
	}

	modelDir := filepath.Join(s.dir, ref.DirPath())
	if hasModelFiles(modelDir) {
		return modelDir, nil
	}

	s.logger.Info("Model not present locally, pulling",
		zap.String("model", ref.FullName()),
		zap.String("variant", ref.Variant),
		zap.String("dir", modelDir))

	if err := s.hf.Pull(ctx, ref.FullName(), modelDir, ref.Variant); err != nil {
		return "", fmt.Errorf("pulling %s: %w", ref.FullName(), err)
	}
	return modelDir, nil
}

// List returns the models present in the store, sorted by id.
func (s *Store) List() ([]LocalModel, error) {
	var models []LocalModel

	walk := func(id, dir string) {
		if !hasModelFiles(dir) {
			return
		}
		m := LocalModel{ID: id, Path: dir}
		if manifest, err := LoadManifestFromDir(dir); err == nil {
			m.Size = manifest.TotalSize()
			m.Variants = manifest.Variants
		} else {
			m.Size = dirSize(dir)
		}
		models = append(models, m)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading models directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		top := filepath.Join(s.dir, entry.Name())
		// Either a bare model dir or an owner dir holding model dirs.
		if hasModelFiles(top) {
			walk(entry.Name(), top)
			continue
		}
		subEntries, err := os.ReadDir(top)
		if err != nil {
			continue
		}
		for _, sub := range subEntries {
			if sub.IsDir() {
				walk(entry.Name()+"/"+sub.Name(), filepath.Join(top, sub.Name()))
			}
		}
	}

	slices.SortFunc(models, func(a, b LocalModel) int {
		return strings.Compare(a.ID, b.ID)
	})
	return models, nil
}

// Delete removes a model's artifacts from the store.
func (s *Store) Delete(modelID string) error {
	ref, err := ParseModelRef(modelID)
	if err != nil {
		return err
	}

	modelDir := filepath.Join(s.dir, ref.DirPath())
	if !hasModelFiles(modelDir) {
		return fmt.Errorf("model %s not found in store", ref.FullName())
	}

	s.logger.Info("Deleting model artifacts",
		zap.String("model", ref.FullName()),
		zap.String("dir", modelDir))

	if err := os.RemoveAll(modelDir); err != nil {
		return fmt.Errorf("removing %s: %w", modelDir, err)
	}

	// Drop the owner directory too once it is empty.
	if ref.Owner != "" {
		ownerDir := filepath.Join(s.dir, ref.Owner)
		if entries, err := os.ReadDir(ownerDir); err == nil && len(entries) == 0 {
			_ = os.Remove(ownerDir)
		}
	}
	return nil
}

// hasModelFiles reports whether dir holds at least one regular file.
func hasModelFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			return true
		}
	}
	return false
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
