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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeModelDir(t *testing.T, root string, id string, files ...string) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(id))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	return dir
}

func TestStoreEnsureLocalHit(t *testing.T) {
	root := t.TempDir()
	dir := writeModelDir(t, root, "BAAI/bge-small-en-v1.5", "model.onnx", "tokenizer.json")

	s := NewStore(root)
	got, err := s.Ensure(context.Background(), "BAAI/bge-small-en-v1.5")
	require.NoError(t, err)
	require.Equal(t, dir, got)
}

func TestStoreEnsureInvalidRef(t *testing.T) {
	s := NewStore(t.TempDir())
	_, err := s.Ensure(context.Background(), "")
	require.Error(t, err)
}

func TestStorePathFor(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	path, err := s.PathFor("owner/name")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "owner", "name"), path)

	path, err = s.PathFor("bare-model")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "bare-model"), path)
}

func TestStoreListSorted(t *testing.T) {
	root := t.TempDir()
	writeModelDir(t, root, "zeta/model-b", "model.onnx")
	writeModelDir(t, root, "alpha/model-a", "model.onnx")
	writeModelDir(t, root, "bare-model", "model.onnx")

	s := NewStore(root)
	models, err := s.List()
	require.NoError(t, err)

	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	require.Equal(t, []string{"alpha/model-a", "bare-model", "zeta/model-b"}, ids)
}

func TestStoreListEmptyDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing"))
	models, err := s.List()
	require.NoError(t, err)
	require.Empty(t, models)
}

func TestStoreListReadsManifest(t *testing.T) {
	root := t.TempDir()
	dir := writeModelDir(t, root, "owner/model", "model.onnx", "model_f16.onnx", "tokenizer.json")

	manifest, err := GenerateManifestFromDir(dir, "owner", "model", "")
	require.NoError(t, err)
	require.NoError(t, manifest.SaveTo(filepath.Join(dir, ManifestFilename)))

	s := NewStore(root)
	models, err := s.List()
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, []string{VariantF16}, models[0].Variants)
	require.Equal(t, int64(3), models[0].Size)
}

func TestStoreDelete(t *testing.T) {
	root := t.TempDir()
	dir := writeModelDir(t, root, "owner/model", "model.onnx")

	s := NewStore(root)
	require.NoError(t, s.Delete("owner/model"))

	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))
	// empty owner dir is removed too
	_, err = os.Stat(filepath.Join(root, "owner"))
	require.True(t, os.IsNotExist(err))
}

func TestStoreDeleteMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	err := s.Delete("owner/missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}
