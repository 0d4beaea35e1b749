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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateManifestFromDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"model.onnx", "model_f16.onnx", "tokenizer.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644))
	}

	manifest, err := GenerateManifestFromDir(dir, "BAAI", "bge-small-en-v1.5", "")
	require.NoError(t, err)

	require.Equal(t, CurrentSchemaVersion, manifest.SchemaVersion)
	require.Equal(t, "BAAI/bge-small-en-v1.5", manifest.Source)
	require.Equal(t, "BAAI/bge-small-en-v1.5", manifest.FullName())
	require.Len(t, manifest.Files, 3)
	require.Equal(t, []string{VariantF16}, manifest.Variants)

	for _, f := range manifest.Files {
		require.NotEmpty(t, f.Digest)
		require.Contains(t, f.Digest, "sha256:")
		require.Equal(t, int64(4), f.Size)
	}
}

func TestGenerateManifestEmptyDir(t *testing.T) {
	_, err := GenerateManifestFromDir(t.TempDir(), "", "m", "")
	require.Error(t, err)
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("data"), 0o644))

	manifest, err := GenerateManifestFromDir(dir, "owner", "model", "")
	require.NoError(t, err)
	require.NoError(t, manifest.SaveTo(filepath.Join(dir, ManifestFilename)))

	loaded, err := LoadManifestFromDir(dir)
	require.NoError(t, err)
	require.Equal(t, manifest.Name, loaded.Name)
	require.Equal(t, manifest.Files, loaded.Files)
}

func TestManifestValidate(t *testing.T) {
	m := &ModelManifest{SchemaVersion: 1, Name: "m", Files: []ModelFile{{Name: "model.onnx", Digest: "sha256:ab", Size: 1}}}
	require.NoError(t, m.Validate())

	require.Error(t, (&ModelManifest{SchemaVersion: 1, Files: m.Files}).Validate())
	require.Error(t, (&ModelManifest{SchemaVersion: 1, Name: "m"}).Validate())
	require.Error(t, (&ModelManifest{SchemaVersion: 99, Name: "m", Files: m.Files}).Validate())
}

func TestSelectONNXFilesVariant(t *testing.T) {
	files := []string{
		"tokenizer.json",
		"config.json",
		"onnx/model.onnx",
		"onnx/model_f16.onnx",
		"onnx/model_i8.onnx",
		"README.md",
	}

	selected := selectONNXFiles(files, "")
	require.Contains(t, selected, "tokenizer.json")
	require.Contains(t, selected, "onnx/model.onnx")
	require.NotContains(t, selected, "onnx/model_f16.onnx")
	require.NotContains(t, selected, "README.md")

	selected = selectONNXFiles(files, VariantF16)
	require.Contains(t, selected, "onnx/model_f16.onnx")
	require.NotContains(t, selected, "onnx/model.onnx")
}

func TestSelectGeneratorFilesAutoVariant(t *testing.T) {
	files := []string{
		"cpu-int4/genai_config.json",
		"cpu-int4/model.onnx",
		"cpu-int4/model.onnx.data",
		"cpu-int4/tokenizer.json",
		"cuda-fp16/genai_config.json",
		"cuda-fp16/model.onnx",
		"README.md",
	}

	selected := selectGeneratorFiles(files, "")
	require.Contains(t, selected, "cpu-int4/genai_config.json")
	require.Contains(t, selected, "cpu-int4/model.onnx")
	require.Contains(t, selected, "cpu-int4/model.onnx.data")
	require.NotContains(t, selected, "cuda-fp16/model.onnx")
	require.NotContains(t, selected, "README.md")
}

func TestFindSmallestGeneratorVariantPrefersSmallCPU(t *testing.T) {
	files := []string{
		"gemma-3-12b-it-cpu-int4/genai_config.json",
		"gemma-3-1b-it-cpu-int4/genai_config.json",
		"gemma-3-1b-it-cuda-fp16/genai_config.json",
	}
	require.Equal(t, "gemma-3-1b-it-cpu-int4", findSmallestGeneratorVariant(files))
}

func TestParseModelRef(t *testing.T) {
	ref, err := ParseModelRef("BAAI/bge-small-en-v1.5")
	require.NoError(t, err)
	require.Equal(t, "BAAI", ref.Owner)
	require.Equal(t, "bge-small-en-v1.5", ref.Name)
	require.False(t, ref.IsHuggingFace)

	ref, err = ParseModelRef("hf:BAAI/bge-small-en-v1.5:f16")
	require.NoError(t, err)
	require.True(t, ref.IsHuggingFace)
	require.Equal(t, VariantF16, ref.Variant)

	ref, err = ParseModelRef("bare-model")
	require.NoError(t, err)
	require.Empty(t, ref.Owner)
	require.Equal(t, "bare-model", ref.Name)

	_, err = ParseModelRef("")
	require.Error(t, err)

	_, err = ParseModelRef("owner/model:bogus")
	require.Error(t, err)
}

func TestModelRefDirPath(t *testing.T) {
	require.Equal(t, filepath.Join("BAAI", "bge"), MustParseModelRef("BAAI/bge").DirPath())
	require.Equal(t, "bge", MustParseModelRef("bge").DirPath())
}
