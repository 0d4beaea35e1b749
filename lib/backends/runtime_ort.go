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

//go:build onnx && ORT

package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	khugot "github.com/knights-analytics/hugot"
	hugotbackends "github.com/knights-analytics/hugot/backends"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
	"github.com/knights-analytics/ortgenai"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

func init() {
	RegisterRuntime(RuntimeFactory{
		Name:      "onnx",
		Priority:  10,
		Available: func() bool { return true },
		New:       newORTRuntime,
	})
}

// ortRuntime implements Runtime on ONNX Runtime.
//
// Runtime Requirements:
//   - Set LD_LIBRARY_PATH before running:
//     export LD_LIBRARY_PATH=/path/to/onnxruntime/lib
//   - For CUDA: export LD_LIBRARY_PATH=/path/to/onnxruntime/lib:/usr/local/cuda/lib64
//
// Build Requirements:
//   - CGO must be enabled (CGO_ENABLED=1)
//   - ONNX Runtime libraries must be available at link time
type ortRuntime struct {
	logger *zap.Logger

	mu sync.Mutex
	// Shared hugot session for pipeline-based models. ONNX Runtime
	// allows only one session environment at a time, so every pipeline
	// in the process must share it.
	session *khugot.Session

	ortInitOnce sync.Once
	ortInitErr  error

	genaiInitOnce sync.Once
	genaiInitErr  error
}

func newORTRuntime(logger *zap.Logger) (Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ortRuntime{logger: logger.Named("ort")}, nil
}

func (r *ortRuntime) Name() string { return "onnx" }

// hugotSession returns the shared hugot session, creating it on first use.
func (r *ortRuntime) hugotSession(device Device) (*khugot.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return r.session, nil
	}

	var opts []options.WithOption
	if libPath := getOnnxLibraryPath(); libPath != "" {
		opts = append(opts, options.WithOnnxLibraryPath(libPath))
	}
	if device.Kind == DeviceCUDA {
		opts = append(opts, options.WithCuda(nil))
	}

	session, err := khugot.NewORTSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating hugot session: %w", err)
	}
	r.session = session
	return session, nil
}

// initORT initializes the raw ONNX Runtime environment used for
// encoder sessions.
func (r *ortRuntime) initORT() error {
	r.ortInitOnce.Do(func() {
		if libPath := getOnnxLibraryPath(); libPath != "" {
			ort.SetSharedLibraryPath(filepath.Join(libPath, getOnnxLibraryName()))
		}
		r.ortInitErr = ort.InitializeEnvironment()
	})
	return r.ortInitErr
}

func (r *ortRuntime) LoadSentenceEncoder(ctx context.Context, modelID, modelDir string, device Device) (SentenceEncoder, error) {
	if !isSentenceEncoderDir(modelDir) {
		return nil, fmt.Errorf("%s: %w", modelDir, ErrUnsupportedModel)
	}

	session, err := r.hugotSession(device)
	if err != nil {
		return nil, err
	}

	onnxFilename, err := selectONNXFile(modelDir, device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", modelDir, ErrUnsupportedModel)
	}

	// Pipeline names must be unique per model within the shared session.
	pipelineName := fmt.Sprintf("%s:%s", modelDir, onnxFilename)
	// Normalization is applied downstream when the request asks for it,
	// so the pipeline must emit raw pooled vectors.
	pipelineConfig := khugot.FeatureExtractionConfig{
		ModelPath:    modelDir,
		Name:         pipelineName,
		OnnxFilename: onnxFilename,
	}

	pipeline, err := khugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		return nil, fmt.Errorf("creating feature extraction pipeline: %w", err)
	}

	r.logger.Info("Loaded sentence encoder",
		zap.String("model", modelID),
		zap.String("onnx_filename", onnxFilename),
		zap.String("device", device.String()))

	return &ortSentenceEncoder{
		model:    modelID,
		device:   device,
		pipeline: pipeline,
	}, nil
}

func (r *ortRuntime) LoadEncoder(ctx context.Context, modelID, modelDir string, device Device) (Encoder, error) {
	if err := r.initORT(); err != nil {
		return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
	}

	onnxFilename, err := selectONNXFile(modelDir, device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", modelDir, ErrUnsupportedModel)
	}
	onnxPath := filepath.Join(modelDir, onnxFilename)

	inputs, outputs, err := ort.GetInputOutputInfo(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("getting model info: %w", err)
	}

	inputNames := filterEncoderInputNames(inputs)
	if len(inputNames) == 0 {
		return nil, fmt.Errorf("no valid input names found in %s", onnxPath)
	}
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
	}
	if len(outputNames) == 0 {
		return nil, fmt.Errorf("no output names found in %s", onnxPath)
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}

	if device.Kind == DeviceCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err == nil {
			if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
				// CUDA provider unavailable, fall back to CPU execution
				cudaOpts.Destroy()
			} else {
				defer cudaOpts.Destroy()
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(onnxPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	r.logger.Info("Loaded encoder",
		zap.String("model", modelID),
		zap.String("onnx_filename", onnxFilename),
		zap.String("device", device.String()))

	return &ortEncoder{
		model:       modelID,
		device:      device,
		session:     session,
		sessionOpts: sessionOpts,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func (r *ortRuntime) LoadCausalLM(ctx context.Context, modelID, modelDir string, device Device, precision Precision) (Generator, error) {
	// Decoder-only models ship a genai_config.json.
	if _, err := os.Stat(filepath.Join(modelDir, "genai_config.json")); err != nil {
		return nil, fmt.Errorf("%s: %w", modelDir, ErrUnsupportedModel)
	}

	if err := r.initGenAI(); err != nil {
		return nil, err
	}

	// ortgenai requires config.json and a chat template even when
	// genai_config.json is present.
	if err := ensureHuggingFaceConfig(modelDir); err != nil {
		return nil, fmt.Errorf("ensuring config.json: %w", err)
	}
	if err := ensureChatTemplate(modelDir); err != nil {
		return nil, fmt.Errorf("ensuring chat_template.jinja: %w", err)
	}

	session, err := ortgenai.CreateGenerativeSession(modelDir)
	if err != nil {
		return nil, fmt.Errorf("creating ortgenai session: %w", err)
	}

	r.logger.Info("Loaded causal LM",
		zap.String("model", modelID),
		zap.String("device", device.String()),
		zap.String("precision", string(precision)))

	return &ortCausalLM{
		model:         modelID,
		device:        device,
		session:       session,
		contextLength: readContextLength(modelDir),
	}, nil
}

func (r *ortRuntime) LoadSeq2Seq(ctx context.Context, modelID, modelDir string, device Device) (Generator, error) {
	// Encoder-decoder exports ship separate encoder/decoder graphs.
	if _, err := os.Stat(filepath.Join(modelDir, "encoder_model.onnx")); err != nil {
		return nil, fmt.Errorf("%s: %w", modelDir, ErrUnsupportedModel)
	}
	if _, err := os.Stat(filepath.Join(modelDir, "decoder_model.onnx")); err != nil {
		return nil, fmt.Errorf("%s: %w", modelDir, ErrUnsupportedModel)
	}

	session, err := r.hugotSession(device)
	if err != nil {
		return nil, err
	}

	pipelineName := fmt.Sprintf("seq2seq:%s", modelDir)
	pipelineConfig := khugot.TextGenerationConfig{
		ModelPath: modelDir,
		Name:      pipelineName,
		Options: []hugotbackends.PipelineOption[*pipelines.TextGenerationPipeline]{
			pipelines.WithMaxLength(2048),
			pipelines.WithStreaming(),
		},
	}

	pipeline, err := khugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		return nil, fmt.Errorf("creating text generation pipeline: %w", err)
	}

	r.logger.Info("Loaded seq2seq model",
		zap.String("model", modelID),
		zap.String("device", device.String()))

	return &ortSeq2Seq{
		model:    modelID,
		device:   device,
		pipeline: pipeline,
	}, nil
}

// LoadGenericLM drives an unmarked ONNX export through the text
// generation pipeline, which handles both decoder-only and
// encoder-decoder graphs.
func (r *ortRuntime) LoadGenericLM(ctx context.Context, modelID, modelDir string, device Device) (Generator, error) {
	if _, err := selectONNXFile(modelDir, device); err != nil {
		return nil, fmt.Errorf("%s: %w", modelDir, ErrUnsupportedModel)
	}

	session, err := r.hugotSession(device)
	if err != nil {
		return nil, err
	}

	pipelineName := fmt.Sprintf("generic:%s", modelDir)
	pipelineConfig := khugot.TextGenerationConfig{
		ModelPath: modelDir,
		Name:      pipelineName,
		Options: []hugotbackends.PipelineOption[*pipelines.TextGenerationPipeline]{
			pipelines.WithMaxLength(2048),
			pipelines.WithStreaming(),
		},
	}

	pipeline, err := khugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		return nil, fmt.Errorf("creating text generation pipeline: %w", err)
	}

	r.logger.Info("Loaded generic language model",
		zap.String("model", modelID),
		zap.String("device", device.String()))

	return &ortSeq2Seq{
		model:    modelID,
		device:   device,
		pipeline: pipeline,
	}, nil
}

// ReleaseDeviceMemory returns freed memory to the host after a model is
// unloaded. ONNX Runtime releases device allocations when sessions are
// destroyed; this forces the Go side to hand freed pages back too.
func (r *ortRuntime) ReleaseDeviceMemory(device Device) {
	runtime.GC()
	if device.Accelerated() {
		debug.FreeOSMemory()
	}
}

func (r *ortRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		err := r.session.Destroy()
		r.session = nil
		return err
	}
	return nil
}

func (r *ortRuntime) initGenAI() error {
	r.genaiInitOnce.Do(func() {
		if genaiPath := getGenAILibraryPath(); genaiPath != "" {
			ortgenai.SetSharedLibraryPath(genaiPath)
		}
		if err := ortgenai.InitializeEnvironment(); err != nil {
			if !strings.Contains(err.Error(), "already") {
				r.genaiInitErr = fmt.Errorf("initializing ortgenai environment: %w", err)
			}
		}
	})
	return r.genaiInitErr
}

// isSentenceEncoderDir reports whether the artifacts follow the
// sentence-transformers layout (self-contained tokenization + pooling).
func isSentenceEncoderDir(modelDir string) bool {
	for _, marker := range []string{"modules.json", "sentence_bert_config.json", "1_Pooling"} {
		if _, err := os.Stat(filepath.Join(modelDir, marker)); err == nil {
			return true
		}
	}
	return false
}

// selectONNXFile picks the graph variant for the device: reduced
// precision on accelerators when available, full precision otherwise.
func selectONNXFile(modelDir string, device Device) (string, error) {
	if device.Accelerated() {
		if _, err := os.Stat(filepath.Join(modelDir, "model_f16.onnx")); err == nil {
			return "model_f16.onnx", nil
		}
	}
	if _, err := os.Stat(filepath.Join(modelDir, "model.onnx")); err == nil {
		return "model.onnx", nil
	}
	matches, _ := filepath.Glob(filepath.Join(modelDir, "*.onnx"))
	if len(matches) == 0 {
		return "", fmt.Errorf("no ONNX file in %s", modelDir)
	}
	return filepath.Base(matches[0]), nil
}

// filterEncoderInputNames extracts the text-model inputs the session
// should be wired to.
func filterEncoderInputNames(inputs []ort.InputOutputInfo) []string {
	knownInputs := map[string]bool{
		"input_ids":      true,
		"attention_mask": true,
		"token_type_ids": true,
	}

	var names []string
	for _, info := range inputs {
		if knownInputs[info.Name] {
			names = append(names, info.Name)
		}
	}

	// If no known inputs found, return all input names
	if len(names) == 0 {
		names = make([]string, len(inputs))
		for i, info := range inputs {
			names[i] = info.Name
		}
	}

	return names
}

// ortSentenceEncoder wraps a hugot feature-extraction pipeline.
type ortSentenceEncoder struct {
	model    string
	device   Device
	pipeline *pipelines.FeatureExtractionPipeline

	closeOnce sync.Once
}

func (e *ortSentenceEncoder) Model() string  { return e.model }
func (e *ortSentenceEncoder) Device() Device { return e.device }

func (e *ortSentenceEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	output, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("running feature extraction: %w", err)
	}

	result := make([][]float32, len(output.Embeddings))
	for i, embedding := range output.Embeddings {
		if len(embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		result[i] = embedding
	}
	return result, nil
}

func (e *ortSentenceEncoder) Close() error {
	// Pipelines belong to the shared session; dropping the reference is
	// enough here, the session owns the backing resources.
	e.closeOnce.Do(func() { e.pipeline = nil })
	return nil
}

// ortEncoder runs a raw encoder graph over externally produced ids.
type ortEncoder struct {
	model       string
	device      Device
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputNames  []string
	outputNames []string

	mu sync.Mutex
}

func (e *ortEncoder) Model() string  { return e.model }
func (e *ortEncoder) Device() Device { return e.device }

func (e *ortEncoder) Forward(ctx context.Context, inputIDs []int, attentionMask []int) (*HiddenStates, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("encoder session is closed")
	}
	seqLen := len(inputIDs)
	if seqLen == 0 {
		return &HiddenStates{}, nil
	}

	flatIDs := make([]int64, seqLen)
	flatMask := make([]int64, seqLen)
	for i := range inputIDs {
		flatIDs[i] = int64(inputIDs[i])
		flatMask[i] = int64(attentionMask[i])
	}

	idsTensor, err := ort.NewTensor(ort.NewShape(1, int64(seqLen)), flatIDs)
	if err != nil {
		return nil, fmt.Errorf("creating input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(ort.NewShape(1, int64(seqLen)), flatMask)
	if err != nil {
		return nil, fmt.Errorf("creating attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	inputTensors := make([]ort.Value, 0, len(e.inputNames))
	var tokenTypeTensor *ort.Tensor[int64]
	for _, name := range e.inputNames {
		switch name {
		case "input_ids":
			inputTensors = append(inputTensors, idsTensor)
		case "attention_mask":
			inputTensors = append(inputTensors, maskTensor)
		case "token_type_ids":
			flatTokenTypes := make([]int64, seqLen) // zeros
			tokenTypeTensor, err = ort.NewTensor(ort.NewShape(1, int64(seqLen)), flatTokenTypes)
			if err != nil {
				return nil, fmt.Errorf("creating token_type_ids tensor: %w", err)
			}
			inputTensors = append(inputTensors, tokenTypeTensor)
		}
	}
	if tokenTypeTensor != nil {
		defer tokenTypeTensor.Destroy()
	}

	// Pass nil outputs to let the session allocate them.
	outputTensors := make([]ort.Value, len(e.outputNames))
	if err := e.session.Run(inputTensors, outputTensors); err != nil {
		return nil, fmt.Errorf("running ONNX inference: %w", err)
	}
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	if len(outputTensors) == 0 || outputTensors[0] == nil {
		return nil, fmt.Errorf("no output tensors returned")
	}

	outputTensor := outputTensors[0]
	outputShape := outputTensor.GetShape()
	floatTensor, ok := outputTensor.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}
	outputData := floatTensor.GetData()

	if len(outputShape) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v (expected [1, seq, hidden])", outputShape)
	}
	hiddenSize := int(outputShape[2])

	values := make([][]float32, seqLen)
	for j := 0; j < seqLen; j++ {
		values[j] = make([]float32, hiddenSize)
		baseIdx := j * hiddenSize
		copy(values[j], outputData[baseIdx:baseIdx+hiddenSize])
	}

	return &HiddenStates{Values: values}, nil
}

func (e *ortEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.sessionOpts != nil {
		e.sessionOpts.Destroy()
		e.sessionOpts = nil
	}
	return nil
}

// ortCausalLM wraps an ortgenai decoder session.
type ortCausalLM struct {
	model         string
	device        Device
	session       *ortgenai.Session
	contextLength int

	mu sync.Mutex
}

func (g *ortCausalLM) Model() string  { return g.model }
func (g *ortCausalLM) Device() Device { return g.device }

func (g *ortCausalLM) Generate(ctx context.Context, prompt string, p GenerateParams) (Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session == nil {
		return Generation{}, fmt.Errorf("generator session is closed")
	}

	// ortgenai's MaxLength is the total sequence length (input + output).
	maxLength := g.contextLength
	if maxLength <= 0 {
		maxLength = 8192
	}
	if p.MaxNewTokens > 0 && p.MaxNewTokens*5 < maxLength {
		maxLength = p.MaxNewTokens * 5
		if maxLength < 1024 {
			maxLength = 1024
		}
	}

	genOpts := &ortgenai.GenerationOptions{
		MaxLength: maxLength,
		BatchSize: 1,
	}

	messages := []ortgenai.Message{{Role: "user", Content: prompt}}
	outputChan, errChan, err := g.session.Generate(ctx, [][]ortgenai.Message{messages}, genOpts)
	if err != nil {
		return Generation{}, fmt.Errorf("starting generation: %w", err)
	}

	var generated strings.Builder
	var newTokens int
	for delta := range outputChan {
		generated.WriteString(delta.Tokens)
		newTokens++
	}
	for err := range errChan {
		if err != nil {
			return Generation{}, fmt.Errorf("generation error: %w", err)
		}
	}

	return Generation{Text: generated.String(), NewTokens: newTokens}, nil
}

func (g *ortCausalLM) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		g.session.Destroy()
		g.session = nil
	}
	return nil
}

// ortSeq2Seq wraps a hugot text-generation pipeline over an
// encoder-decoder export.
type ortSeq2Seq struct {
	model    string
	device   Device
	pipeline *pipelines.TextGenerationPipeline

	closeOnce sync.Once
}

func (g *ortSeq2Seq) Model() string  { return g.model }
func (g *ortSeq2Seq) Device() Device { return g.device }

func (g *ortSeq2Seq) Generate(ctx context.Context, prompt string, p GenerateParams) (Generation, error) {
	if g.pipeline == nil {
		return Generation{}, fmt.Errorf("seq2seq pipeline is closed")
	}

	messages := []hugotbackends.Message{{Role: "user", Content: prompt}}
	output, err := g.pipeline.RunMessages(ctx, [][]hugotbackends.Message{messages})
	if err != nil {
		return Generation{}, fmt.Errorf("running text generation: %w", err)
	}

	var generated strings.Builder
	var newTokens int
	for delta := range output.TokenStream {
		generated.WriteString(delta.Token)
		newTokens++
	}
	for err := range output.ErrorStream {
		if err != nil {
			return Generation{}, fmt.Errorf("generation error: %w", err)
		}
	}

	return Generation{Text: generated.String(), NewTokens: newTokens}, nil
}

func (g *ortSeq2Seq) Close() error {
	g.closeOnce.Do(func() { g.pipeline = nil })
	return nil
}

// ensureHuggingFaceConfig generates a minimal config.json from
// genai_config.json if missing; ortgenai requires it.
func ensureHuggingFaceConfig(modelDir string) error {
	configPath := filepath.Join(modelDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	genaiData, err := os.ReadFile(filepath.Join(modelDir, "genai_config.json"))
	if err != nil {
		return nil // nothing to generate from
	}

	var genaiConfig map[string]any
	if err := json.Unmarshal(genaiData, &genaiConfig); err != nil {
		return fmt.Errorf("parsing genai_config.json: %w", err)
	}
	modelConfig, ok := genaiConfig["model"].(map[string]any)
	if !ok {
		return fmt.Errorf("genai_config.json missing 'model' section")
	}

	hfConfig := map[string]any{}
	if mt, ok := modelConfig["type"].(string); ok {
		hfConfig["model_type"] = mt
		switch mt {
		case "gemma":
			hfConfig["architectures"] = []string{"GemmaForCausalLM"}
		case "llama":
			hfConfig["architectures"] = []string{"LlamaForCausalLM"}
		case "mistral":
			hfConfig["architectures"] = []string{"MistralForCausalLM"}
		case "phi", "phi3":
			hfConfig["architectures"] = []string{"PhiForCausalLM"}
		case "qwen2":
			hfConfig["architectures"] = []string{"Qwen2ForCausalLM"}
		case "gpt2":
			hfConfig["architectures"] = []string{"GPT2LMHeadModel"}
		}
	}
	if cl, ok := modelConfig["context_length"].(float64); ok {
		hfConfig["max_position_embeddings"] = int(cl)
	}
	if bos, ok := modelConfig["bos_token_id"].(float64); ok {
		hfConfig["bos_token_id"] = int(bos)
	}
	if eos, ok := modelConfig["eos_token_id"].(float64); ok {
		hfConfig["eos_token_id"] = int(eos)
	}
	if pad, ok := modelConfig["pad_token_id"].(float64); ok {
		hfConfig["pad_token_id"] = int(pad)
	}

	configData, err := json.MarshalIndent(hfConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config.json: %w", err)
	}
	return os.WriteFile(configPath, configData, 0644)
}

// ensureChatTemplate writes a chat_template.jinja when the model ships
// none, extracting it from tokenizer_config.json when possible.
func ensureChatTemplate(modelDir string) error {
	chatTemplatePath := filepath.Join(modelDir, "chat_template.jinja")
	if _, err := os.Stat(chatTemplatePath); err == nil {
		return nil
	}

	if data, err := os.ReadFile(filepath.Join(modelDir, "tokenizer_config.json")); err == nil {
		var tokenizerConfig map[string]any
		if err := json.Unmarshal(data, &tokenizerConfig); err == nil {
			if template, ok := tokenizerConfig["chat_template"].(string); ok && template != "" {
				return os.WriteFile(chatTemplatePath, []byte(template), 0644)
			}
		}
	}

	// Generic passthrough template: the caller renders the full prompt
	// text itself, so the template only needs to echo message content.
	const passthroughTemplate = `{% for message in messages %}{{ message['content'] }}{% endfor %}`
	return os.WriteFile(chatTemplatePath, []byte(passthroughTemplate), 0644)
}

// readContextLength reads context_length from genai_config.json, 0 if absent.
func readContextLength(modelDir string) int {
	data, err := os.ReadFile(filepath.Join(modelDir, "genai_config.json"))
	if err != nil {
		return 0
	}
	var genaiConfig map[string]any
	if err := json.Unmarshal(data, &genaiConfig); err != nil {
		return 0
	}
	if modelSection, ok := genaiConfig["model"].(map[string]any); ok {
		if cl, ok := modelSection["context_length"].(float64); ok {
			return int(cl)
		}
	}
	return 0
}

// getOnnxLibraryPath returns the directory containing libonnxruntime
// from the environment. Checks ONNXRUNTIME_ROOT first, then the
// platform library path.
func getOnnxLibraryPath() string {
	platform := runtime.GOOS + "-" + runtime.GOARCH
	libName := getOnnxLibraryName()

	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		platformDir := filepath.Join(root, platform, "lib")
		if _, err := os.Stat(filepath.Join(platformDir, libName)); err == nil {
			return platformDir
		}
		directDir := filepath.Join(root, "lib")
		if _, err := os.Stat(filepath.Join(directDir, libName)); err == nil {
			return directDir
		}
	}

	ldPath := os.Getenv("LD_LIBRARY_PATH")
	if runtime.GOOS == "darwin" {
		if dyldPath := os.Getenv("DYLD_LIBRARY_PATH"); dyldPath != "" {
			ldPath = dyldPath
		}
	}
	if ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			if _, err := os.Stat(filepath.Join(dir, libName)); err == nil {
				return dir
			}
		}
	}

	return ""
}

func getOnnxLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// getGenAILibraryPath returns the path to libonnxruntime-genai.
func getGenAILibraryPath() string {
	libName := getGenAILibraryName()

	if path := os.Getenv("ORTGENAI_DYLIB_PATH"); path != "" {
		return path
	}

	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		platform := runtime.GOOS + "-" + runtime.GOARCH
		platformPath := filepath.Join(root, platform, "lib", libName)
		if _, err := os.Stat(platformPath); err == nil {
			return platformPath
		}
		directPath := filepath.Join(root, "lib", libName)
		if _, err := os.Stat(directPath); err == nil {
			return directPath
		}
	}

	ldPath := os.Getenv("LD_LIBRARY_PATH")
	if runtime.GOOS == "darwin" {
		if dyldPath := os.Getenv("DYLD_LIBRARY_PATH"); dyldPath != "" {
			ldPath = dyldPath
		}
	}
	if ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			libPath := filepath.Join(dir, libName)
			if _, err := os.Stat(libPath); err == nil {
				return libPath
			}
		}
	}

	return ""
}

func getGenAILibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime-genai.dll"
	case "darwin":
		return "libonnxruntime-genai.dylib"
	default:
		return "libonnxruntime-genai.so"
	}
}
