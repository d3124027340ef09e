//go:build onnx

// Package onnx implements memory.Embedder with a local sentence-transformer
// model running under ONNX Runtime. It targets MiniLM-class models
// (384-dimensional output, BERT WordPiece vocabulary) and requires the
// onnxruntime shared library at a caller-supplied path, which is why the
// package is behind the "onnx" build tag.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultDimensions = 384
	sequenceLength    = 128

	clsToken = 101
	sepToken = 102
	unkToken = 100
)

// Config configures the local embedder.
type Config struct {
	// ModelPath is the ONNX model file. Required.
	ModelPath string

	// VocabPath is the tokenizer.json holding the WordPiece vocabulary.
	// Required.
	VocabPath string

	// LibraryPath is the onnxruntime shared library. Required.
	LibraryPath string

	// Dimensions defaults to 384.
	Dimensions int
}

// Embedder runs the model locally.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      map[string]int
	dimensions int
}

// New initializes the runtime, loads the vocabulary, and opens a session.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" || cfg.VocabPath == "" || cfg.LibraryPath == "" {
		return nil, fmt.Errorf("onnx embedder: ModelPath, VocabPath and LibraryPath are required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultDimensions
	}

	ort.SetSharedLibraryPath(cfg.LibraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx embedder: initialize runtime: %w", err)
	}

	vocab, err := loadVocab(cfg.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: load vocabulary: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: open session: %w", err)
	}

	return &Embedder{session: session, vocab: vocab, dimensions: cfg.Dimensions}, nil
}

// Embed tokenizes, runs inference, mean-pools over attended positions, and
// returns a unit vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	inputIDs := make([]int64, sequenceLength)
	attention := make([]int64, sequenceLength)
	tokenTypes := make([]int64, sequenceLength)

	inputIDs[0] = clsToken
	attention[0] = 1

	tokens := e.tokenize(text)
	if len(tokens) > sequenceLength-2 {
		tokens = tokens[:sequenceLength-2]
	}
	for i, tok := range tokens {
		inputIDs[i+1] = tok
		attention[i+1] = 1
	}
	inputIDs[len(tokens)+1] = sepToken
	attention[len(tokens)+1] = 1

	shape := ort.NewShape(1, sequenceLength)
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx embedder: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx embedder: unexpected output tensor type")
	}

	vec, err := e.pool(tensor, attention)
	if err != nil {
		return nil, err
	}
	return normalize(vec), nil
}

// pool reduces the model output to one vector: pass-through for already
// pooled [1, dims] outputs, attention-masked mean pooling for
// [1, seq, dims] outputs.
func (e *Embedder) pool(tensor *ort.Tensor[float32], attention []int64) ([]float32, error) {
	data := tensor.GetData()
	shape := tensor.GetShape()

	switch len(shape) {
	case 2:
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("onnx embedder: output has %d values, want %d", len(data), e.dimensions)
		}
		vec := make([]float32, e.dimensions)
		copy(vec, data[:e.dimensions])
		return vec, nil

	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != e.dimensions {
			return nil, fmt.Errorf("onnx embedder: hidden size %d, want %d", hidden, e.dimensions)
		}
		vec := make([]float32, hidden)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attention[i] == 0 {
				continue
			}
			attended++
			for j := 0; j < hidden; j++ {
				vec[j] += data[i*hidden+j]
			}
		}
		if attended > 0 {
			for j := range vec {
				vec[j] /= attended
			}
		}
		return vec, nil

	default:
		return nil, fmt.Errorf("onnx embedder: unexpected output shape %v", shape)
	}
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// tokenize performs lowercased WordPiece tokenization against the loaded
// vocabulary.
func (e *Embedder) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := e.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		tokens = append(tokens, e.wordPiece(word)...)
	}
	return tokens
}

// wordPiece greedily matches the longest known subword, using the ##
// continuation prefix after the first piece.
func (e *Embedder) wordPiece(word string) []int64 {
	var pieces []int64
	start := 0
	for start < len(word) {
		matched := false
		for end := len(word); end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := e.vocab[piece]; ok {
				pieces = append(pieces, int64(id))
				start = end
				matched = true
				break
			}
		}
		if !matched {
			pieces = append(pieces, unkToken)
			start++
		}
	}
	return pieces
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Model.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocabulary in %s", path)
	}
	return parsed.Model.Vocab, nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
