package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrServerClosed = errors.New("model server closed")

// Server runs an exported transit classifier through onnxruntime. The session
// is bound to a single pair of tensors, so runs are serialized.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// LoadMetadata reads and validates the JSON sidecar of a model artifact.
func LoadMetadata(metadataPath string) (Metadata, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	metadata.applyDefaults()
	if err := metadata.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata: %w", err)
	}
	return metadata, nil
}

func NewServer(modelPath, metadataPath, libraryPath string) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(1, int64(len(metadata.Features)))
	outputShape := ort.NewShape(1, int64(len(metadata.Classes)))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Predict classifies one record. Probabilities are only attached when withProba is set.
func (s *Server) Predict(ctx context.Context, features Features, withProba bool) (RawPrediction, error) {
	if err := ctx.Err(); err != nil {
		return RawPrediction{}, err
	}
	inputData, err := features.Vector(s.Metadata.Features)
	if err != nil {
		return RawPrediction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return RawPrediction{}, ErrServerClosed
	}

	copy(s.inputTensor.GetData(), inputData)
	if err := s.session.Run(); err != nil {
		return RawPrediction{}, fmt.Errorf("inference failed: %w", err)
	}

	return decodeOutput(s.Metadata.Classes, s.outputTensor.GetData(), withProba)
}

// decodeOutput picks the highest scoring class from one probability row.
func decodeOutput(classes []string, outputData []float32, withProba bool) (RawPrediction, error) {
	if len(outputData) < len(classes) || len(classes) == 0 {
		return RawPrediction{}, fmt.Errorf("model returned %d scores for %d classes", len(outputData), len(classes))
	}

	maxIdx := 0
	maxVal := outputData[0]
	var probabilities map[string]float64
	if withProba {
		probabilities = make(map[string]float64, len(classes))
	}

	for i, class := range classes {
		val := outputData[i]
		if probabilities != nil {
			probabilities[class] = float64(val)
		}
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	return RawPrediction{
		Label:              classes[maxIdx],
		ClassProbabilities: probabilities,
	}, nil
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
		ort.DestroyEnvironment()
	}
}
