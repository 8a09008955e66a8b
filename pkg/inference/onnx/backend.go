// Package onnx implements the inference backends on ONNX Runtime.
//
// The runtime environment is process wide: Init must succeed before any model
// is opened. Sessions are created once per model file and are safe for
// concurrent use.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/gbtree"
	"thyroidscan/pkg/inference"
)

var envMu sync.Mutex

// Init loads the ONNX Runtime shared library and creates the environment.
// An empty libraryPath uses the platform default. Calling Init again after
// success is a no-op.
func Init(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing onnxruntime: %w", err)
	}
	monitoring.Logf("ONNX Runtime initialized")
	return nil
}

// Shutdown destroys the environment. Every session must be closed first.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Backend opens ONNX models for the detection, segmentation and
// classification stages, and gradient-boosted meta models from XGBoost JSON.
type Backend struct {
	mu       sync.Mutex
	sessions []*session
}

// NewBackend initialises the runtime and returns a backend
func NewBackend(libraryPath string) (*Backend, error) {
	if err := Init(libraryPath); err != nil {
		return nil, err
	}
	return &Backend{}, nil
}

func (b *Backend) open(path string) (*session, error) {
	s, err := newSession(path)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()
	return s, nil
}

// OpenDetector implements inference.Backend
func (b *Backend) OpenDetector(path string) (inference.Detector, error) {
	s, err := b.open(path)
	if err != nil {
		return nil, err
	}
	return &Detector{session: s}, nil
}

// OpenSegmenter implements inference.Backend
func (b *Backend) OpenSegmenter(path string) (inference.Segmenter, error) {
	s, err := b.open(path)
	if err != nil {
		return nil, err
	}
	return &Segmenter{session: s}, nil
}

// OpenClassifier implements inference.Backend
func (b *Backend) OpenClassifier(path string, classes []string) (inference.ImageClassifier, error) {
	if len(classes) == 0 {
		return nil, errors.New("classifier needs class names")
	}
	s, err := b.open(path)
	if err != nil {
		return nil, err
	}
	return &Classifier{session: s, classes: classes}, nil
}

// OpenMeta implements inference.Backend
func (b *Backend) OpenMeta(path string) (inference.MetaClassifier, error) {
	m, err := gbtree.Load(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Close releases every session opened through b
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, s := range b.sessions {
		errs = append(errs, s.close())
	}
	b.sessions = nil
	return errors.Join(errs...)
}

// session wraps a single-input, single-output model
type session struct {
	path   string
	input  string
	output string
	s      *ort.DynamicAdvancedSession
}

func newSession(path string) (*session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model %s: %w", path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has %d inputs and %d outputs", path, len(inputs), len(outputs))
	}

	in, out := inputs[0].Name, outputs[0].Name
	s, err := ort.NewDynamicAdvancedSession(path, []string{in}, []string{out}, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating session for %s: %w", path, err)
	}
	return &session{path: path, input: in, output: out, s: s}, nil
}

// run feeds t through the model and returns a copy of the output
func (s *session) run(ctx context.Context, t inference.Tensor) (inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return inference.Tensor{}, err
	}

	in, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return inference.Tensor{}, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := s.s.Run([]ort.Value{in}, outputs); err != nil {
		return inference.Tensor{}, err
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return inference.Tensor{}, fmt.Errorf("model %s output is not a float32 tensor", s.path)
	}
	data := out.GetData()
	res := inference.Tensor{
		Data:  make([]float32, len(data)),
		Shape: append([]int64(nil), out.GetShape()...),
	}
	copy(res.Data, data)
	return res, nil
}

func (s *session) close() error {
	if s.s == nil {
		return nil
	}
	err := s.s.Destroy()
	s.s = nil
	return err
}
