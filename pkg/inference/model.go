package inference

import "context"

// Model is the capability contract every pipeline stage model satisfies.
// Load binds weights from path, Preprocess turns the stage input into what
// the predictor consumes, and Predict runs the whole stage.
type Model[In, Prepared, Out any] interface {
	Load(path string) error
	Preprocess(in In) (Prepared, error)
	Predict(ctx context.Context, in In) (Out, error)
}

// Placeholder is a Model that passes its input through unchanged. It stands
// in for a stage whose weights are not available yet.
type Placeholder[T any] struct {
	path string
}

// Load records path and never fails
func (p *Placeholder[T]) Load(path string) error {
	p.path = path
	return nil
}

// Path returns the last path given to Load
func (p *Placeholder[T]) Path() string { return p.path }

// Preprocess returns in
func (p *Placeholder[T]) Preprocess(in T) (T, error) { return in, nil }

// Predict returns in
func (p *Placeholder[T]) Predict(_ context.Context, in T) (T, error) { return in, nil }
