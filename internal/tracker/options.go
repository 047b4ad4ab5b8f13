package tracker

import "fmt"

// Options is a backend-specific parameter set. Each backend has its own
// struct and validates it independently.
type Options interface {
	Backend() Backend
	Validate() error
}

// KCFOptions configures the kernelized correlation filter backend.
// The gocv binding exposes no tunables; the struct exists so every backend is
// configured the same way.
type KCFOptions struct{}

func (KCFOptions) Backend() Backend { return KCF }
func (KCFOptions) Validate() error  { return nil }

// CSRTOptions configures the channel and spatial reliability backend.
type CSRTOptions struct{}

func (CSRTOptions) Backend() Backend { return CSRT }
func (CSRTOptions) Validate() error  { return nil }

// MILOptions configures the multiple instance learning backend.
type MILOptions struct{}

func (MILOptions) Backend() Backend { return MIL }
func (MILOptions) Validate() error  { return nil }

// TemplateOptions configures the template matching backend.
type TemplateOptions struct {
	// SearchScale is the search window size relative to the target (>= 1).
	SearchScale float64

	// MinScore is the normalised correlation below which the target is
	// considered lost, in (0, 1].
	MinScore float32

	// Adapt replaces the template with the latest match on every success.
	Adapt bool
}

// DefaultTemplateOptions returns the template backend defaults.
func DefaultTemplateOptions() TemplateOptions {
	return TemplateOptions{
		SearchScale: 2.0,
		MinScore:    0.6,
		Adapt:       false,
	}
}

func (TemplateOptions) Backend() Backend { return Template }

// Validate checks the search scale and score threshold.
func (o TemplateOptions) Validate() error {
	if o.SearchScale < 1 {
		return fmt.Errorf("template: search scale must be >= 1, got %v", o.SearchScale)
	}
	if o.MinScore <= 0 || o.MinScore > 1 {
		return fmt.Errorf("template: min score must be in (0, 1], got %v", o.MinScore)
	}
	return nil
}

// optionsFor checks that opts belongs to backend b and is valid.
func optionsFor[T Options](b Backend, opts Options, defaults T) (T, error) {
	if opts == nil {
		return defaults, nil
	}
	typed, ok := opts.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: options are for backend %q", b, opts.Backend())
	}
	if err := typed.Validate(); err != nil {
		var zero T
		return zero, err
	}
	return typed, nil
}
