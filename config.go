package vksync

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options is the runtime configuration of a DeviceContext. Zero values are
// filled in by validate; DefaultOptions gives the recommended set.
type Options struct {
	// DebugChecks enables the defensive hazard assertions. Recording an
	// access the tracker cannot express a barrier for (a cross-queue write
	// without a wait) then fails with ErrHazardViolation instead of
	// emitting a conservative barrier.
	DebugChecks bool `yaml:"debug_checks"`

	// CollectEverySubmit runs a non-blocking Collect before every
	// submission.
	CollectEverySubmit bool `yaml:"collect_every_submit"`

	// WaitTimeout bounds WaitUntil and each per-marker wait during
	// teardown.
	WaitTimeout time.Duration `yaml:"-"`
}

// optionsFile is the on-disk shape. Absent fields keep their defaults;
// the timeout is spelled in milliseconds.
type optionsFile struct {
	DebugChecks        *bool `yaml:"debug_checks"`
	CollectEverySubmit *bool `yaml:"collect_every_submit"`
	WaitTimeoutMS      int64 `yaml:"wait_timeout_ms"`
}

// DefaultOptions returns the recommended configuration.
func DefaultOptions() Options {
	return Options{
		DebugChecks:        false,
		CollectEverySubmit: true,
		WaitTimeout:        5 * time.Second,
	}
}

// LoadOptions reads options from a YAML file, applying defaults for absent
// fields.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "read options %s", path)
	}

	var file optionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return opts, errors.Wrapf(err, "parse options %s", path)
	}
	if file.DebugChecks != nil {
		opts.DebugChecks = *file.DebugChecks
	}
	if file.CollectEverySubmit != nil {
		opts.CollectEverySubmit = *file.CollectEverySubmit
	}
	if file.WaitTimeoutMS != 0 {
		opts.WaitTimeout = time.Duration(file.WaitTimeoutMS) * time.Millisecond
	}

	if err := opts.validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func (o *Options) validate() error {
	if o.WaitTimeout < 0 {
		return errors.Wrap(ErrInvalidState, "negative wait_timeout")
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = DefaultOptions().WaitTimeout
	}
	return nil
}
