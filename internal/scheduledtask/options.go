package scheduledtask

import (
	"fmt"

	"github.com/savaki/scheduled-tasks/internal/errors"
)

const (
	// DefaultCpu is the Fargate CPU units used when Options.Cpu is zero.
	DefaultCpu = 256
	// DefaultMemory is the memory in MiB used when Options.Memory is zero.
	DefaultMemory = 2048
	// LogRetentionDays is fixed for every scheduled task log group.
	LogRetentionDays = 90
)

// Options holds the optional knobs of a scheduled task. The zero value is
// valid: 256 CPU units, 2048 MiB, default ephemeral storage and no alarms.
type Options struct {
	// Cpu in Fargate CPU units. Defaults to 256.
	Cpu int `yaml:"cpu,omitempty"`

	// Memory in MiB. Defaults to 2048.
	Memory int `yaml:"memory,omitempty"`

	// EphemeralStorageGiB sizes the task's ephemeral storage. Zero leaves the
	// platform default and omits the property.
	EphemeralStorageGiB int `yaml:"ephemeral_storage_gib,omitempty"`

	// AlarmPeriodSeconds enables alarms evaluated over this period. Zero
	// disables every alarm and log metric filter.
	AlarmPeriodSeconds int `yaml:"alarm_period_seconds,omitempty"`

	// EnableInvocationAlerts adds the missing invocations alarm. It has no
	// effect unless AlarmPeriodSeconds is set.
	EnableInvocationAlerts bool `yaml:"enable_invocation_alerts,omitempty"`
}

// WithDefaults returns a copy of o with Cpu and Memory defaulted.
func (o Options) WithDefaults() Options {
	if o.Cpu == 0 {
		o.Cpu = DefaultCpu
	}
	if o.Memory == 0 {
		o.Memory = DefaultMemory
	}
	return o
}

// Validate rejects negative sizes and periods.
func (o Options) Validate() error {
	switch {
	case o.Cpu < 0:
		return fmt.Errorf("%w: cpu must not be negative, got %d", errors.ErrInvalidOptions, o.Cpu)
	case o.Memory < 0:
		return fmt.Errorf("%w: memory must not be negative, got %d", errors.ErrInvalidOptions, o.Memory)
	case o.EphemeralStorageGiB < 0:
		return fmt.Errorf("%w: ephemeral storage must not be negative, got %d", errors.ErrInvalidOptions, o.EphemeralStorageGiB)
	case o.AlarmPeriodSeconds < 0:
		return fmt.Errorf("%w: alarm period must not be negative, got %d", errors.ErrInvalidOptions, o.AlarmPeriodSeconds)
	}
	return nil
}

func (o Options) alarmsEnabled() bool {
	return o.AlarmPeriodSeconds > 0
}
