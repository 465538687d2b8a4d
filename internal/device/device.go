// Package device selects the compute device the model runtime is bound to.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Kind is the device selection made once per loaded resource.
type Kind string

const (
	Accelerated Kind = "accelerated"
	StandardCPU Kind = "cpu"
)

// Precision of the weights bound to a device.
type Precision string

const (
	Half Precision = "f16"
	Full Precision = "f32"
)

// Info describes the selected device.
type Info struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	MemoryMB int    `json:"memory_mb,omitempty"`
}

// Precision returns the weight precision used on this device: half on
// accelerators, full on the CPU.
func (i Info) Precision() Precision {
	if i.Kind == Accelerated {
		return Half
	}
	return Full
}

// MemoryGB is the device memory in decimal gigabytes.
func (i Info) MemoryGB() float64 {
	return float64(i.MemoryMB) * 1024 * 1024 / 1e9
}

func (i Info) String() string {
	if i.Kind == Accelerated {
		return fmt.Sprintf("%s (%s, %.1f GB)", i.Kind, i.Name, i.MemoryGB())
	}
	return string(i.Kind)
}

// CPU is the fallback selection.
func CPU() Info { return Info{Kind: StandardCPU, Name: "cpu"} }

// Prober reports the first available accelerator.
type Prober interface {
	Probe(ctx context.Context) (Info, error)
}

// ErrNoAccelerator is returned by probers that found no usable accelerator.
var ErrNoAccelerator = errors.New("no accelerated device available")

// NvidiaSMI probes NVIDIA GPUs by running nvidia-smi.
type NvidiaSMI struct {
	Bin     string
	Timeout time.Duration
	// run is swapped in tests.
	run func(ctx context.Context, bin string, args ...string) ([]byte, error)
}

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	return out.Bytes(), nil
}

func (p NvidiaSMI) Probe(ctx context.Context) (Info, error) {
	bin := p.Bin
	if bin == "" {
		bin = "nvidia-smi"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	run := p.run
	if run == nil {
		run = runCommand
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := run(ctx, bin, "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		return CPU(), fmt.Errorf("%w: %v", ErrNoAccelerator, err)
	}
	return parseSMI(out)
}

// parseSMI reads the first "name, memoryMiB" row.
func parseSMI(out []byte) (Info, error) {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, ",")
		if idx < 0 {
			return CPU(), fmt.Errorf("%w: unexpected nvidia-smi output %q", ErrNoAccelerator, line)
		}
		name := strings.TrimSpace(line[:idx])
		mem, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
		if err != nil || name == "" {
			return CPU(), fmt.Errorf("%w: unexpected nvidia-smi output %q", ErrNoAccelerator, line)
		}
		return Info{Kind: Accelerated, Name: name, MemoryMB: mem}, nil
	}
	return CPU(), ErrNoAccelerator
}

// Preference is the configured device policy.
type Preference string

const (
	PreferAuto Preference = "auto"
	PreferGPU  Preference = "gpu"
	PreferCPU  Preference = "cpu"
)

// ParsePreference maps a config string to a Preference; unknown values mean auto.
func ParsePreference(s string) Preference {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gpu", "cuda", "accelerated":
		return PreferGPU
	case "cpu":
		return PreferCPU
	default:
		return PreferAuto
	}
}

// Select applies the preference to the probe result. With PreferGPU a missing
// accelerator is an error; with PreferAuto it silently selects the CPU.
func Select(ctx context.Context, p Prober, pref Preference) (Info, error) {
	if pref == PreferCPU || p == nil {
		if pref == PreferGPU {
			return CPU(), ErrNoAccelerator
		}
		return CPU(), nil
	}
	info, err := p.Probe(ctx)
	if err != nil {
		if pref == PreferGPU {
			return CPU(), err
		}
		return CPU(), nil
	}
	return info, nil
}
