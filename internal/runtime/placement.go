package runtime

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// Precision is the floating point format requested for weights and caches.
type Precision string

const (
	PrecisionAuto Precision = "auto"
	PrecisionF16  Precision = "f16"
	PrecisionF32  Precision = "f32"
)

// DevicePolicy selects where the model is placed.
type DevicePolicy string

const (
	DeviceAuto DevicePolicy = "auto"
	DeviceCPU  DevicePolicy = "cpu"
	DeviceCUDA DevicePolicy = "cuda"
)

// Placement is the resolved device and precision of a loaded handle.
type Placement struct {
	Device    string
	Precision Precision
}

// Accelerated reports whether the placement targets an accelerator.
func (p Placement) Accelerated() bool { return strings.HasPrefix(p.Device, "cuda") }

// Resolve turns policies into a concrete placement. Auto precision picks f16
// on an accelerator and f32 otherwise; auto device picks the first CUDA
// device when one is available.
func Resolve(prec Precision, dev DevicePolicy, accelerator bool) Placement {
	var p Placement
	switch dev {
	case DeviceCPU:
		p.Device = "cpu"
	case DeviceCUDA:
		p.Device = "cuda:0"
	default:
		if accelerator {
			p.Device = "cuda:0"
		} else {
			p.Device = "cpu"
		}
	}
	switch prec {
	case PrecisionF16, PrecisionF32:
		p.Precision = prec
	default:
		if p.Accelerated() {
			p.Precision = PrecisionF16
		} else {
			p.Precision = PrecisionF32
		}
	}
	return p
}

// DetectCUDA reports whether an NVIDIA device is visible to the process.
func DetectCUDA(ctx context.Context) bool {
	bin, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "-L").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "GPU")
}
