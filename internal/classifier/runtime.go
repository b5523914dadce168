package classifier

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Runtime runs forward passes for a loaded network.
type Runtime interface {
	// Forward runs one inference pass and returns the flattened output.
	Forward(input Tensor) ([]float32, error)

	// Close releases the network.
	Close() error
}

// Opener opens a Runtime for a model description.
type Opener func(d Descriptor) (Runtime, error)

// gocvRuntime runs the network through the OpenCV dnn module.
type gocvRuntime struct {
	net gocv.Net
}

// OpenGoCV reads the network weights with gocv. ONNX, TensorFlow and other
// formats supported by cv::dnn::readNet are accepted.
func OpenGoCV(d Descriptor) (Runtime, error) {
	net := gocv.ReadNet(d.WeightsPath(), d.ConfigPath())
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("read network %s: empty network", d.WeightsPath())
	}

	if d.Backend != "" {
		if err := net.SetPreferableBackend(gocv.ParseNetBackend(d.Backend)); err != nil {
			net.Close()
			return nil, fmt.Errorf("set backend %s: %w", d.Backend, err)
		}
	}
	if d.Target != "" {
		if err := net.SetPreferableTarget(gocv.ParseNetTarget(d.Target)); err != nil {
			net.Close()
			return nil, fmt.Errorf("set target %s: %w", d.Target, err)
		}
	}

	return &gocvRuntime{net: net}, nil
}

// Forward builds an input blob, runs the network and copies the output out
// of OpenCV memory. Both Mats are released before returning.
func (r *gocvRuntime) Forward(input Tensor) ([]float32, error) {
	blob, err := inputBlob(input)
	if err != nil {
		return nil, fmt.Errorf("build input blob: %w", err)
	}
	defer blob.Close()

	r.net.SetInput(blob, "")
	out := r.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, fmt.Errorf("forward: empty output")
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	result := make([]float32, len(data))
	copy(result, data)
	return result, nil
}

func (r *gocvRuntime) Close() error {
	return r.net.Close()
}

// inputBlob copies the tensor into a Mat allocated by OpenCV, so the blob
// holds no reference to Go memory.
func inputBlob(input Tensor) (gocv.Mat, error) {
	size := 1
	for _, d := range input.Shape {
		size *= d
	}
	if len(input.Shape) == 0 || size != len(input.Data) {
		return gocv.Mat{}, fmt.Errorf("shape %v does not hold %d values", input.Shape, len(input.Data))
	}

	blob := gocv.NewMatWithSizes(input.Shape, gocv.MatTypeCV32F)
	data, err := blob.DataPtrFloat32()
	if err != nil {
		blob.Close()
		return gocv.Mat{}, err
	}
	copy(data, input.Data)
	return blob, nil
}
