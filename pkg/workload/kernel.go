package workload

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var ErrInvalidShape = errors.New("invalid buffer shape")

// Kernel owns the numeric side of a workload: where the buffer lives and how it's contracted.
type Kernel interface {
	Allocate(deviceID int, shape Shape) (Tensor, error)
}

type Tensor interface {
	// Cube replaces the tensor with x @ x @ x.
	Cube() error
}

const DefaultTileSide = 64

// HostKernel keeps the contraction on the host, on a square tile cut from the requested shape.
type HostKernel struct {
	TileSide int
}

func NewHostKernel() *HostKernel {
	return &HostKernel{TileSide: DefaultTileSide}
}

func (k *HostKernel) Allocate(deviceID int, shape Shape) (Tensor, error) {
	if !shape.Valid() {
		return nil, errors.Wrapf(ErrInvalidShape, "device %d shape %s", deviceID, shape)
	}
	if shape.Elements() == 0 {
		return emptyTensor{}, nil
	}
	side := shape[2] * shape[3]
	if k.TileSide > 0 && side > k.TileSide {
		side = k.TileSide
	}
	r := rand.New(rand.NewSource(int64(deviceID) + 1))
	data := make([]float64, side*side)
	for i := range data {
		data[i] = r.NormFloat64()
	}
	return &hostTensor{
		side:   side,
		x:      mat.NewDense(side, side, data),
		square: mat.NewDense(side, side, nil),
		cube:   mat.NewDense(side, side, nil),
	}, nil
}

// emptyTensor backs a zero sized buffer, cubing it is a no-op.
type emptyTensor struct{}

func (emptyTensor) Cube() error {
	return nil
}

type hostTensor struct {
	side   int
	x      *mat.Dense
	square *mat.Dense
	cube   *mat.Dense
}

func (t *hostTensor) Cube() error {
	t.square.Mul(t.x, t.x)
	t.cube.Mul(t.square, t.x)
	t.x, t.cube = t.cube, t.x
	return t.normalize()
}

// normalize rescales to unit max so repeated cubing stays finite.
func (t *hostTensor) normalize() error {
	if sum := mat.Sum(t.x); math.IsNaN(sum) || math.IsInf(sum, 0) {
		return errors.New("tensor diverged")
	}
	max := math.Max(math.Abs(mat.Max(t.x)), math.Abs(mat.Min(t.x)))
	if max == 0 {
		return nil
	}
	t.x.Scale(1/max, t.x)
	return nil
}
