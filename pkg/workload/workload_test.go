package workload

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/AccessibleAI/occupiedgpus/pkg/gpumgr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"
)

// countingKernel cancels the workload after a fixed number of cubes, or fails at a given cube.
type countingKernel struct {
	cubes    int64
	stopAt   int64
	failAt   int64
	panicAt  int64
	allocErr error
	cancel   context.CancelFunc
}

func (k *countingKernel) Allocate(deviceID int, shape Shape) (Tensor, error) {
	if k.allocErr != nil {
		return nil, k.allocErr
	}
	return k, nil
}

func (k *countingKernel) Cube() error {
	n := atomic.AddInt64(&k.cubes, 1)
	if k.failAt > 0 && n == k.failAt {
		return errors.New("out of memory")
	}
	if k.panicAt > 0 && n == k.panicAt {
		panic("device fell off the bus")
	}
	if k.stopAt > 0 && n == k.stopAt && k.cancel != nil {
		k.cancel()
	}
	return nil
}

var fast = Options{Delay: 0, Rounds: 3, ReportEvery: 2}

var sample = gpumgr.MemorySample{UsedGB: 0, FreeGB: 9}

var _ = Describe("workload", func() {

	Context("buffer shape", func() {
		It("is widest in the middle of the sequence", func() {
			Expect(BufferShape(2, 4, 9)).To(Equal(Shape{16, 512 * 255, 16, 16}))
			Expect(BufferShape(1, 4, 9)).To(Equal(Shape{16, 512 * 254, 16, 16}))
			Expect(BufferShape(0, 4, 9)).To(Equal(Shape{16, 512 * 252, 16, 16}))
			Expect(BufferShape(0, 1, 3)).To(Equal(Shape{4, 512 * 255, 16, 16}))
		})

		It("is invalid only when a dimension goes negative", func() {
			Expect(BufferShape(0, 1, 0).Valid()).To(BeFalse())
			Expect(BufferShape(0, 100, 9).Valid()).To(BeFalse())
			Expect(BufferShape(0, 18, 9).Valid()).To(BeFalse())
			Expect(BufferShape(1, 16, 9).Valid()).To(BeTrue())
		})

		It("accepts empty buffers", func() {
			Expect(BufferShape(0, 1, 1)).To(Equal(Shape{0, 512 * 255, 16, 16}))
			Expect(BufferShape(0, 1, 1).Valid()).To(BeTrue())
			Expect(BufferShape(0, 16, 9)).To(Equal(Shape{16, 0, 16, 16}))
			Expect(BufferShape(0, 16, 9).Valid()).To(BeTrue())
			Expect(BufferShape(0, 16, 9).Bytes()).To(BeZero())
		})

		It("reports its float32 size", func() {
			s := Shape{2, 3, 4, 5}
			Expect(s.Elements()).To(Equal(int64(120)))
			Expect(s.Bytes()).To(Equal(int64(480)))
		})
	})

	Context("run", func() {
		It("computes bursts of three cubes and reports liveness", func() {
			ctx, cancel := context.WithCancel(context.Background())
			k := &countingKernel{stopAt: 3 * 6, cancel: cancel}
			w := New(0, 0, 1, sample, k, fast)
			err := w.Run(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(w.Iterations()).To(Equal(int64(6)))
			Expect(w.Reports()).To(Equal(int64(3)))
			Expect(w.Name()).To(Equal("Thread-0-GPU0"))
		})

		It("stops on a compute failure", func() {
			k := &countingKernel{failAt: 5}
			w := New(1, 0, 1, sample, k, fast)
			err := w.Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("out of memory")))
			Expect(w.Iterations()).To(Equal(int64(1)))
		})

		It("turns a panic into a failure", func() {
			k := &countingKernel{panicAt: 2}
			err := New(1, 0, 1, sample, k, fast).Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("device fell off the bus")))
		})

		DescribeTable("keeps a device with an empty buffer busy",
			func(position, total int, sample gpumgr.MemorySample) {
				ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
				defer cancel()
				w := New(7, position, total, sample, NewHostKernel(), Options{Delay: time.Millisecond, Rounds: 3, ReportEvery: 2})
				err := w.Run(ctx)
				Expect(err).To(MatchError(context.DeadlineExceeded))
				Expect(w.Err()).To(MatchError(context.DeadlineExceeded))
				Expect(w.Iterations()).To(BeNumerically(">", 0))
			},
			Entry("idle device with a single free GB", 0, 1, gpumgr.MemorySample{UsedGB: 0, FreeGB: 1}),
			Entry("position eight away from the middle", 0, 16, gpumgr.MemorySample{UsedGB: 0, FreeGB: 9}),
		)

		It("stops when the buffer can't be allocated", func() {
			w := New(1, 0, 1, gpumgr.MemorySample{UsedGB: 0, FreeGB: 0}, NewHostKernel(), fast)
			err := w.Run(context.Background())
			Expect(errors.Is(err, ErrInvalidShape)).To(BeTrue())
			Expect(w.Iterations()).To(BeZero())
		})
	})

	Context("host kernel", func() {
		It("keeps the tile finite across many cubes", func() {
			t, err := (&HostKernel{TileSide: 8}).Allocate(0, Shape{2, 512, 16, 16})
			Expect(err).ToNot(HaveOccurred())
			for i := 0; i < 50; i++ {
				Expect(t.Cube()).To(Succeed())
			}
			ht := t.(*hostTensor)
			Expect(ht.side).To(Equal(8))
			rows, cols := ht.x.Dims()
			Expect(rows).To(Equal(8))
			Expect(cols).To(Equal(8))
			Expect(mat.Max(ht.x)).To(BeNumerically("<=", 1))
			Expect(mat.Min(ht.x)).To(BeNumerically(">=", -1))
			Expect(math.Max(mat.Max(ht.x), -mat.Min(ht.x))).To(BeNumerically("~", 1, 1e-9))
		})

		It("cubes the tile", func() {
			t, err := (&HostKernel{TileSide: 2}).Allocate(0, Shape{1, 1, 1, 2})
			Expect(err).ToNot(HaveOccurred())
			ht := t.(*hostTensor)
			ht.x = mat.NewDense(2, 2, []float64{0, 1, 2, 0})
			Expect(t.Cube()).To(Succeed())
			// [[0 1] [2 0]]^3 = [[0 2] [4 0]], scaled to unit max
			Expect(mat.Equal(ht.x, mat.NewDense(2, 2, []float64{0, 0.5, 1, 0}))).To(BeTrue())
		})

		It("hands out a no-op tensor for empty shapes", func() {
			t, err := NewHostKernel().Allocate(0, Shape{0, 512, 16, 16})
			Expect(err).ToNot(HaveOccurred())
			Expect(t.Cube()).To(Succeed())
		})
	})

	Context("pool", func() {
		It("keeps running the others when one workload fails", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			good := &countingKernel{stopAt: 30, cancel: cancel}
			bad := &countingKernel{allocErr: errors.New("cuda out of memory")}

			p := NewPool(ctx, bad, fast)
			p.Launch(3, 0, 2, sample)
			p.kernel = good
			p.Launch(5, 1, 2, sample)
			Expect(p.Started()).To(Equal(2))

			Expect(p.Wait()).To(HaveOccurred())
			Expect(atomic.LoadInt64(&good.cubes)).To(Equal(int64(30)))
			ws := p.Workloads()
			Expect(ws[0].DeviceID).To(Equal(3))
			Expect(ws[0].Err()).To(MatchError(ContainSubstring("cuda out of memory")))
			Expect(ws[1].Iterations()).To(Equal(int64(10)))
			Expect(ws[1].Err()).To(MatchError(context.Canceled))
		})
	})
})
