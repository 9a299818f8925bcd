package workload

import "fmt"

// Shape is the 4-d buffer layout a workload requests on its device.
type Shape [4]int

// BufferShape sizes the buffer from the device's free memory and the workload's position
// in the requested sequence. Positions near the middle of the sequence get the widest buffers.
func BufferShape(position, total, freeGB int) Shape {
	distance := position - total/2
	if distance < 0 {
		distance = -distance
	}
	return Shape{2 * (freeGB - 1), 512 * (256 - pow2(distance)), 16, 16}
}

func pow2(n int) int {
	if n >= 30 {
		// far beyond the point where the channel dimension goes negative
		return 1 << 30
	}
	return 1 << n
}

// Valid accepts empty dimensions, a zero sized buffer is still a buffer.
func (s Shape) Valid() bool {
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

func (s Shape) Elements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= int64(d)
	}
	return n
}

// Bytes is the float32 footprint of the buffer.
func (s Shape) Bytes() int64 {
	return s.Elements() * 4
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", s[0], s[1], s[2], s[3])
}
