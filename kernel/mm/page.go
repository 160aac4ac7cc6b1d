// Package mm defines the physical frame and virtual page primitives shared
// by the physical and virtual memory managers. It also acts as the frame
// allocation hub: the physical memory manager registers its allocator here
// and the page mapper requests frames through it, which keeps the two
// managers free of direct dependencies on each other.
package mm

import (
	"math"

	"vesper/kernel"
)

// Size describes an amount of memory in bytes.
type Size uint64

// Common memory size multiples.
const (
	Kb Size = 1 << ((iota + 1) * 10)
	Mb
	Gb
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address where this Frame begins.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not frame-aligned are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address where this Page begins.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

var (
	// frameAllocator points to the frame allocator function registered
	// via SetFrameAllocator.
	frameAllocator FrameAllocatorFn
)

// SetFrameAllocator registers a frame allocator function that will be used
// by the page mapper whenever new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the currently registered
// frame allocator.
func AllocFrame() (Frame, *kernel.Error) { return frameAllocator() }
