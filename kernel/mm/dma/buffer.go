// Package dma provides physically-contiguous buffer allocation and the
// device-facing DMA allocation adapter. Devices on this system perform DMA
// without an IOMMU so every buffer handed to a device must occupy a single
// unbroken physical address span.
package dma

import (
	"unsafe"

	"vesper/kernel"
	"vesper/kernel/mm/vmm"
	"vesper/kernel/sync"
)

var (
	// translateFn is used by tests to override virtual-to-physical
	// address translation which requires an active page table.
	translateFn = vmm.Translate

	errZeroSizedBuffer = &kernel.Error{Module: "dma", Message: "buffer size must not be zero"}
)

// BufferDirection describes which side of a DMA transfer writes the buffer.
type BufferDirection uint8

const (
	// DirDriverToDevice marks buffers the driver fills for the device.
	DirDriverToDevice BufferDirection = iota

	// DirDeviceToDriver marks buffers the device fills for the driver.
	DirDeviceToDriver

	// DirBidirectional marks buffers written by both sides.
	DirBidirectional
)

// ContiguousBuffer is a heap-backed byte buffer that is guaranteed to occupy
// one contiguous physical memory span. A lock serializes access to the
// backing storage between the driver and interrupt context.
type ContiguousBuffer struct {
	mutex sync.Spinlock

	data     []byte
	physBase uintptr
}

// NewContiguousBuffer allocates a byte buffer of the requested size and
// verifies that its backing storage is physically contiguous by comparing
// the physical-address delta of its last and first byte. Attempts that fail
// the check are kept alive and the allocation is retried so the allocator
// cannot hand back the same fragmented span. The retry loop is probabilistic
// with no upper bound; pathological heap fragmentation stalls allocation
// rather than returning a non-contiguous buffer.
func NewContiguousBuffer(size uintptr) (*ContiguousBuffer, *kernel.Error) {
	if size == 0 {
		return nil, errZeroSizedBuffer
	}

	var rejected [][]byte

	for {
		data := make([]byte, size)
		virtBase := uintptr(unsafe.Pointer(&data[0]))

		physFirst, err := translateFn(virtBase)
		if err != nil {
			return nil, err
		}

		physLast, err := translateFn(virtBase + size - 1)
		if err != nil {
			return nil, err
		}

		if physLast-physFirst == size-1 {
			return &ContiguousBuffer{data: data, physBase: physFirst}, nil
		}

		rejected = append(rejected, data)
	}
}

// Addr returns the verified physical base address of the buffer.
func (buf *ContiguousBuffer) Addr() uintptr {
	return buf.physBase
}

// VirtAddr returns the virtual base address of the buffer's backing storage.
func (buf *ContiguousBuffer) VirtAddr() uintptr {
	return uintptr(unsafe.Pointer(&buf.data[0]))
}

// Size returns the buffer length in bytes.
func (buf *ContiguousBuffer) Size() uintptr {
	return uintptr(len(buf.data))
}

// Access invokes op with the buffer's backing storage while holding the
// buffer lock. The slice must not be retained past the call.
func (buf *ContiguousBuffer) Access(op func(data []byte)) {
	buf.mutex.Acquire()
	op(buf.data)
	buf.mutex.Release()
}
