// Package virtio defines the contracts between the GPU orchestrator and the
// virtio transport/driver implementation. The transport locates a device's
// control and notification register blocks through the PCI capability list
// and the driver speaks the device-class protocol on top of it; both are
// external collaborators reached through the interfaces and constructor
// hooks declared here.
package virtio

import (
	"vesper/device/pci"
	"vesper/kernel"
	"vesper/kernel/mm/dma"
)

const (
	// VendorID is the PCI vendor id assigned to virtio devices.
	VendorID = uint16(0x1af4)

	// DeviceIDGPU is the PCI device id of the modern virtio GPU device.
	DeviceIDGPU = uint16(0x1050)

	// DeviceTypeGPU is the virtio device type reported by GPU transports.
	DeviceTypeGPU = uint32(16)
)

// HAL is the capability set a transport or driver needs from the kernel
// memory subsystem: DMA memory allocation, MMIO address translation and
// buffer sharing.
type HAL interface {
	// DMAAlloc allocates pageCount physically contiguous frames and
	// returns their physical and virtual base addresses.
	DMAAlloc(pageCount uint, dir dma.BufferDirection) (physAddr, virtAddr uintptr, err *kernel.Error)

	// DMAFree releases an allocation issued by DMAAlloc.
	DMAFree(physAddr, virtAddr uintptr) *kernel.Error

	// MMIOPhysToVirt returns the virtual alias of an MMIO physical
	// address.
	MMIOPhysToVirt(physAddr uintptr) uintptr

	// Share translates a buffer's virtual address for device access.
	Share(virtAddr uintptr, dir dma.BufferDirection) (uintptr, *kernel.Error)

	// Unshare signals that the device no longer accesses the buffer.
	Unshare(physAddr, virtAddr uintptr)
}

// Transport gives a driver access to one virtio device's configuration and
// notification registers.
type Transport interface {
	// DeviceType returns the virtio device type behind the transport.
	DeviceType() uint32
}

// GPUDriver is the device-class protocol surface of the virtio GPU driver.
type GPUDriver interface {
	// Resolution returns the native display resolution.
	Resolution() (width, height uint32, err *kernel.Error)

	// SetupFramebuffer allocates the framebuffer through the HAL, attaches
	// it to the device scanout and returns its virtual base and size.
	SetupFramebuffer() (virtAddr, size uintptr, err *kernel.Error)

	// Flush presents the current framebuffer contents on the display.
	Flush() *kernel.Error

	// SetupCursor uploads a 64x64 RGBA cursor image together with its
	// position and hotspot.
	SetupCursor(image []byte, posX, posY, hotX, hotY uint32) *kernel.Error

	// MoveCursor moves the hardware cursor to the supplied position.
	MoveCursor(posX, posY uint32) *kernel.Error
}

var (
	// ErrNotLinked is returned by the default constructor hooks when no
	// transport/driver implementation has been linked into the kernel.
	ErrNotLinked = &kernel.Error{Module: "virtio", Message: "no virtio transport/driver implementation linked"}

	// NewPCITransportFn constructs a transport over the supplied PCI
	// function, using the HAL for any DMA memory the virtqueues need.
	// The linked transport implementation replaces this hook at init
	// time; the default fails cleanly so device bring-up degrades to a
	// non-graphics boot.
	NewPCITransportFn = func(cfg *pci.DeviceConfig, hal HAL) (Transport, *kernel.Error) {
		return nil, ErrNotLinked
	}

	// NewGPUDriverFn constructs the GPU driver on top of an established
	// transport. Replaced by the linked driver implementation.
	NewGPUDriverFn = func(transport Transport, hal HAL) (GPUDriver, *kernel.Error) {
		return nil, ErrNotLinked
	}
)
