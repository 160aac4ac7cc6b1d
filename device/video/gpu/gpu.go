// Package gpu implements the display bring-up orchestrator. It locates the
// virtio display device through the PCI registry, establishes a transport
// and driver instance backed by the DMA adapter, claims the framebuffer and
// exposes the drawing and hardware-cursor operations built on top of it.
package gpu

import (
	"reflect"
	"unsafe"

	"vesper/device/pci"
	"vesper/device/virtio"
	"vesper/kernel"
	"vesper/kernel/kfmt"
	"vesper/kernel/sync"
)

// enableBusMasteringFn is used by tests to override the bus-mastering
// enable which issues privileged port instructions.
var enableBusMasteringFn = (*pci.DeviceConfig).EnableBusMastering

// Phase tracks display bring-up progress. Phases only advance forward;
// PhaseFailed is terminal and drawing is permitted only in PhaseReady.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseDeviceFound
	PhaseTransportReady
	PhaseDriverReady
	PhaseResolutionKnown
	PhaseReady
	PhaseFailed
)

// String implements fmt.Stringer for Phase.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseDeviceFound:
		return "device found"
	case PhaseTransportReady:
		return "transport ready"
	case PhaseDriverReady:
		return "driver ready"
	case PhaseResolutionKnown:
		return "resolution known"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Device is a display device session. The device lock guards the phase,
// driver handle, resolution and pointer position; a separate lock guards
// the framebuffer contents so long pixel sweeps do not block phase queries.
type Device struct {
	mutex   sync.Spinlock
	fbMutex sync.Spinlock

	phase  Phase
	driver virtio.GPUDriver

	width  uint32
	height uint32

	framebuffer []byte

	pointerX uint32
	pointerY uint32
}

// Init locates the display device in the PCI registry and brings it up to
// the point where drawing operations are accepted. Each failure is logged
// with its cause and leaves the device in the terminal failed phase; the
// kernel continues without graphics.
func Init(registry *pci.Registry, hal virtio.HAL) *Device {
	dev := &Device{phase: PhaseUninitialized}

	cfg, found := registry.FindDevice(virtio.VendorID, virtio.DeviceIDGPU)
	if !found {
		return dev.fail("display device not present", nil)
	}
	dev.advance(PhaseDeviceFound)
	kfmt.Printf("[gpu] found display device at %2x:%2x.%x\n", cfg.Bus, cfg.Device, cfg.Function)

	enableBusMasteringFn(cfg)

	transport, err := virtio.NewPCITransportFn(cfg, hal)
	if err != nil {
		return dev.fail("transport setup failed", err)
	}
	dev.advance(PhaseTransportReady)

	driver, err := virtio.NewGPUDriverFn(transport, hal)
	if err != nil {
		return dev.fail("driver setup failed", err)
	}

	dev.mutex.Acquire()
	dev.driver = driver
	dev.phase = PhaseDriverReady
	dev.mutex.Release()

	width, height, err := driver.Resolution()
	if err != nil {
		return dev.fail("resolution query failed", err)
	}
	if width == 0 || height == 0 {
		return dev.fail("device reported a zero resolution", nil)
	}

	dev.mutex.Acquire()
	dev.width = width
	dev.height = height
	dev.phase = PhaseResolutionKnown
	dev.mutex.Release()
	kfmt.Printf("[gpu] display resolution is %dx%d\n", width, height)

	fbVirt, fbSize, err := driver.SetupFramebuffer()
	if err != nil {
		return dev.fail("framebuffer setup failed", err)
	}

	fb := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(fbSize),
		Cap:  int(fbSize),
		Data: fbVirt,
	}))

	dev.mutex.Acquire()
	dev.framebuffer = fb
	dev.phase = PhaseReady
	dev.mutex.Release()
	kfmt.Printf("[gpu] framebuffer at 0x%x, %d bytes\n", fbVirt, fbSize)

	return dev
}

// fail logs the bring-up failure cause and moves the device to the
// terminal failed phase.
func (dev *Device) fail(msg string, err *kernel.Error) *Device {
	if err != nil {
		kfmt.Printf("[gpu] init failed: %s: %s\n", msg, err.Message)
	} else {
		kfmt.Printf("[gpu] init failed: %s\n", msg)
	}

	dev.mutex.Acquire()
	dev.phase = PhaseFailed
	dev.mutex.Release()
	return dev
}

// advance moves the phase forward. A failed device never leaves its
// terminal phase.
func (dev *Device) advance(next Phase) {
	dev.mutex.Acquire()
	if dev.phase != PhaseFailed && next > dev.phase {
		dev.phase = next
	}
	dev.mutex.Release()
}

// Phase returns the device's current bring-up phase.
func (dev *Device) Phase() Phase {
	dev.mutex.Acquire()
	phase := dev.phase
	dev.mutex.Release()
	return phase
}

// Resolution returns the display resolution established during bring-up.
func (dev *Device) Resolution() (width, height uint32) {
	dev.mutex.Acquire()
	width, height = dev.width, dev.height
	dev.mutex.Release()
	return width, height
}

// WithFramebuffer invokes op with the framebuffer contents and the current
// resolution while holding the framebuffer lock; the lock is released on
// every exit path out of op. It returns false without invoking op when the
// device is not ready for drawing.
func (dev *Device) WithFramebuffer(op func(fb []byte, width, height uint32)) bool {
	dev.mutex.Acquire()
	if dev.phase != PhaseReady {
		dev.mutex.Release()
		return false
	}
	fb, width, height := dev.framebuffer, dev.width, dev.height
	dev.mutex.Release()

	dev.fbMutex.Acquire()
	defer dev.fbMutex.Release()
	op(fb, width, height)
	return true
}

// Flush instructs the driver to present the current framebuffer contents.
func (dev *Device) Flush() bool {
	driver, ready := dev.readyDriver()
	if !ready {
		return false
	}

	if err := driver.Flush(); err != nil {
		kfmt.Printf("[gpu] flush failed: %s\n", err.Message)
		return false
	}
	return true
}

// SetPointer uploads a hardware cursor image. The image must contain
// exactly width*height 4-byte RGBA pixels and the hotspot must lie inside
// it; invalid input is rejected with a log line.
func (dev *Device) SetPointer(image []byte, width, height, hotX, hotY uint32) bool {
	if uint64(len(image)) != uint64(width)*uint64(height)*4 {
		kfmt.Printf("[gpu] cursor image is %d bytes; expected %dx%dx4\n", len(image), width, height)
		return false
	}
	if hotX >= width || hotY >= height {
		kfmt.Printf("[gpu] cursor hotspot (%d,%d) lies outside the %dx%d image\n", hotX, hotY, width, height)
		return false
	}

	driver, ready := dev.readyDriver()
	if !ready {
		return false
	}

	dev.mutex.Acquire()
	posX, posY := dev.pointerX, dev.pointerY
	dev.mutex.Release()

	if err := driver.SetupCursor(image, posX, posY, hotX, hotY); err != nil {
		kfmt.Printf("[gpu] cursor setup failed: %s\n", err.Message)
		return false
	}
	return true
}

// MovePointer moves the hardware cursor. Positions on the right and bottom
// display edge (x == width, y == height) are accepted and forwarded to the
// driver unchanged.
func (dev *Device) MovePointer(x, y uint32) bool {
	driver, ready := dev.readyDriver()
	if !ready {
		return false
	}

	dev.mutex.Acquire()
	width, height := dev.width, dev.height
	dev.mutex.Release()

	if x > width || y > height {
		kfmt.Printf("[gpu] pointer position (%d,%d) lies outside the %dx%d display\n", x, y, width, height)
		return false
	}

	if err := driver.MoveCursor(x, y); err != nil {
		kfmt.Printf("[gpu] pointer move failed: %s\n", err.Message)
		return false
	}

	dev.mutex.Acquire()
	dev.pointerX, dev.pointerY = x, y
	dev.mutex.Release()
	return true
}

// readyDriver returns the driver handle if the device accepts drawing
// calls. The driver lock is not held across the returned handle's use.
func (dev *Device) readyDriver() (virtio.GPUDriver, bool) {
	dev.mutex.Acquire()
	if dev.phase != PhaseReady {
		dev.mutex.Release()
		return nil, false
	}
	driver := dev.driver
	dev.mutex.Release()
	return driver, true
}
