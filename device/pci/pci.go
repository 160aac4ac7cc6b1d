// Package pci implements the PCI bus enumerator. Device discovery uses the
// legacy mechanism #1 configuration-space protocol: a 32-bit address written
// to port 0xcf8 selects one aligned configuration register which is then
// accessed through port 0xcfc.
package pci

import (
	"vesper/kernel/cpu"
	"vesper/kernel/kfmt"
	"vesper/kernel/sync"
)

const (
	configAddressPort = uint16(0xcf8)
	configDataPort    = uint16(0xcfc)

	maxBuses            = 256
	maxDevicesPerBus    = 32
	maxFunctionsPerSlot = 8

	// vendorIDAbsent is returned by configuration-space reads when no
	// device answers at the probed address.
	vendorIDAbsent = uint16(0xffff)
)

var (
	// portReadDwordFn and portWriteDwordFn are used by tests to emulate a
	// configuration space without issuing privileged port instructions.
	portReadDwordFn  = cpu.PortReadDword
	portWriteDwordFn = cpu.PortWriteDword
)

// ConfigRegister addresses a single aligned 32-bit register inside a PCI
// function's configuration space.
type ConfigRegister struct {
	bus      uint8
	device   uint8
	function uint8
	offset   uint8
}

// NewConfigRegister returns a register handle for the supplied bus, device,
// function and register offset. The offset's two low bits are ignored by
// the protocol.
func NewConfigRegister(bus, device, function, offset uint8) ConfigRegister {
	return ConfigRegister{bus: bus, device: device, function: function, offset: offset}
}

func (r ConfigRegister) address() uint32 {
	return 1<<31 |
		uint32(r.bus)<<16 |
		uint32(r.device)<<11 |
		uint32(r.function)<<8 |
		uint32(r.offset)&0xfc
}

// Read selects the register on the address port and reads its value from
// the data port.
func (r ConfigRegister) Read() uint32 {
	portWriteDwordFn(configAddressPort, r.address())
	return portReadDwordFn(configDataPort)
}

// Write selects the register on the address port and writes val to the
// data port.
func (r ConfigRegister) Write(val uint32) {
	portWriteDwordFn(configAddressPort, r.address())
	portWriteDwordFn(configDataPort, val)
}

// DeviceConfig is the snapshot of a discovered PCI function's configuration
// header taken at scan time. Command-register writes performed through
// EnableBusMastering go directly to hardware and do not refresh the cached
// Command value.
type DeviceConfig struct {
	Bus      uint8
	Device   uint8
	Function uint8

	VendorID uint16
	DeviceID uint16

	Command uint16
	Status  uint16

	RevisionID    uint8
	ProgInterface uint8
	Subclass      uint8
	Class         uint8

	BaseAddresses [6]uint32

	InterruptPin  uint8
	InterruptLine uint8
}

// readDeviceConfig builds a DeviceConfig by reading the fixed header offsets
// of the addressed function.
func readDeviceConfig(bus, device, function uint8) *DeviceConfig {
	cfg := &DeviceConfig{
		Bus:      bus,
		Device:   device,
		Function: function,
	}

	idReg := NewConfigRegister(bus, device, function, 0x00).Read()
	cfg.VendorID = uint16(idReg)
	cfg.DeviceID = uint16(idReg >> 16)

	cmdReg := NewConfigRegister(bus, device, function, 0x04).Read()
	cfg.Command = uint16(cmdReg)
	cfg.Status = uint16(cmdReg >> 16)

	classReg := NewConfigRegister(bus, device, function, 0x08).Read()
	cfg.RevisionID = uint8(classReg)
	cfg.ProgInterface = uint8(classReg >> 8)
	cfg.Subclass = uint8(classReg >> 16)
	cfg.Class = uint8(classReg >> 24)

	for index := range cfg.BaseAddresses {
		cfg.BaseAddresses[index] = NewConfigRegister(bus, device, function, uint8(0x10+index*4)).Read()
	}

	irqReg := NewConfigRegister(bus, device, function, 0x3c).Read()
	cfg.InterruptLine = uint8(irqReg)
	cfg.InterruptPin = uint8(irqReg >> 8)

	return cfg
}

// EnableBusMastering sets the bus-master bit in the function's command
// register with a read-modify-write on hardware, allowing the device to
// initiate memory transfers on its own. The cached Command snapshot is left
// untouched.
func (cfg *DeviceConfig) EnableBusMastering() {
	register := NewConfigRegister(cfg.Bus, cfg.Device, cfg.Function, 0x04)
	register.Write(register.Read() | 1<<2)
}

// MemBaseAddress returns the physical base address encoded in the indexed
// base-address register, folding in the upper half for 64-bit registers.
// The second return value is false if the register addresses I/O port space
// instead of memory.
func (cfg *DeviceConfig) MemBaseAddress(index int) (uintptr, bool) {
	bar := cfg.BaseAddresses[index]
	if bar&0x1 != 0 {
		return 0, false
	}

	base := uintptr(bar &^ 0xf)
	if (bar>>1)&0x3 == 0x2 && index < len(cfg.BaseAddresses)-1 {
		base |= uintptr(cfg.BaseAddresses[index+1]) << 32
	}

	return base, true
}

// IOBaseAddress returns the port base encoded in the indexed base-address
// register. The second return value is false if the register addresses
// memory space instead of I/O ports.
func (cfg *DeviceConfig) IOBaseAddress(index int) (uint16, bool) {
	bar := cfg.BaseAddresses[index]
	if bar&0x1 == 0 {
		return 0, false
	}

	return uint16(bar &^ 0x3), true
}

// Registry holds the PCI functions discovered by DetectDevices. Entries are
// created during the scan and persist for the kernel lifetime.
type Registry struct {
	mutex sync.Spinlock

	devices []*DeviceConfig
}

// NewRegistry returns a registry holding the supplied device functions in
// insertion order.
func NewRegistry(devices ...*DeviceConfig) *Registry {
	return &Registry{devices: devices}
}

// DetectDevices scans every bus/device combination of the configuration
// address space, probing the extra functions of multi-function devices, and
// returns the populated device registry. Discovered IDE controllers are
// forced into legacy compatibility mode before the registry is returned.
func DetectDevices() *Registry {
	registry := &Registry{}

	for bus := 0; bus < maxBuses; bus++ {
		for device := 0; device < maxDevicesPerBus; device++ {
			registry.probeSlot(uint8(bus), uint8(device))
		}
	}

	registry.fixupIDEControllers()

	kfmt.Printf("[pci] scan complete; found %d device function(s)\n", len(registry.devices))
	return registry
}

// probeSlot checks function 0 of the addressed slot and, when its header
// reports a multi-function device, probes functions 1-7 as well.
func (reg *Registry) probeSlot(bus, device uint8) {
	idReg := NewConfigRegister(bus, device, 0, 0x00).Read()
	if uint16(idReg) == vendorIDAbsent {
		return
	}

	reg.addDevice(readDeviceConfig(bus, device, 0))

	headerType := uint8(NewConfigRegister(bus, device, 0, 0x0c).Read() >> 16)
	if headerType&0x80 == 0 {
		return
	}

	for function := uint8(1); function < maxFunctionsPerSlot; function++ {
		idReg = NewConfigRegister(bus, device, function, 0x00).Read()
		if uint16(idReg) == vendorIDAbsent {
			continue
		}

		reg.addDevice(readDeviceConfig(bus, device, function))
	}
}

func (reg *Registry) addDevice(cfg *DeviceConfig) {
	kfmt.Printf("[pci] %2x:%2x.%x device [%4x:%4x] class %2x.%2x\n",
		cfg.Bus, cfg.Device, cfg.Function, cfg.VendorID, cfg.DeviceID, cfg.Class, cfg.Subclass)

	reg.mutex.Acquire()
	reg.devices = append(reg.devices, cfg)
	reg.mutex.Release()
}

// fixupIDEControllers forces discovered IDE controllers whose programming
// interface reports a modifiable native-PCI channel into compatibility
// mode. Without a native-mode storage driver the legacy I/O ranges are the
// only way to reach the device.
func (reg *Registry) fixupIDEControllers() {
	reg.mutex.Acquire()
	defer reg.mutex.Release()

	for _, cfg := range reg.devices {
		if cfg.Class != 0x01 || cfg.Subclass != 0x01 {
			continue
		}

		prog := cfg.ProgInterface
		if prog&0x02 != 0 && prog&0x01 != 0 {
			// primary channel: native mode, modifiable
			prog &^= 0x01
		}
		if prog&0x08 != 0 && prog&0x04 != 0 {
			// secondary channel: native mode, modifiable
			prog &^= 0x04
		}

		if prog == cfg.ProgInterface {
			continue
		}

		register := NewConfigRegister(cfg.Bus, cfg.Device, cfg.Function, 0x08)
		register.Write(register.Read()&^uint32(0xff00) | uint32(prog)<<8)
		cfg.ProgInterface = prog

		kfmt.Printf("[pci] %2x:%2x.%x IDE controller switched to compatibility mode\n",
			cfg.Bus, cfg.Device, cfg.Function)
	}
}

// FindDevice performs a linear scan of the registry and returns the first
// discovered function matching the supplied vendor and device id. The
// second return value is false when no such device exists.
func (reg *Registry) FindDevice(vendorID, deviceID uint16) (*DeviceConfig, bool) {
	reg.mutex.Acquire()
	defer reg.mutex.Release()

	for _, cfg := range reg.devices {
		if cfg.VendorID == vendorID && cfg.DeviceID == deviceID {
			return cfg, true
		}
	}

	return nil, false
}

// Devices returns the discovered device functions in scan order.
func (reg *Registry) Devices() []*DeviceConfig {
	reg.mutex.Acquire()
	defer reg.mutex.Release()

	out := make([]*DeviceConfig, len(reg.devices))
	copy(out, reg.devices)
	return out
}
