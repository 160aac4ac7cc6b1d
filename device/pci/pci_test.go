package pci

import (
	"testing"

	"vesper/kernel/cpu"
)

// fakeConfigSpace emulates mechanism #1 port accesses against an in-memory
// register file keyed by configuration address.
type fakeConfigSpace struct {
	registers   map[uint32]uint32
	lastAddress uint32
	dataWrites  map[uint32][]uint32
}

func newFakeConfigSpace() *fakeConfigSpace {
	return &fakeConfigSpace{
		registers:  make(map[uint32]uint32),
		dataWrites: make(map[uint32][]uint32),
	}
}

func (f *fakeConfigSpace) install() {
	portWriteDwordFn = func(port uint16, val uint32) {
		switch port {
		case configAddressPort:
			f.lastAddress = val
		case configDataPort:
			f.registers[f.lastAddress] = val
			f.dataWrites[f.lastAddress] = append(f.dataWrites[f.lastAddress], val)
		}
	}

	portReadDwordFn = func(port uint16) uint32 {
		if port != configDataPort {
			return 0xffffffff
		}
		if val, found := f.registers[f.lastAddress]; found {
			return val
		}
		// Absent devices float the bus high
		return 0xffffffff
	}
}

func restorePortFns() {
	portReadDwordFn = cpu.PortReadDword
	portWriteDwordFn = cpu.PortWriteDword
}

func configAddr(bus, device, function, offset uint8) uint32 {
	return NewConfigRegister(bus, device, function, offset).address()
}

// addFunction populates the fixed header offsets for one device function.
func (f *fakeConfigSpace) addFunction(bus, device, function uint8, vendorID, deviceID uint16, classReg, headerType uint32) {
	f.registers[configAddr(bus, device, function, 0x00)] = uint32(deviceID)<<16 | uint32(vendorID)
	f.registers[configAddr(bus, device, function, 0x04)] = 0x02100006
	f.registers[configAddr(bus, device, function, 0x08)] = classReg
	f.registers[configAddr(bus, device, function, 0x0c)] = headerType << 16
	for index := uint8(0); index < 6; index++ {
		f.registers[configAddr(bus, device, function, 0x10+index*4)] = 0xfebd0000 + uint32(index)<<12
	}
	f.registers[configAddr(bus, device, function, 0x3c)] = 0x010b
}

func TestConfigRegisterAddress(t *testing.T) {
	specs := []struct {
		bus, device, function, offset uint8
		exp                           uint32
	}{
		{0, 0, 0, 0, 0x80000000},
		{1, 2, 3, 0x41, 0x80011340},
		{255, 31, 7, 0xfc, 0x80fffffc},
	}

	for specIndex, spec := range specs {
		if got := configAddr(spec.bus, spec.device, spec.function, spec.offset); got != spec.exp {
			t.Errorf("[spec %d] expected config address to be 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
	}
}

func TestDetectDevices(t *testing.T) {
	defer restorePortFns()

	f := newFakeConfigSpace()
	f.install()

	// Single-function display device
	f.addFunction(0, 1, 0, 0x1af4, 0x1050, 0x03800001, 0x00)

	// Multi-function device exposing functions 0 and 3
	f.addFunction(0, 2, 0, 0x8086, 0x1234, 0x06000000, 0x80)
	f.addFunction(0, 2, 3, 0x8086, 0x5678, 0x06800000, 0x00)

	registry := DetectDevices()
	devices := registry.Devices()

	if exp, got := 3, len(devices); got != exp {
		t.Fatalf("expected %d discovered device function(s); got %d", exp, got)
	}

	gpu := devices[0]
	if gpu.VendorID != 0x1af4 || gpu.DeviceID != 0x1050 {
		t.Errorf("expected device [1af4:1050]; got [%x:%x]", gpu.VendorID, gpu.DeviceID)
	}
	if gpu.Class != 0x03 || gpu.Subclass != 0x80 || gpu.ProgInterface != 0x00 || gpu.RevisionID != 0x01 {
		t.Errorf("unexpected class decoding: %+v", gpu)
	}
	if gpu.Command != 0x0006 || gpu.Status != 0x0210 {
		t.Errorf("unexpected command/status decoding: %+v", gpu)
	}
	if gpu.InterruptLine != 0x0b || gpu.InterruptPin != 0x01 {
		t.Errorf("unexpected interrupt decoding: %+v", gpu)
	}
	for index, bar := range gpu.BaseAddresses {
		if exp := 0xfebd0000 + uint32(index)<<12; bar != exp {
			t.Errorf("[bar %d] expected 0x%x; got 0x%x", index, exp, bar)
		}
	}

	// Function 3 of the multi-function device must have been probed
	if _, found := registry.FindDevice(0x8086, 0x5678); !found {
		t.Error("expected function 3 of the multi-function device to be discovered")
	}
}

func TestDetectDevicesSkipsExtraFunctionsOfSingleFunctionDevices(t *testing.T) {
	defer restorePortFns()

	f := newFakeConfigSpace()
	f.install()

	// Header type reports a single-function device but extra function
	// registers are populated; they must not be probed.
	f.addFunction(0, 1, 0, 0x8086, 0x1234, 0x06000000, 0x00)
	f.addFunction(0, 1, 1, 0x8086, 0x5678, 0x06000000, 0x00)

	registry := DetectDevices()
	if exp, got := 1, len(registry.Devices()); got != exp {
		t.Fatalf("expected %d discovered device function(s); got %d", exp, got)
	}
}

func TestFixupIDEControllers(t *testing.T) {
	defer restorePortFns()

	f := newFakeConfigSpace()
	f.install()

	// IDE controller with both channels in modifiable native-PCI mode
	f.addFunction(1, 3, 0, 0x8086, 0x7010, 0x0101_0f00, 0x00)

	registry := DetectDevices()

	cfg, found := registry.FindDevice(0x8086, 0x7010)
	if !found {
		t.Fatal("expected the IDE controller to be discovered")
	}

	// Both channels must have been forced to compatibility mode
	if exp := uint8(0x0a); cfg.ProgInterface != exp {
		t.Errorf("expected prog interface to be 0x%x; got 0x%x", exp, cfg.ProgInterface)
	}

	classAddr := configAddr(1, 3, 0, 0x08)
	writes := f.dataWrites[classAddr]
	if len(writes) != 1 {
		t.Fatalf("expected exactly one write to the class register; got %d", len(writes))
	}
	if exp := uint32(0x0101_0a00); writes[0] != exp {
		t.Errorf("expected class register write 0x%x; got 0x%x", exp, writes[0])
	}
}

func TestFixupIDEControllersLeavesFixedModeAlone(t *testing.T) {
	defer restorePortFns()

	f := newFakeConfigSpace()
	f.install()

	// Native mode but not modifiable; the fixup must not touch it
	f.addFunction(1, 3, 0, 0x8086, 0x7010, 0x0101_0500, 0x00)

	registry := DetectDevices()

	cfg, found := registry.FindDevice(0x8086, 0x7010)
	if !found {
		t.Fatal("expected the IDE controller to be discovered")
	}
	if exp := uint8(0x05); cfg.ProgInterface != exp {
		t.Errorf("expected prog interface to remain 0x%x; got 0x%x", exp, cfg.ProgInterface)
	}
	if writes := f.dataWrites[configAddr(1, 3, 0, 0x08)]; len(writes) != 0 {
		t.Errorf("expected no writes to the class register; got %d", len(writes))
	}
}

func TestFindDevice(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		registry := &Registry{}
		if _, found := registry.FindDevice(0x1af4, 0x1050); found {
			t.Fatal("expected no match against an empty registry")
		}
	})

	t.Run("first match wins among duplicates", func(t *testing.T) {
		first := &DeviceConfig{Bus: 0, Device: 1, VendorID: 0x1af4, DeviceID: 0x1050}
		second := &DeviceConfig{Bus: 0, Device: 2, VendorID: 0x1af4, DeviceID: 0x1050}
		registry := &Registry{devices: []*DeviceConfig{first, second}}

		cfg, found := registry.FindDevice(0x1af4, 0x1050)
		if !found {
			t.Fatal("expected a match")
		}
		if cfg != first {
			t.Fatal("expected the first-inserted duplicate to be returned")
		}
	})
}

func TestEnableBusMastering(t *testing.T) {
	defer restorePortFns()

	f := newFakeConfigSpace()
	f.install()

	cmdAddr := configAddr(0, 1, 0, 0x04)
	f.registers[cmdAddr] = 0x02100003

	cfg := &DeviceConfig{Bus: 0, Device: 1, Function: 0, Command: 0x0003}
	cfg.EnableBusMastering()

	if exp, got := uint32(0x02100007), f.registers[cmdAddr]; got != exp {
		t.Errorf("expected command register to be 0x%x; got 0x%x", exp, got)
	}

	// The cached snapshot is not refreshed by hardware writes
	if exp := uint16(0x0003); cfg.Command != exp {
		t.Errorf("expected cached command value to remain 0x%x; got 0x%x", exp, cfg.Command)
	}
}

func TestMemBaseAddress(t *testing.T) {
	cfg := &DeviceConfig{
		BaseAddresses: [6]uint32{
			0xfebd0000,     // 32-bit memory
			0x0000c001,     // I/O
			0xfe00000c,     // 64-bit memory, lower half
			0x00000012,     // upper half of the above
			0,
			0,
		},
	}

	if base, isMem := cfg.MemBaseAddress(0); !isMem || base != 0xfebd0000 {
		t.Errorf("expected 32-bit memory base 0xfebd0000; got 0x%x (mem=%t)", base, isMem)
	}

	if _, isMem := cfg.MemBaseAddress(1); isMem {
		t.Error("expected an I/O base-address register to be reported as non-memory")
	}

	if base, isMem := cfg.MemBaseAddress(2); !isMem || base != 0x12fe000000 {
		t.Errorf("expected 64-bit memory base 0x12fe000000; got 0x%x (mem=%t)", base, isMem)
	}
}

func TestIOBaseAddress(t *testing.T) {
	cfg := &DeviceConfig{
		BaseAddresses: [6]uint32{
			0xfebd0000, // 32-bit memory
			0x0000c001, // I/O
		},
	}

	if _, isIO := cfg.IOBaseAddress(0); isIO {
		t.Error("expected a memory base-address register to be reported as non-I/O")
	}

	if base, isIO := cfg.IOBaseAddress(1); !isIO || base != 0xc000 {
		t.Errorf("expected I/O base 0xc000; got 0x%x (io=%t)", base, isIO)
	}
}
