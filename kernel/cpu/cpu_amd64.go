// Package cpu declares the privileged instructions required by the memory
// and device subsystems. The declarations are implemented by the assembly
// part of the kernel runtime; code that must be testable in user mode is
// expected to reach them through swappable package function vars.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution until the next external interrupt.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// PortWriteDword writes a uint32 value to the requested I/O port.
func PortWriteDword(port uint16, val uint32)

// PortReadDword reads a uint32 value from the requested I/O port.
func PortReadDword(port uint16) uint32

// PortWriteByte writes a uint8 value to the requested I/O port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested I/O port.
func PortReadByte(port uint16) uint8
