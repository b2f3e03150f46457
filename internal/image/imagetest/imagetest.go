// Package imagetest builds small ELF device images for tests.
package imagetest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// MachineAMDGPU is the native GPU ISA machine id (EM_AMDGPU).
const MachineAMDGPU = elf.EM_AMDGPU

type SymbolKind int

const (
	Func SymbolKind = iota
	Object
)

type Symbol struct {
	Name string
	Kind SymbolKind
	// Data is the initial contents of an Object symbol.
	Data []byte
}

// Spec describes an ELF64 image.
type Spec struct {
	Machine elf.Machine
	Symbols []Symbol
}

// Kernel returns a function symbol.
func Kernel(name string) Symbol {
	return Symbol{Name: name, Kind: Func}
}

// Global returns an object symbol holding data.
func Global(name string, data []byte) Symbol {
	return Symbol{Name: name, Kind: Object, Data: data}
}

// ExecMode returns the one-byte execution mode companion of a kernel.
func ExecMode(kernel string, mode byte) Symbol {
	return Global(kernel+"_exec_mode", []byte{mode})
}

// DeviceEnv returns a zeroed device environment symbol of the given size.
func DeviceEnv(size int) Symbol {
	return Global("omptarget_device_environment", make([]byte, size))
}

const (
	textAddr = 0x100000
	dataAddr = 0x200000

	ehdr64Size = 64
	shdr64Size = 64
	sym64Size  = 24
)

var endpgm = []byte{0x00, 0x00, 0x81, 0xbf}

// ELF64 encodes spec as a little-endian ELF64 shared object with
// .text, .data, .symtab, .strtab and .shstrtab sections.
func ELF64(spec Spec) []byte {
	var text, data, strtab bytes.Buffer
	strtab.WriteByte(0)

	syms := []elf.Sym64{{}}
	for _, s := range spec.Symbols {
		name := uint32(strtab.Len())
		strtab.WriteString(s.Name)
		strtab.WriteByte(0)

		switch s.Kind {
		case Func:
			syms = append(syms, elf.Sym64{
				Name:  name,
				Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
				Shndx: 1,
				Value: textAddr + uint64(text.Len()),
				Size:  uint64(len(endpgm)),
			})
			text.Write(endpgm)
		default:
			for data.Len()%8 != 0 {
				data.WriteByte(0)
			}
			syms = append(syms, elf.Sym64{
				Name:  name,
				Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT),
				Shndx: 2,
				Value: dataAddr + uint64(data.Len()),
				Size:  uint64(len(s.Data)),
			})
			data.Write(s.Data)
		}
	}

	var symtab bytes.Buffer
	for _, s := range syms {
		_ = binary.Write(&symtab, binary.LittleEndian, s)
	}

	shstrtab := []byte("\x00.text\x00.data\x00.symtab\x00.strtab\x00.shstrtab\x00")

	off := uint64(ehdr64Size)
	textOff := off
	off += uint64(text.Len())
	dataOff := off
	off += uint64(data.Len())
	symOff := off
	off += uint64(symtab.Len())
	strOff := off
	off += uint64(strtab.Len())
	shstrOff := off
	off += uint64(len(shstrtab))
	for off%8 != 0 {
		off++
	}
	shOff := off

	sections := []elf.Section64{
		{},
		{Name: 1, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), Addr: textAddr, Off: textOff, Size: uint64(text.Len()), Addralign: 4},
		{Name: 7, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE), Addr: dataAddr, Off: dataOff, Size: uint64(data.Len()), Addralign: 8},
		{Name: 13, Type: uint32(elf.SHT_SYMTAB), Off: symOff, Size: uint64(symtab.Len()), Link: 4, Info: 1, Addralign: 8, Entsize: sym64Size},
		{Name: 21, Type: uint32(elf.SHT_STRTAB), Off: strOff, Size: uint64(strtab.Len()), Addralign: 1},
		{Name: 29, Type: uint32(elf.SHT_STRTAB), Off: shstrOff, Size: uint64(len(shstrtab)), Addralign: 1},
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(spec.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shOff,
		Ehsize:    ehdr64Size,
		Shentsize: shdr64Size,
		Shnum:     uint16(len(sections)),
		Shstrndx:  5,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, hdr)
	out.Write(text.Bytes())
	out.Write(data.Bytes())
	out.Write(symtab.Bytes())
	out.Write(strtab.Bytes())
	out.Write(shstrtab)
	for uint64(out.Len()) < shOff {
		out.WriteByte(0)
	}
	for _, s := range sections {
		_ = binary.Write(&out, binary.LittleEndian, s)
	}
	return out.Bytes()
}

// ELF32 encodes a header-only little-endian ELF32 object.
func ELF32(machine elf.Machine) []byte {
	hdr := elf.Header32{
		Type:    uint16(elf.ET_REL),
		Machine: uint16(machine),
		Version: uint32(elf.EV_CURRENT),
		Ehsize:  52,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, hdr)
	return out.Bytes()
}
