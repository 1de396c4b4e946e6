// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package penut

import "fmt"

// Machine identifies the target CPU architecture of a COFF/PE image, the
// FileHeader.Machine field (§4.2).
type Machine uint16

// Recognized machine types (IMAGE_FILE_MACHINE_*).
const (
	MachineUnknown Machine = 0x0
	MachineI386    Machine = 0x14c
	MachineAMD64   Machine = 0x8664
	MachineARM     Machine = 0x1c0
	MachineARM64   Machine = 0xaa64
	MachineARMNT   Machine = 0x1c4
	MachineIA64    Machine = 0x200
	MachineEBC     Machine = 0xebc
	MachineRISCV64 Machine = 0x5064
)

// isRecognizedMachine reports whether m is one of the Machine values PENUT
// knows about. ParseReader uses this to tell a bare COFF object file (whose
// FileHeader, with no DOS header ahead of it, opens directly with its
// Machine field) apart from a stream that simply isn't a PE/COFF file at
// all and doesn't carry the DOS signature either.
func isRecognizedMachine(m Machine) bool {
	switch m {
	case MachineI386, MachineAMD64, MachineARM, MachineARM64, MachineARMNT, MachineIA64, MachineEBC, MachineRISCV64:
		return true
	default:
		return false
	}
}

func (m Machine) String() string {
	switch m {
	case MachineI386:
		return "I386"
	case MachineAMD64:
		return "AMD64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineARMNT:
		return "ARMNT"
	case MachineIA64:
		return "IA64"
	case MachineEBC:
		return "EBC"
	case MachineRISCV64:
		return "RISCV64"
	default:
		return fmt.Sprintf("Machine(0x%x)", uint16(m))
	}
}

// RelocationType is the raw, on-disk 16-bit type code of a COFF section
// relocation entry (§4.8's "Relocation entry"). Its meaning is entirely
// dependent on FileHeader.Machine — the same numeric value means different
// things on I386 vs AMD64 vs ARM, so it is kept as a plain integer rather
// than a single enum, per Design Notes "Architecture-tagged relocation
// types": decode it through RelocationTypeName(machine, type) instead of a
// method on the type alone.
type RelocationType uint16

// I386 COFF relocation types (IMAGE_REL_I386_*).
const (
	RelI386Absolute RelocationType = 0x0000
	RelI386Dir16    RelocationType = 0x0001
	RelI386Rel16    RelocationType = 0x0002
	RelI386Dir32    RelocationType = 0x0006
	RelI386Dir32NB  RelocationType = 0x0007
	RelI386Section  RelocationType = 0x000A
	RelI386SecRel   RelocationType = 0x000B
	RelI386Rel32    RelocationType = 0x0014
)

// AMD64 COFF relocation types (IMAGE_REL_AMD64_*).
const (
	RelAMD64Absolute RelocationType = 0x0000
	RelAMD64Addr64   RelocationType = 0x0001
	RelAMD64Addr32   RelocationType = 0x0002
	RelAMD64Addr32NB RelocationType = 0x0003
	RelAMD64Rel32    RelocationType = 0x0004
	RelAMD64Section  RelocationType = 0x000A
	RelAMD64SecRel   RelocationType = 0x000B
)

// ARM COFF relocation types (IMAGE_REL_ARM_*).
const (
	RelARMAbsolute RelocationType = 0x0000
	RelARMAddr32   RelocationType = 0x0001
	RelARMAddr32NB RelocationType = 0x0002
	RelARMBranch24 RelocationType = 0x0003
	RelARMSection  RelocationType = 0x000E
	RelARMSecRel   RelocationType = 0x000F
)

// RelocationTypeName decodes a raw relocation type against the machine it
// was read under. Overlapping numeric values across architectures (e.g.
// 0x000A means "Section" on both I386 and AMD64 but something else would on
// a third machine) make a single shared enum lossy, hence the explicit
// machine parameter.
func RelocationTypeName(machine Machine, t RelocationType) string {
	var table map[RelocationType]string
	switch machine {
	case MachineI386:
		table = map[RelocationType]string{
			RelI386Absolute: "ABSOLUTE", RelI386Dir16: "DIR16", RelI386Rel16: "REL16",
			RelI386Dir32: "DIR32", RelI386Dir32NB: "DIR32NB", RelI386Section: "SECTION",
			RelI386SecRel: "SECREL", RelI386Rel32: "REL32",
		}
	case MachineAMD64:
		table = map[RelocationType]string{
			RelAMD64Absolute: "ABSOLUTE", RelAMD64Addr64: "ADDR64", RelAMD64Addr32: "ADDR32",
			RelAMD64Addr32NB: "ADDR32NB", RelAMD64Rel32: "REL32", RelAMD64Section: "SECTION",
			RelAMD64SecRel: "SECREL",
		}
	case MachineARM, MachineARMNT:
		table = map[RelocationType]string{
			RelARMAbsolute: "ABSOLUTE", RelARMAddr32: "ADDR32", RelARMAddr32NB: "ADDR32NB",
			RelARMBranch24: "BRANCH24", RelARMSection: "SECTION", RelARMSecRel: "SECREL",
		}
	}
	if name, ok := table[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// BaseRelocationType is the 4-bit type nibble of a PE base relocation entry
// (§3 PEBaseRelocationDirectory, IMAGE_REL_BASED_*). These values are
// architecture-independent (the relocation *directory* is not per-machine
// the way section relocations are), but several numeric slots are reused
// across revisions of the format (bits 5/7/8 mean different things on
// different loaders), so this is documented rather than exhaustively
// modeled.
type BaseRelocationType uint8

// Base relocation entry types.
const (
	// BaseRelAbsolute is a padding/no-op entry, used to align a block's
	// entry count to a 4-byte boundary (§4.8 Base relocations).
	BaseRelAbsolute  BaseRelocationType = 0
	BaseRelHigh      BaseRelocationType = 1
	BaseRelLow       BaseRelocationType = 2
	BaseRelHighLow   BaseRelocationType = 3
	BaseRelHighAdj   BaseRelocationType = 4
	BaseRelMIPSJmp   BaseRelocationType = 5 // also ARM_MOV32 / RISCV_HIGH20 depending on machine
	BaseRelReserved6 BaseRelocationType = 6
	BaseRelThumbMov  BaseRelocationType = 7 // ARM-specific reuse of slot 7
	BaseRelReserved8 BaseRelocationType = 8 // RISCV_LOW12I / RISCV_LOW12S reuse of slot 8
	BaseRelDir64     BaseRelocationType = 10
)

func (t BaseRelocationType) String() string {
	switch t {
	case BaseRelAbsolute:
		return "ABSOLUTE"
	case BaseRelHigh:
		return "HIGH"
	case BaseRelLow:
		return "LOW"
	case BaseRelHighLow:
		return "HIGHLOW"
	case BaseRelHighAdj:
		return "HIGHADJ"
	case BaseRelDir64:
		return "DIR64"
	default:
		return fmt.Sprintf("TYPE%d", uint8(t))
	}
}
