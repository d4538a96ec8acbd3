// Package config collects the capacity constants and typed aliases shared
// by the scanners and the kernel package: the fixed-capacity
// specializations for memory ranges, SoC mappings, and CPU cores.
package config

import (
	"kmazarin/internal/cpuscan"
	"kmazarin/internal/socscan"
)

const (
	// MaxMemoryRanges is MemoryConfig's fixed range count.
	MaxMemoryRanges = 64
	// MaxSocMappings is SocConfig's fixed mapping count.
	MaxSocMappings = 64
	// MaxCores is CpuConfig's fixed core count.
	MaxCores = 512
)

// SocMapping is a decoded SoC-to-CPU address translation window.
type SocMapping = socscan.Mapping

// Core is a scanned CPU core record.
type Core = cpuscan.Core

// CoreEnableMethod is the closed set of CPU-release protocols.
type CoreEnableMethod = cpuscan.CoreEnableMethod

const (
	EnableMethodInvalid   = cpuscan.EnableMethodInvalid
	EnableMethodSpinTable = cpuscan.EnableMethodSpinTable
	EnableMethodPsci      = cpuscan.EnableMethodPsci
)
