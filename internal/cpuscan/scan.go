// Package cpuscan walks the "cpus" node's cpu@N children, producing core
// records (id, type, enable method, release address). CoreEnableMethod is
// modeled as a tagged variant rather than dynamic dispatch, since the set
// of release protocols is closed and small.
package cpuscan

import (
	"errors"
	"fmt"

	"kmazarin/internal/bitutil"
	"kmazarin/internal/dtb"
	"kmazarin/internal/fixedmap"
	"kmazarin/internal/fixedmap/fnv1a"
)

// Capacity is CpuConfig's fixed core count.
const Capacity = 512

// TypeNameMax is the fixed buffer size a core's compatible string is
// copied into, truncating silently past this length.
const TypeNameMax = 64

// CoreEnableMethod is the closed set of CPU-release protocols the core
// understands.
type CoreEnableMethod int

const (
	EnableMethodInvalid CoreEnableMethod = iota
	EnableMethodSpinTable
	EnableMethodPsci
)

func (m CoreEnableMethod) String() string {
	switch m {
	case EnableMethodSpinTable:
		return "spin-table"
	case EnableMethodPsci:
		return "psci"
	default:
		return "invalid"
	}
}

// Core is one scanned cpu@N node.
type Core struct {
	ID              uint64
	TypeName        string
	EnableMethod    CoreEnableMethod
	ReleaseAddr     uint64
	HaveReleaseAddr bool
}

var (
	// ErrNoCores is returned when the cpus node has no cpu@N children.
	ErrNoCores = errors.New("cpuscan: no cpu nodes found in DTB")
	// ErrCoreIDTooLarge is returned when a core's reg (id) is >= Capacity.
	ErrCoreIDTooLarge = errors.New("cpuscan: core id exceeds capacity")
	// ErrMissingID is returned when a cpu@N node has no reg property.
	ErrMissingID = errors.New("cpuscan: cpu node missing reg (core id)")
)

// ErrUnsupportedEnableMethod is returned (wrapped with the method name)
// when a core's enable-method isn't spin-table.
var ErrUnsupportedEnableMethod = errors.New("cpuscan: unsupported enable-method")

type propKind int

const (
	propOther propKind = iota
	propCompatible
	propEnableMethod
	propReleaseAddr
	propReg
)

func newDispatch() *fixedmap.Map[string, propKind] {
	m := fixedmap.New[string, propKind](11, fnv1a.HashString)
	m.Insert("compatible", propCompatible)
	m.Insert("enable-method", propEnableMethod)
	m.Insert("cpu-release-addr", propReleaseAddr)
	m.Insert("reg", propReg)
	return m
}

// Scan locates the "cpus" child of root and scans every cpu@N child into a
// Core slice.
func Scan(r *dtb.Reader, word bitutil.Word) ([]Core, error) {
	root, ok := r.RootNode()
	if !ok {
		return nil, errors.New("cpuscan: malformed root node")
	}
	cpus, ok := r.FindChildNode(root, "cpus")
	if !ok {
		return nil, errors.New("cpuscan: no cpus node found in DTB")
	}

	var cores []Core
	cursor := cpus
	for {
		name, child, after, ok := r.NextChild(cursor)
		if !ok {
			break
		}
		if len(name) >= 4 && name[:4] == "cpu@" {
			core, err := scanCore(r, child, word)
			if err != nil {
				return nil, err
			}
			if core.ID >= Capacity {
				return nil, ErrCoreIDTooLarge
			}
			cores = append(cores, core)
		}
		cursor = after
	}

	if len(cores) == 0 {
		return nil, ErrNoCores
	}
	return cores, nil
}

func scanCore(r *dtb.Reader, cursor dtb.Cursor, word bitutil.Word) (Core, error) {
	dispatch := newDispatch()

	var core Core
	haveID := false
	var enableMethodStr string
	haveEnableMethod := false

	c := cursor
	for {
		prop, next, ok := r.NextProperty(c)
		if !ok {
			break
		}
		name, ok := r.GetSliceFromStringTable(prop.NameOffset)
		if ok {
			kind, _ := dispatch.Find(name)
			switch kind {
			case propCompatible:
				core.TypeName = truncateString(prop.Value, TypeNameMax)
			case propEnableMethod:
				enableMethodStr = trimNUL(prop.Value)
				haveEnableMethod = true
			case propReleaseAddr:
				if v, ok := decodeReleaseAddr(prop.Value); ok {
					core.ReleaseAddr = v
					core.HaveReleaseAddr = true
				}
			case propReg:
				if v, ok := decodeCoreID(prop.Value); ok {
					core.ID = v
					haveID = true
				}
			}
		}
		c = next
	}

	if !haveID {
		return Core{}, ErrMissingID
	}

	switch enableMethodStr {
	case "spin-table":
		core.EnableMethod = EnableMethodSpinTable
	case "psci":
		core.EnableMethod = EnableMethodPsci
		return Core{}, fmt.Errorf("%w: psci (core %d)", ErrUnsupportedEnableMethod, core.ID)
	default:
		if haveEnableMethod {
			return Core{}, fmt.Errorf("%w: %q (core %d)", ErrUnsupportedEnableMethod, enableMethodStr, core.ID)
		}
		core.EnableMethod = EnableMethodInvalid
		return Core{}, fmt.Errorf("%w: missing enable-method (core %d)", ErrUnsupportedEnableMethod, core.ID)
	}

	return core, nil
}

func truncateString(b []byte, max int) string {
	s := trimNUL(b)
	if len(s) > max {
		return s[:max]
	}
	return s
}

func trimNUL(b []byte) string {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

func decodeCoreID(b []byte) (uint64, bool) {
	switch len(b) {
	case 4:
		return uint64(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), true
	case 8:
		hi := uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
		lo := uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
		return hi<<32 | lo, true
	default:
		return 0, false
	}
}

// decodeReleaseAddr accepts both 32- and 64-bit cpu-release-addr
// encodings.
func decodeReleaseAddr(b []byte) (uint64, bool) {
	return decodeCoreID(b)
}
