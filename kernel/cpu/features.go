package cpu

import (
	"unsafe"

	xcpu "golang.org/x/sys/cpu"
)

// Feature describes an optional capability of the host processor.
type Feature struct {
	Name    string
	Present bool
}

var (
	// featuresFn is mocked by tests.
	featuresFn = hostFeatures
)

// Features returns the names of the optional features supported by the host
// processor.
func Features() []string {
	var names []string
	for _, f := range featuresFn() {
		if f.Present {
			names = append(names, f.Name)
		}
	}
	return names
}

// CacheLineSize returns the size in bytes of the padding used to keep per-CPU
// data on separate cache lines.
func CacheLineSize() int {
	return int(unsafe.Sizeof(xcpu.CacheLinePad{}))
}

func hostFeatures() []Feature {
	return []Feature{
		{"sse2", xcpu.X86.HasSSE2},
		{"sse42", xcpu.X86.HasSSE42},
		{"avx", xcpu.X86.HasAVX},
		{"avx2", xcpu.X86.HasAVX2},
		{"popcnt", xcpu.X86.HasPOPCNT},
		{"asimd", xcpu.ARM64.HasASIMD},
		{"atomics", xcpu.ARM64.HasATOMICS},
	}
}
