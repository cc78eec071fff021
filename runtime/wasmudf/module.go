package wasmudf

import (
	"sort"
	"strings"

	wasmbinary "github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/wasm"

	"github.com/cube2222/udfbridge/udferr"
)

// Guest exports.
const (
	exportMemory   = "memory"
	exportAllocate = "allocate"
)

// checkExports decodes the guest module and makes sure it exports everything the operator will call.
// This way a wrong module fails when the operator is opened, not on its first batch.
func checkExports(code []byte, functions ...string) error {
	module, err := wasmbinary.DecodeModule(code, wasm.CoreFeaturesV2)
	if err != nil {
		return udferr.Wrap(udferr.KindRuntimeUnavailable, "", err, "couldn't decode module")
	}

	exported := map[string]wasm.ExternType{}
	for _, export := range module.ExportSection {
		exported[export.Name] = export.Type
	}

	var missing []string
	if t, ok := exported[exportMemory]; !ok || t != wasm.ExternTypeMemory {
		missing = append(missing, exportMemory)
	}
	for _, name := range functions {
		if t, ok := exported[name]; !ok || t != wasm.ExternTypeFunc {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return udferr.New(udferr.KindRuntimeUnavailable, "", "module doesn't export %s", strings.Join(missing, ", "))
	}
	return nil
}

// unpackPtrLen unpacks a guest pointer and length, packed into a single i64 with the pointer in the upper 32 bits.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed & 0xFFFFFFFF)
}
