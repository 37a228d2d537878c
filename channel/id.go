// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"encoding/binary"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// addressID folds an xxhash of the object's address into 32 bits.
func addressID(p unsafe.Pointer) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(uintptr(p)))
	h := xxhash.Sum64(b[:])
	return uint32(h ^ h>>32)
}
