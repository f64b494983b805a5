package objpack

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/rawbytedev/objpack/internal/common"
	"github.com/rawbytedev/objpack/pkg/stack"
)

func occupiedSet(m stack.Map, offset int) *roaring.Bitmap {
	base := offset / common.DwordSize
	bm := roaring.NewBitmap()
	for j, s := range m {
		if s == stack.Occupied {
			bm.Add(uint32(base + j))
		}
	}
	return bm
}

// verifyLayout checks that no two objects store data in the same dword.
func verifyLayout(objs []Object, maps []stack.Map, offsets []int) error {
	taken := roaring.NewBitmap()
	for i, m := range maps {
		own := occupiedSet(m, offsets[i])
		clash := roaring.And(taken, own)
		if clash.IsEmpty() {
			taken.Or(own)
			continue
		}
		dw := clash.ToArray()[0]
		for k := 0; k < i; k++ {
			if occupiedSet(maps[k], offsets[k]).Contains(dw) {
				return fmt.Errorf("%w: %s and %s both use dword %d",
					ErrOverlap, ObjectName(objs[k]), ObjectName(objs[i]), dw)
			}
		}
	}
	return nil
}
