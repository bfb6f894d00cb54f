package ledger

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hpcoord/ensemble/types"
)

// Property: for any sequence of appends, row ids are strictly increasing and
// contiguous with no gaps or repeats.
func TestAppendIDContiguityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("ids are strictly increasing and contiguous", prop.ForAll(
		func(batchSizes []int) bool {
			l := New(testSchema())
			next := int64(1)
			for _, size := range batchSizes {
				if size < 0 {
					size = -size
				}
				size %= 8

				ids, err := l.Append(genPayloads(size), types.KindGen)
				if err != nil {
					return false
				}
				for _, id := range ids {
					if id != next {
						return false
					}
					next++
				}
			}

			return l.NextID() == next && int64(l.Len()) == next-1
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}
