package astipsi

import (
	"strconv"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// writeBinary writes bits described as a string of '0' and '1', such as reserved bits
func writeBinary(w *bitio.Writer, str string) error {
	if len(str) == 0 {
		return nil
	} else if len(str) > 64 {
		return errors.Errorf("astipsi: %d bits don't fit in 64 bits", len(str))
	}
	v, err := strconv.ParseUint(str, 2, 64)
	if err != nil {
		return errors.Wrapf(err, "astipsi: parsing bits %q failed", str)
	}
	return w.WriteBits(v, uint8(len(str)))
}
