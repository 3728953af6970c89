package helpers

import (
	"strings"

	"github.com/juju/errors"
)

// FoldErrors joins non-nil errors one per line, nil if there are none.
func FoldErrors(errs []error) error {
	var b strings.Builder
	for _, e := range errs {
		if e == nil {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Error())
	}
	if b.Len() == 0 {
		return nil
	}
	return errors.New(b.String())
}
