package terminal

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns stdout, translating escape codes on
// consoles that do not understand them.
func getColorableWriter() io.Writer {
	return colorable.NewColorable(os.Stdout)
}
