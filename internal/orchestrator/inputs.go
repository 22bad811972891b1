package orchestrator

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MissingInputs returns the declared inputs that are not satisfied, in
// declaration order. Plain paths must exist; glob patterns must match at least
// one file. Relative entries resolve against base.
func MissingInputs(base string, inputs []string) []string {
	var missing []string
	for _, in := range inputs {
		if !inputPresent(base, in) {
			missing = append(missing, in)
		}
	}
	return missing
}

func inputPresent(base, in string) bool {
	p := in
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	if !isGlob(in) {
		_, err := os.Stat(p)
		return err == nil
	}
	matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
	return err == nil && len(matches) > 0
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
