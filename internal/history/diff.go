package history

import (
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"k8s.io/klog/v2"
)

const (
	// MaxYAMLSize is the largest document, per side, that gets diffed
	MaxYAMLSize = 2 * 1024 * 1024
	// MaxDiffSize caps the stored diff
	MaxDiffSize = 5 * 1024 * 1024

	diffTimeout = 2 * time.Second
)

// DiffTooLarge replaces a diff that exceeds MaxDiffSize.
const DiffTooLarge = "# Diff too large to store\n"

// UnifiedDiff returns a patch between two YAML documents in unified diff
// format. Identical, oversized and non UTF-8 inputs give "".
func UnifiedDiff(oldYAML, newYAML string) string {
	if len(oldYAML) > MaxYAMLSize || len(newYAML) > MaxYAMLSize {
		klog.Warningf("YAML too large for diff: old=%d new=%d bytes", len(oldYAML), len(newYAML))
		return ""
	}
	if !utf8.ValidString(oldYAML) || !utf8.ValidString(newYAML) {
		klog.Warning("Invalid UTF-8 in YAML, skipping diff")
		return ""
	}
	if oldYAML == newYAML {
		return ""
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = diffTimeout

	// diff whole lines so hunks follow YAML structure
	oldChars, newChars, lines := dmp.DiffLinesToChars(oldYAML, newYAML)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, newChars, false), lines)

	size := 0
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			size += len(d.Text)
		}
	}
	if size > MaxDiffSize {
		klog.Warningf("Diff too large to store: %d bytes", size)
		return DiffTooLarge
	}

	return dmp.PatchToText(dmp.PatchMake(oldYAML, diffs))
}
