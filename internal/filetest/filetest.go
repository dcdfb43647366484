// Package filetest provides a golden-file assertion helper: it diffs a
// rendered string against a checked-in expectation file, and can rewrite
// the expectation from the current output when updating tests on purpose.
package filetest

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/diff"
)

// UpdateGoldenFiles, when set via -test.update-golden-files, rewrites every
// golden file a test touches with its current output instead of comparing
// against it.
var UpdateGoldenFiles = flag.Bool("test.update-golden-files", false, "rewrite golden files with current test output")

// AssertGolden compares got against the contents of dir/name.golden,
// failing the test with a unified diff on mismatch.
func AssertGolden(t *testing.T, dir, name, got string) {
	t.Helper()

	goldFile := filepath.Join(dir, name+".golden")
	if *UpdateGoldenFiles {
		if err := os.WriteFile(goldFile, []byte(got), 0600); err != nil {
			t.Fatal(err)
		}
		return
	}

	wantb, err := os.ReadFile(goldFile)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	want := string(wantb)
	if patch := diff.Diff(want, got); patch != "" {
		t.Errorf("golden file %s differs from rendered output:\n%s", goldFile, patch)
	}
}
