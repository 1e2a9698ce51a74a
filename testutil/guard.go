// Package testutil holds the import-boundary helpers shared by the
// architecture tests that keep infra drivers behind their facade packages.
package testutil

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ImportViolation is one import edge rejected by a boundary policy.
type ImportViolation struct {
	Importer string
	Imported string
}

func (v ImportViolation) String() string {
	return v.Importer + " imports " + v.Imported
}

// ScanImports loads every package matching pattern and applies policy to each
// import edge, returning the rejected ones sorted and deduplicated. Test
// packages are included when withTests is set; the synthetic .test binary and
// a package's external _test variant are folded onto the source package path,
// so policies only ever see real import paths as the importer.
func ScanImports(t testing.TB, pattern string, withTests bool, policy func(importer, imported string) bool) []ImportViolation {
	t.Helper()

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: withTests}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if len(pkgs) == 0 {
		t.Fatalf("no packages matched %q", pattern)
	}

	seen := make(map[ImportViolation]struct{})
	for _, pkg := range pkgs {
		importer := sourcePath(pkg.PkgPath)
		for imported := range pkg.Imports {
			if policy(importer, imported) {
				seen[ImportViolation{Importer: importer, Imported: imported}] = struct{}{}
			}
		}
	}

	viols := make([]ImportViolation, 0, len(seen))
	for v := range seen {
		viols = append(viols, v)
	}
	sort.Slice(viols, func(i, j int) bool {
		if viols[i].Importer != viols[j].Importer {
			return viols[i].Importer < viols[j].Importer
		}
		return viols[i].Imported < viols[j].Imported
	})
	return viols
}

// AssertNoViolations fails the test listing every rejected edge. The reason
// should name the boundary rule so a failure reads as the rule that broke.
func AssertNoViolations(t testing.TB, reason string, viols []ImportViolation) {
	t.Helper()
	if len(viols) == 0 {
		return
	}
	for _, v := range viols {
		t.Errorf("%s: %s", reason, v)
	}
	t.Fatalf("%d import boundary violations (%s)", len(viols), reason)
}

// WithinAny reports whether path is one of the given package roots or lies
// below one of them.
func WithinAny(path string, roots ...string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}

func sourcePath(pkgPath string) string {
	if i := strings.Index(pkgPath, " ["); i >= 0 {
		pkgPath = pkgPath[:i]
	}
	pkgPath = strings.TrimSuffix(pkgPath, ".test")
	return strings.TrimSuffix(pkgPath, "_test")
}
