package variables

import "testing"

func TestInterpolate_Basic(t *testing.T) {
	ctx := Empty().With("item", "foo.txt").WithLoopCounters(0, 3)
	out, res := ctx.Interpolate("processing ${item} (${item_index}/${item_total})")
	if out != "processing foo.txt (0/3)" {
		t.Fatalf("unexpected output: %q", out)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 resolutions, got %d", len(res))
	}
}

func TestInterpolate_DottedPath(t *testing.T) {
	ctx := Empty().With("item", map[string]any{"location": map[string]any{"file": "a.go"}})
	out, _ := ctx.Interpolate("${item.location.file}")
	if out != "a.go" {
		t.Fatalf("expected a.go, got %q", out)
	}
}

func TestInterpolate_DefaultValue(t *testing.T) {
	ctx := Empty()
	out, res := ctx.Interpolate("${missing:-fallback}")
	if out != "fallback" {
		t.Fatalf("expected fallback, got %q", out)
	}
	if res[0].Source != SourceDefault {
		t.Fatalf("expected default source, got %s", res[0].Source)
	}
}

func TestInterpolate_MissingNonStrict(t *testing.T) {
	ctx := Empty()
	out, res := ctx.Interpolate("x${missing}y")
	if out != "xy" {
		t.Fatalf("expected empty substitution, got %q", out)
	}
	if res[0].Source != SourceDefault {
		t.Fatalf("expected missing variable to report SourceDefault")
	}
}

func TestInterpolateStrict_UnresolvedNames(t *testing.T) {
	ctx := Empty().With("item", "x")
	_, _, unresolved := ctx.InterpolateStrict("${item} ${missing1} ${missing2:-ok}")
	if len(unresolved) != 1 || unresolved[0] != "missing1" {
		t.Fatalf("expected exactly [missing1], got %v", unresolved)
	}
}

func TestLegacyAliases(t *testing.T) {
	ctx := Empty().With("item", "a.txt").With("item.path", "/tmp/a.txt").With("item_index", 2)
	out, _ := ctx.Interpolate("${ARG} ${FILE} ${FILE_PATH} ${INDEX}")
	if out != "a.txt a.txt /tmp/a.txt 2" {
		t.Fatalf("unexpected legacy alias expansion: %q", out)
	}
}

func TestInterpolate_RecursionDepthCap(t *testing.T) {
	// A template whose expansion keeps re-introducing ${...} tokens must
	// terminate instead of looping forever, returning literal text once the
	// depth cap is hit.
	ctx := Empty().With("a", "${a}")
	out, _ := ctx.Interpolate("${a}")
	if out == "" {
		t.Fatalf("expected non-empty terminated output")
	}
}

func TestWithItem_StringIsPath(t *testing.T) {
	ctx := Empty().WithItem("foo.txt", true)
	out, _ := ctx.Interpolate("${item} ${item.path}")
	if out != "foo.txt foo.txt" {
		t.Fatalf("unexpected: %q", out)
	}
}

func TestWithItem_JSONObjectFlattened(t *testing.T) {
	ctx := Empty().WithItem(map[string]any{"id": "x", "count": 3.0}, false)
	out, _ := ctx.Interpolate("${item.id} ${item.count}")
	if out != "x 3" {
		t.Fatalf("unexpected: %q", out)
	}
}

func TestDeduplicationInvariant_ContextMergeImmutable(t *testing.T) {
	base := Empty().With("a", "1")
	derived := base.With("a", "2")
	if v, _, _ := base.Lookup("a"); v != "1" {
		t.Fatalf("expected base context to remain unchanged, got %v", v)
	}
	if v, _, _ := derived.Lookup("a"); v != "2" {
		t.Fatalf("expected derived context to have new value, got %v", v)
	}
}
