package ignore

import (
	"errors"
	"strings"
	"testing"
)

func parse(t *testing.T, content string) *Set {
	t.Helper()
	set, err := Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return set
}

func TestIgnoreBasicGlob(t *testing.T) {
	set := parse(t, "*.log\n")
	if !set.Match("debug.log", false) {
		t.Error("expected debug.log to be ignored")
	}
	if set.Match("debug.txt", false) {
		t.Error("expected debug.txt to not be ignored")
	}
}

func TestIgnoreUnanchoredMatchesAnyDepth(t *testing.T) {
	set := parse(t, "build\n")
	if !set.Match("build", true) {
		t.Error("expected top-level build to match")
	}
	if !set.Match("sub/dir/build", true) {
		t.Error("expected nested build to match unanchored pattern")
	}
}

func TestIgnoreLeadingSlashAnchors(t *testing.T) {
	set := parse(t, "/build\n")
	if !set.Match("build", true) {
		t.Error("expected root build to match")
	}
	if set.Match("sub/build", true) {
		t.Error("anchored pattern must not match nested build")
	}
}

func TestIgnoreTrailingSlashDirectoryOnly(t *testing.T) {
	set := parse(t, "logs/\n")
	if !set.Match("logs", true) {
		t.Error("expected logs directory to match")
	}
	if set.Match("logs", false) {
		t.Error("directory-only pattern must not match a plain file")
	}
}

func TestIgnoreNegationReincludes(t *testing.T) {
	set := parse(t, "*.log\n!keep.log\n")
	if set.Match("keep.log", false) {
		t.Error("expected keep.log to be re-included by negation")
	}
	if !set.Match("other.log", false) {
		t.Error("expected other.log to remain ignored")
	}
}

func TestIgnoreLastMatchingPatternWins(t *testing.T) {
	set := parse(t, "!important.log\n*.log\n")
	if !set.Match("important.log", false) {
		t.Error("expected the later *.log pattern to override the earlier negation")
	}
}

func TestIgnoreCommentsAndBlankLinesSkipped(t *testing.T) {
	set := parse(t, "# a comment\n\n*.tmp\n")
	if !set.Match("scratch.tmp", false) {
		t.Error("expected *.tmp to be parsed despite surrounding comment/blank line")
	}
}

func TestIgnoreMalformedPatternSurfacesError(t *testing.T) {
	_, err := Parse(strings.NewReader("[unterminated\n"))
	if err == nil {
		t.Fatal("expected a parse error for a malformed glob, got nil")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
	if perr.Line != 1 {
		t.Errorf("expected error on line 1, got %d", perr.Line)
	}
}

func TestLoadMissingFileYieldsEmptySet(t *testing.T) {
	set, err := Load("/nonexistent/path/.gyattignore")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if set.Match("anything", false) {
		t.Error("expected empty set to match nothing")
	}
}
