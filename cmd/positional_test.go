package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyLeadingExistingPathIsSourceRoot(t *testing.T) {
	dir := t.TempDir()
	sr, bc := classifyLeading(dir)
	if sr != dir || bc != "" {
		t.Errorf("classifyLeading(%q) = (%q, %q), want source root", dir, sr, bc)
	}
}

func TestClassifyLeadingAutoIsBuildCommand(t *testing.T) {
	sr, bc := classifyLeading("auto")
	if sr != "" || bc != "auto" {
		t.Errorf("classifyLeading(auto) = (%q, %q), want build command", sr, bc)
	}
}

func TestClassifyLeadingNonexistentIsBuildCommand(t *testing.T) {
	sr, bc := classifyLeading(filepath.Join(os.TempDir(), "does-not-exist-8675309"))
	if sr != "" || bc == "" {
		t.Errorf("classifyLeading(nonexistent) = (%q, %q), want build command", sr, bc)
	}
}

func TestApplyLeadingRejectsBothFlagsWithPositional(t *testing.T) {
	f := &flags{buildCommandSet: true, sourceRootSet: true}
	if err := applyLeading(f, "make all"); err == nil {
		t.Error("expected a UsageError when both -c and -s are already set")
	}
}

func TestApplyLeadingSetsSourceRootFromPath(t *testing.T) {
	dir := t.TempDir()
	f := &flags{}
	if err := applyLeading(f, dir); err != nil {
		t.Fatalf("applyLeading: %v", err)
	}
	if f.sourceRoot != dir {
		t.Errorf("sourceRoot = %q, want %q", f.sourceRoot, dir)
	}
}

func TestApplyLeadingSetsBuildCommand(t *testing.T) {
	f := &flags{}
	if err := applyLeading(f, "make all"); err != nil {
		t.Fatalf("applyLeading: %v", err)
	}
	if f.buildCommand != "make all" {
		t.Errorf("buildCommand = %q, want %q", f.buildCommand, "make all")
	}
}
