package varspec

import "testing"

var names = []string{"environment", "build_path", "user_group", "fileordering",
	"domain_host", "home", "kernel", "locales", "exec_path", "time", "timezone", "umask"}

func TestParseEnableDisable(t *testing.T) {
	spec, err := Parse("+environment -kernel", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !spec.Enabled("environment") {
		t.Errorf("environment should be enabled")
	}
	if spec.Enabled("kernel") {
		t.Errorf("kernel should be disabled")
	}
}

func TestParseImplicitPrefix(t *testing.T) {
	spec, err := Parse("environment", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !spec.Enabled("environment") {
		t.Errorf("bare name should default to enabling the variation")
	}
}

func TestParseAllAlias(t *testing.T) {
	spec, err := Parse("+all -kernel", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, n := range names {
		if n == "kernel" {
			continue
		}
		if !spec.Enabled(n) {
			t.Errorf("%s should be enabled by +all", n)
		}
	}
	if spec.Enabled("kernel") {
		t.Errorf("kernel should remain disabled after the later -kernel token")
	}
}

func TestParseFieldAssignment(t *testing.T) {
	spec, err := Parse("time.faketimes=@12345", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := spec.Entry("time")
	if e == nil || !e.Enabled {
		t.Fatalf("time should be enabled by a field assignment")
	}
	got := e.ResolveSet("faketimes", nil)
	if len(got) != 1 || got[0] != "@12345" {
		t.Errorf("ResolveSet = %v, want [@12345]", got)
	}
}

func TestParseFieldExtendAndSubtract(t *testing.T) {
	spec, err := Parse("user_group.available+=builder:builder user_group.available-=root:root", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	e := spec.Entry("user_group")
	defaults := []string{"root:root", "nobody:nogroup"}
	got := e.ResolveSet("available", defaults)
	want := []string{"nobody:nogroup", "builder:builder"}
	if len(got) != len(want) {
		t.Fatalf("ResolveSet = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ResolveSet[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseUnrecognizedName(t *testing.T) {
	if _, err := Parse("+bogus", names); err == nil {
		t.Fatal("expected error for unrecognized variation name")
	}
}

func TestParseMissingOperator(t *testing.T) {
	if _, err := Parse("time.faketimes", names); err == nil {
		t.Fatal("expected error for field reference missing an operator")
	}
}

func TestResolveSetExtendIsIdempotent(t *testing.T) {
	spec, err := Parse("time.faketimes+=@1 time.faketimes+=@1", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := spec.Entry("time").ResolveSet("faketimes", nil)
	if len(got) != 1 {
		t.Errorf("extending the same value twice should dedupe, got %v", got)
	}
}

func TestResetPrefixClearsFieldEdits(t *testing.T) {
	spec, err := Parse("time.faketimes=@1", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	spec2, err := Parse("time.faketimes=@1 @time", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(spec.Entry("time").ResolveSet("faketimes", nil)) == 0 {
		t.Fatal("sanity check: base spec should have a faketime set")
	}
	if got := spec2.Entry("time").ResolveSet("faketimes", []string{"default"}); len(got) != 1 || got[0] != "default" {
		t.Errorf("@time should reset to the default set, got %v", got)
	}
}

func TestCloneDoesNotAliasFieldEdits(t *testing.T) {
	spec, err := Parse("time.faketimes+=@1", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	clone := spec.Clone()
	clone.EditField("time", "faketimes", OpExtend, "@2")

	orig := spec.Entry("time").ResolveSet("faketimes", nil)
	if len(orig) != 1 {
		t.Errorf("original spec mutated by edit on clone: %v", orig)
	}
}

func TestApplyDynamicDefaultsResolvesSourceDateEpoch(t *testing.T) {
	spec, err := Parse("time.auto_faketimes+=SOURCE_DATE_EPOCH", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	resolved, err := spec.ApplyDynamicDefaults(1700000000)
	if err != nil {
		t.Fatalf("ApplyDynamicDefaults: %v", err)
	}
	got := resolved.Entry("time").ResolveSet("faketimes", nil)
	if len(got) != 1 || got[0] != "@1700000000" {
		t.Errorf("faketimes = %v, want [@1700000000]", got)
	}
	// Original spec must be untouched.
	if got := spec.Entry("time").ResolveSet("faketimes", nil); len(got) != 0 {
		t.Errorf("original spec mutated: faketimes = %v", got)
	}
}

func TestApplyDynamicDefaultsRejectsUnknownToken(t *testing.T) {
	spec, err := Parse("time.auto_faketimes+=BOGUS_TOKEN", names)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := spec.ApplyDynamicDefaults(0); err == nil {
		t.Fatal("expected an error for an unrecognized dynamic-default token")
	}
}
