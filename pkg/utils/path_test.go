package utils

import "testing"

func TestValidatePathAcceptsCleanPaths(t *testing.T) {
	cases := []struct {
		path          string
		allowAbsolute bool
	}{
		{"/mnt/test", true},
		{"/srv/nasfault/backing", true},
		{"a.txt", false},
		{"sub/dir/file.txt", false},
		{"file.with.dots.txt", false},
	}
	for _, tc := range cases {
		if err := ValidatePath(tc.path, tc.allowAbsolute); err != nil {
			t.Errorf("ValidatePath(%q, %v) = %v, want nil", tc.path, tc.allowAbsolute, err)
		}
	}
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	for _, path := range []string{"..", "../etc/passwd", "sub/../../escape", "/mnt/../etc"} {
		if err := ValidatePath(path, true); err == nil {
			t.Errorf("ValidatePath(%q) = nil, want traversal error", path)
		}
	}
}

func TestValidatePathRejectsEmpty(t *testing.T) {
	if err := ValidatePath("", true); err == nil {
		t.Error("empty path must be rejected")
	}
}

func TestValidatePathRejectsNul(t *testing.T) {
	if err := ValidatePath("a\x00b", false); err == nil {
		t.Error("NUL byte must be rejected")
	}
}

func TestValidatePathAbsoluteFlag(t *testing.T) {
	if err := ValidatePath("/mnt/test", false); err == nil {
		t.Error("absolute path must be rejected when allowAbsolute is false")
	}
	if err := ValidatePath("/mnt/test", true); err != nil {
		t.Errorf("absolute path rejected despite allowAbsolute: %v", err)
	}
}

func TestValidateBackingDir(t *testing.T) {
	good := []string{"/srv/backing", "/", "/var/lib/nasfault"}
	for _, path := range good {
		if err := ValidateBackingDir(path); err != nil {
			t.Errorf("ValidateBackingDir(%q) = %v, want nil", path, err)
		}
	}

	bad := []string{"", "relative/dir", "/srv/backing/", "/srv/../etc"}
	for _, path := range bad {
		if err := ValidateBackingDir(path); err == nil {
			t.Errorf("ValidateBackingDir(%q) = nil, want error", path)
		}
	}
}
