package objectid_test

import (
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/yang-kun-long/YanheKt-AI/internal/objectid"
)

func TestComputeMatchesDigestPrefix(t *testing.T) {
	sum := sha1.Sum([]byte("c1|42|vga|2024-01-01"))
	want := hex.EncodeToString(sum[:])[:16]

	got := objectid.Compute(objectid.Descriptor{CourseID: "c1", VideoID: 42, VideoType: "vga", StartedAt: "2024-01-01"})
	if got != want {
		t.Fatalf("Compute = %q, want %q", got, want)
	}
	if !objectid.Valid(got) {
		t.Fatalf("computed id %q is not valid", got)
	}
}

func TestComputeDefaultsVideoType(t *testing.T) {
	explicit := objectid.Compute(objectid.Descriptor{CourseID: "c1", VideoID: 42, VideoType: "vga", StartedAt: "s"})
	implicit := objectid.Compute(objectid.Descriptor{CourseID: "c1", VideoID: 42, StartedAt: "s"})
	if explicit != implicit {
		t.Fatalf("expected default video type to match vga: %q vs %q", explicit, implicit)
	}
}

func TestComputeIsSensitiveToEveryField(t *testing.T) {
	base := objectid.Descriptor{CourseID: "c1", VideoID: 42, VideoType: "vga", StartedAt: "s"}
	variants := []objectid.Descriptor{
		{CourseID: "c2", VideoID: 42, VideoType: "vga", StartedAt: "s"},
		{CourseID: "c1", VideoID: 43, VideoType: "vga", StartedAt: "s"},
		{CourseID: "c1", VideoID: 42, VideoType: "screen", StartedAt: "s"},
		{CourseID: "c1", VideoID: 42, VideoType: "vga", StartedAt: "t"},
	}
	want := objectid.Compute(base)
	for _, v := range variants {
		if objectid.Compute(v) == want {
			t.Fatalf("expected %+v to change the id", v)
		}
	}
}

func TestValid(t *testing.T) {
	tests := map[string]bool{
		"0123456789abcdef":  true,
		"0123456789ABCDEF":  false,
		"0123456789abcde":   false,
		"0123456789abcdef0": false,
		"../../etc/passwdx": false,
	}
	for id, want := range tests {
		if got := objectid.Valid(id); got != want {
			t.Fatalf("Valid(%q) = %v, want %v", id, got, want)
		}
	}
}
