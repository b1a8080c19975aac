package simerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := Integrityf("restore", "checksum mismatch")
	wrapped := fmt.Errorf("load profile: %w", base)

	if got := KindOf(wrapped); got != KindIntegrity {
		t.Fatalf("KindOf=%v want integrity", got)
	}
	if !Is(wrapped, KindIntegrity) || Is(wrapped, KindProtocol) {
		t.Fatalf("Is mismatch")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Fatalf("plain error should have no kind")
	}
}

func TestReason_PrefixesCode(t *testing.T) {
	cases := map[Kind]string{
		KindProtocol:    "E_PROTOCOL: ",
		KindConfig:      "E_CONFIG: ",
		KindIntegrity:   "E_INTEGRITY: ",
		KindDeterminism: "E_DETERMINISM: ",
	}
	for kind, prefix := range cases {
		r := Reason(Wrap(kind, "op", errors.New("boom")))
		if !strings.HasPrefix(r, prefix) {
			t.Fatalf("reason %q missing prefix %q", r, prefix)
		}
	}
	if r := Reason(errors.New("x")); !strings.HasPrefix(r, "E_INTERNAL") {
		t.Fatalf("untyped reason=%q", r)
	}
	if Wrap(KindConfig, "op", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}
