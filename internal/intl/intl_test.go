package intl

import "testing"

func TestDefaultCatalog(t *testing.T) {
	translate := Default()

	if got := translate(KeyPermissionDenied, "en"); got != "You do not have permission to perform this action." {
		t.Fatalf("en permission denied = %q", got)
	}
	if got := translate(KeyPermissionDenied, "fr"); got != "Vous n'avez pas la permission d'effectuer cette action." {
		t.Fatalf("fr permission denied = %q", got)
	}
}

func TestLocaleFallback(t *testing.T) {
	translate := Default()
	want := translate(KeyInvited, "en")

	for _, locale := range []string{"", "de", "xx-YY", "EN-us"} {
		if got := translate(KeyInvited, locale); got != want {
			t.Fatalf("locale %q = %q, want english fallback", locale, got)
		}
	}

	// Region subtags resolve to the base language.
	if got := translate(KeyInvited, "fr-CA"); got != translate(KeyInvited, "fr") {
		t.Fatalf("fr-CA = %q", got)
	}
}

func TestUnknownKeyReturnedVerbatim(t *testing.T) {
	translate := Default()
	if got := translate("status.no_such_key", "en"); got != "status.no_such_key" {
		t.Fatalf("unknown key = %q", got)
	}
}
