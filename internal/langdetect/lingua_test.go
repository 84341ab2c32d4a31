package langdetect

import "testing"

func TestDetectISO6391(t *testing.T) {
	if got := DetectISO6391("قامت طائرات حربية بقصف حي سكني في المدينة صباح اليوم"); got != "ar" {
		t.Fatalf("expected ar, got %q", got)
	}
	if got := DetectISO6391("Warplanes bombed a residential neighborhood in the city this morning"); got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
	if got := DetectISO6391("ok"); got != "" {
		t.Fatalf("short samples are not classified: got %q", got)
	}
	if got := DetectISO6391("   "); got != "" {
		t.Fatalf("blank samples are not classified: got %q", got)
	}
}
