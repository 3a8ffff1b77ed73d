package location

import (
	"os"
	"path/filepath"
	"testing"

	"bloodhub/pkg/domain"
)

func TestProximity(t *testing.T) {
	ref := domain.Location{District: "Kollam", Taluk: "Punalur", Village: "Anchal"}
	cases := []struct {
		name      string
		ref       domain.Location
		candidate domain.Location
		want      Level
	}{
		{"same village", ref, domain.Location{District: "Kollam", Taluk: "Punalur", Village: "Anchal"}, SameVillage},
		{"same taluk", ref, domain.Location{District: "Kollam", Taluk: "Punalur", Village: "Yeroor"}, SameTaluk},
		{"same district", ref, domain.Location{District: "Kollam", Taluk: "Kollam"}, SameDistrict},
		{"other district", ref, domain.Location{District: "Thrissur", Taluk: "Punalur", Village: "Anchal"}, OtherDistrict},
		{"reference without village", domain.Location{District: "Kollam", Taluk: "Punalur"}, domain.Location{District: "Kollam", Taluk: "Punalur"}, SameTaluk},
		{"case insensitive", ref, domain.Location{District: "kollam", Taluk: "PUNALUR", Village: "anchal"}, SameVillage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Proximity(tc.ref, tc.candidate); got != tc.want {
				t.Fatalf("Proximity() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLevelDistance(t *testing.T) {
	want := map[Level]string{
		SameVillage:   "0-5km",
		SameTaluk:     "5-10km",
		SameDistrict:  "10-20km",
		OtherDistrict: "20+km",
	}
	for level, label := range want {
		if got := level.Distance(); got != label {
			t.Fatalf("Level(%d).Distance() = %q, want %q", level, got, label)
		}
	}
}

func TestDefaultHierarchyValidate(t *testing.T) {
	h := Default()
	if err := h.Validate(domain.Location{District: "Ernakulam", Taluk: "Aluva", Village: "Kalamassery"}); err != nil {
		t.Fatalf("validate known location: %v", err)
	}
	if err := h.Validate(domain.Location{District: "Ernakulam", Taluk: "Aluva"}); err != nil {
		t.Fatalf("validate location without village: %v", err)
	}
	if err := h.Validate(domain.Location{District: "Ernakulam", Taluk: "Punalur"}); err == nil {
		t.Fatalf("expected taluk outside district to be rejected")
	}
	if err := h.Validate(domain.Location{District: "Atlantis", Taluk: "Aluva"}); err == nil {
		t.Fatalf("expected unknown district to be rejected")
	}
	if err := h.Validate(domain.Location{District: "Kollam", Taluk: "Punalur", Village: "Kakkanad"}); err == nil {
		t.Fatalf("expected village outside taluk to be rejected")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.yaml")
	content := `
Wayanad:
  Mananthavady:
    - Thondernad
  Sulthan Bathery: []
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write locations: %v", err)
	}
	h, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := h.Districts(); len(got) != 1 || got[0] != "Wayanad" {
		t.Fatalf("districts = %v, want [Wayanad]", got)
	}
	if got := h.Taluks("Wayanad"); len(got) != 2 || got[0] != "Mananthavady" {
		t.Fatalf("taluks = %v", got)
	}
	if got := h.Villages("Wayanad", "Mananthavady"); len(got) != 1 || got[0] != "Thondernad" {
		t.Fatalf("villages = %v", got)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse([]byte("")); err == nil {
		t.Fatalf("expected empty hierarchy to fail")
	}
}
