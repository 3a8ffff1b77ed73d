package location

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"bloodhub/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed kerala.yaml
var defaultHierarchy []byte

// Level classifies how close two locations are within the administrative hierarchy.
type Level int

const (
	SameVillage Level = iota + 1
	SameTaluk
	SameDistrict
	OtherDistrict
)

// Distance is the display label attached to a proximity level.
func (l Level) Distance() string {
	switch l {
	case SameVillage:
		return "0-5km"
	case SameTaluk:
		return "5-10km"
	case SameDistrict:
		return "10-20km"
	default:
		return "20+km"
	}
}

// Proximity compares a candidate location against a reference (the request).
// A village match only counts when the reference names a village.
func Proximity(ref, candidate domain.Location) Level {
	if !sameName(ref.District, candidate.District) {
		return OtherDistrict
	}
	if ref.Village != "" && sameName(ref.Village, candidate.Village) && sameName(ref.Taluk, candidate.Taluk) {
		return SameVillage
	}
	if sameName(ref.Taluk, candidate.Taluk) {
		return SameTaluk
	}
	return SameDistrict
}

func sameName(a, b string) bool {
	a = strings.TrimSpace(a)
	return a != "" && strings.EqualFold(a, strings.TrimSpace(b))
}

// Hierarchy is the static district -> taluk -> village lookup.
type Hierarchy struct {
	districts map[string]map[string][]string
}

// Default returns the bundled Kerala hierarchy.
func Default() *Hierarchy {
	h, err := Parse(defaultHierarchy)
	if err != nil {
		panic(fmt.Sprintf("bundled location hierarchy: %v", err))
	}
	return h
}

// Load reads a YAML hierarchy from path; an empty path yields the bundled one.
func Load(path string) (*Hierarchy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML of the form district: {taluk: [village, ...]}.
func Parse(data []byte) (*Hierarchy, error) {
	raw := map[string]map[string][]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("locations: no districts defined")
	}
	return &Hierarchy{districts: raw}, nil
}

// Districts returns district names sorted alphabetically.
func (h *Hierarchy) Districts() []string {
	out := make([]string, 0, len(h.districts))
	for d := range h.districts {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (h *Hierarchy) Taluks(district string) []string {
	taluks := h.districts[district]
	out := make([]string, 0, len(taluks))
	for t := range taluks {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (h *Hierarchy) Villages(district, taluk string) []string {
	return append([]string(nil), h.districts[district][taluk]...)
}

// Validate checks that loc names a known district and taluk, and a known
// village when one is given.
func (h *Hierarchy) Validate(loc domain.Location) error {
	if h == nil {
		return nil
	}
	taluks, ok := h.districts[loc.District]
	if !ok {
		return fmt.Errorf("unknown district %q", loc.District)
	}
	villages, ok := taluks[loc.Taluk]
	if !ok {
		return fmt.Errorf("unknown taluk %q in %s", loc.Taluk, loc.District)
	}
	if loc.Village == "" {
		return nil
	}
	for _, v := range villages {
		if v == loc.Village {
			return nil
		}
	}
	return fmt.Errorf("unknown village %q in %s, %s", loc.Village, loc.Taluk, loc.District)
}
