package detector

import (
	"fmt"

	"github.com/ayusman/facetrack/internal/region"
)

// Selector chooses which candidate the session should start tracking.
type Selector interface {
	// Select returns the chosen candidate, or false if none is valid.
	Select(candidates []region.Region) (region.Region, bool)
}

// SelectorFunc adapts a function to the Selector interface.
type SelectorFunc func(candidates []region.Region) (region.Region, bool)

// Select calls f(candidates).
func (f SelectorFunc) Select(candidates []region.Region) (region.Region, bool) {
	return f(candidates)
}

// PickFirst trusts the detector's own ordering and returns the first valid
// candidate. This is the default policy; the cascade does no ranking, so
// "first" is whatever the classifier emitted first.
var PickFirst Selector = SelectorFunc(func(candidates []region.Region) (region.Region, bool) {
	for _, c := range candidates {
		if c.IsValid() {
			return c, true
		}
	}
	return region.Region{}, false
})

// PickLargest returns the valid candidate with the largest area. Cascade
// detections carry no score, so area stands in for confidence. Ties keep
// the earlier candidate.
var PickLargest Selector = SelectorFunc(func(candidates []region.Region) (region.Region, bool) {
	var best region.Region
	found := false
	for _, c := range candidates {
		if !c.IsValid() {
			continue
		}
		if !found || c.Area() > best.Area() {
			best = c
			found = true
		}
	}
	return best, found
})

// ParseSelector maps a configuration name to a Selector.
func ParseSelector(name string) (Selector, error) {
	switch name {
	case "", "first":
		return PickFirst, nil
	case "largest":
		return PickLargest, nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}
