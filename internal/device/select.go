package device

import "strings"

// Select picks which enumerated device to open. The first device whose
// serial contains selector wins. An empty selector, or one that matches
// nothing, falls back to the first device; matched reports which happened.
// Callers must not pass an empty list.
func Select(infos []Info, selector string) (index int, matched bool) {
	if selector == "" {
		return 0, false
	}
	for i, info := range infos {
		if strings.Contains(info.Serial, selector) {
			return i, true
		}
	}
	return 0, false
}
