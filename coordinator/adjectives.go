package coordinator

import "fmt"

// renameAdjectives is the pool the host draws from when a requested
// username collides with an existing roster entry and a unique
// "<name>_<adjective>" alternative has to be manufactured.
var renameAdjectives = []string{
	"quiet", "swift", "amber", "brave", "coral", "dusty", "eager", "fuzzy",
	"giant", "happy", "ivory", "jolly", "keen", "lucky", "misty", "noble",
	"olive", "plaid", "quirky", "rusty", "sunny", "tidy", "umber", "vivid",
	"windy", "zesty",
}

// uniqueName returns name unchanged if it doesn't collide with taken, or
// the first "<name>_<adjective>" (cycling through renameAdjectives,
// appending a numeric suffix if every adjective is exhausted) that doesn't.
func uniqueName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	for _, adj := range renameAdjectives {
		candidate := fmt.Sprintf("%s_%s", name, adj)
		if !taken(candidate) {
			return candidate
		}
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d", name, n)
		if !taken(candidate) {
			return candidate
		}
	}
}
