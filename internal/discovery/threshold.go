package discovery

const minAcceptable = 3

// AcceptanceThreshold is the number of items a strategy must return for its
// result to be accepted without trying the next one: max(3, limit/3).
func AcceptanceThreshold(limit int) int {
	return max(minAcceptable, limit/3)
}
