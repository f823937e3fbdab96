//go:build !burst

package dutycycle

// DefaultPolicy is chosen at build time; build with -tags burst for Burst.
var DefaultPolicy Policy = Equalized

const DefaultPolicyName = "equalized"
