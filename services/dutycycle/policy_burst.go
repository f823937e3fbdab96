//go:build burst

package dutycycle

var DefaultPolicy Policy = Burst

const DefaultPolicyName = "burst"
