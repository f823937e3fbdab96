package sensors

import (
	"fmt"
	"sync"
	"time"

	"fieldnode-go/errcode"

	"github.com/jonboulle/clockwork"
	"tinygo.org/x/drivers"
)

// Params describe one slot entry of the node configuration.
type Params struct {
	Slot   int
	Kind   string
	Addr   uint16
	TypeID uint16
	Delay  time.Duration // simulated conversion time
}

// BuildInput is what a builder gets to construct a module.
type BuildInput struct {
	Params
	I2C   drivers.I2C // nil on hosts without a bus
	Clock clockwork.Clock
	Power func(on bool) error // slot power switch, may be nil
}

type Builder interface {
	Build(in BuildInput) (Module, error)
}

var (
	regMu    sync.RWMutex
	builders = map[string]Builder{}
)

func RegisterBuilder(kind string, b Builder) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := builders[kind]; exists {
		panic(fmt.Sprintf("duplicate sensor builder: %s", kind))
	}
	builders[kind] = b
}

func lookupBuilder(kind string) (Builder, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := builders[kind]
	return b, ok
}

// Build constructs the module for in.Kind.
func Build(in BuildInput) (Module, error) {
	b, ok := lookupBuilder(in.Kind)
	if !ok {
		return nil, errcode.New(errcode.Unsupported, "sensors.build", in.Kind)
	}
	if in.Clock == nil {
		in.Clock = clockwork.NewRealClock()
	}
	return b.Build(in)
}
