// Package power holds the node's supply-side collaborators: the battery
// end-of-service gauge, the supply monitor that decides between deep sleep
// and staying awake, and the MCU die thermometer.
package power

import (
	"sync"

	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "power")

// Supply reports USB presence and performs deep sleep entry. On a host
// "deep sleep" only records the request and notifies a hook.
type Supply struct {
	mu      sync.Mutex
	usb     bool
	sleeps  int
	onSleep func()
}

func NewSupply(usb bool) *Supply { return &Supply{usb: usb} }

// OnSleep sets a hook run on every EnterDeepSleep.
func (s *Supply) OnSleep(fn func()) {
	s.mu.Lock()
	s.onSleep = fn
	s.mu.Unlock()
}

func (s *Supply) SetUSB(on bool) {
	s.mu.Lock()
	s.usb = on
	s.mu.Unlock()
}

func (s *Supply) USBAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usb
}

func (s *Supply) EnterDeepSleep() error {
	s.mu.Lock()
	s.sleeps++
	fn := s.onSleep
	s.mu.Unlock()
	log.Debug("deep sleep")
	if fn != nil {
		fn()
	}
	return nil
}

func (s *Supply) Sleeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleeps
}

// DieThermometer reads the MCU's on-die sensor through a provider function
// returning milli-degrees, like the RP2040 ADC temperature channel.
type DieThermometer struct {
	read func() int32
}

func NewDieThermometer(readMilliC func() int32) *DieThermometer {
	return &DieThermometer{read: readMilliC}
}

func (t *DieThermometer) ReadDeciC() (int16, error) {
	return int16(t.read() / 100), nil
}
