package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bplink/driver"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/internal/devicefactory"
	"github.com/srg/bplink/scanner"
	"github.com/srg/bplink/session"
)

// newSessionRunner wires a session runner for the given device model: real
// scanner, real BLE links, and the registered protocol driver.
func newSessionRunner(model string, scanTimeout time.Duration, logger *logrus.Logger) (*session.Runner, error) {
	factory, err := driver.Lookup(model)
	if err != nil {
		return nil, err
	}

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return nil, err
	}

	return session.NewRunner(session.Config{
		Discoverer: s,
		NewLink: func(address string, logger *logrus.Logger) device.Link {
			return devicefactory.NewLink(address, logger)
		},
		NewDriver:   factory,
		ScanTimeout: scanTimeout,
		Logger:      logger,
	}), nil
}
