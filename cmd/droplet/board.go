package main

import (
	"fmt"

	"github.com/sweeney/droplet/internal/config"
	"github.com/sweeney/droplet/internal/firmata"
	"github.com/sweeney/droplet/internal/gpio"
	"github.com/sweeney/droplet/internal/logging"
	"github.com/sweeney/droplet/internal/status"
)

// board is an opened pin driver plus what it can report about itself.
type board struct {
	pin  gpio.Writer
	info func() status.BoardInfo
	// drained is nil for drivers without a serial connection.
	drained func() uint64
}

func openBoard(opts *config.Options) (*board, error) {
	switch opts.BoardDriver {
	case config.DriverFirmata:
		cfg := opts.Firmata()
		cfg.Logger = logging.GetLogger("firmata")
		b, err := firmata.Open(cfg)
		if err != nil {
			return nil, err
		}
		return &board{
			pin: b,
			info: func() status.BoardInfo {
				st := b.Stats()
				return status.BoardInfo{
					Driver:       config.DriverFirmata,
					Port:         b.Name(),
					Pin:          opts.BoardPin,
					Firmware:     st.Firmware,
					Protocol:     st.Protocol,
					BytesDrained: st.BytesDrained,
				}
			},
			drained: func() uint64 { return b.Stats().BytesDrained },
		}, nil

	case config.DriverGPIOCDev:
		w, err := gpio.NewRealWriter(opts.BoardChip, opts.BoardPin)
		if err != nil {
			return nil, err
		}
		info := status.BoardInfo{Driver: config.DriverGPIOCDev, Port: opts.BoardChip, Pin: opts.BoardPin}
		return &board{pin: w, info: func() status.BoardInfo { return info }}, nil

	case config.DriverPeriph:
		w, err := gpio.NewPeriphWriter(opts.BoardPin)
		if err != nil {
			return nil, err
		}
		info := status.BoardInfo{Driver: config.DriverPeriph, Port: fmt.Sprintf("GPIO%d", opts.BoardPin), Pin: opts.BoardPin}
		return &board{pin: w, info: func() status.BoardInfo { return info }}, nil
	}

	return nil, fmt.Errorf("unknown driver %q", opts.BoardDriver)
}
