// Package exchange selects the gateway implementation from configuration.
package exchange

import (
	"fmt"

	"swap_trader/internal/config"
	"swap_trader/internal/core"
	"swap_trader/internal/exchange/gmo"
	"swap_trader/internal/mock"
)

// NewGateway builds the configured gateway. armed is the pre-dispatch
// arming check applied by live gateways; the mock ignores it because a
// mock order is free.
func NewGateway(cfg *config.Config, armed gmo.ArmCheck, logger core.ILogger) (core.IGateway, error) {
	switch cfg.App.BrokerType {
	case "gmo":
		return gmo.NewGateway(cfg, armed, logger), nil
	case "mock":
		return mock.NewGateway("147.20", "0.004", logger), nil
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.App.BrokerType)
	}
}
