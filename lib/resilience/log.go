// Package resilience provides resilience patterns for the mcpool gateway.
package resilience

import (
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()
