package gateway

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Simulated logs sends instead of delivering them. It stands in for
// platforms without a configured provider.
type Simulated struct {
	Platform string
	Logger   logrus.FieldLogger
}

// Send logs the message and reports success.
func (s Simulated) Send(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := s.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"platform": s.Platform,
		"to":       to,
		"chars":    len(text),
	}).Info("gateway: simulated send")
	return nil
}
