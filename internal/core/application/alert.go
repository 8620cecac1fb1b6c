package application

import (
	"context"
	"time"

	"github.com/arkade-os/solverd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

func (s *service) publishAlert(topic ports.Topic, message any) {
	if s.alerts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.alerts.Publish(ctx, topic, message); err != nil {
		log.WithError(err).WithField("topic", topic).Warn("failed to publish alert")
	}
}
