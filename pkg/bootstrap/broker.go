package bootstrap

import (
	"fmt"

	"pixelgate/internal/broker"
	"pixelgate/internal/config"
	"pixelgate/internal/logger"
)

// Messaging holds the optional broker clients of a service.
type Messaging struct {
	Producer broker.Producer
	Consumer broker.Consumer
}

// InitMessaging creates the producer and, when withConsumer is set, the consumer.
// It returns an empty Messaging when no broker is configured.
func InitMessaging(cfg config.BrokerConfig, serviceName string, withConsumer bool, log logger.Logger) (*Messaging, error) {
	m := &Messaging{}
	if !broker.Enabled(cfg) {
		return m, nil
	}

	producer, err := broker.NewProducer(cfg, serviceName, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	m.Producer = producer

	if withConsumer {
		consumer, err := broker.NewConsumer(cfg, serviceName, log)
		if err != nil {
			producer.Close()
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
		m.Consumer = consumer
	}

	return m, nil
}

func (m *Messaging) Shutdown() []error {
	var errs []error

	if m.Producer != nil {
		if err := m.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if m.Consumer != nil {
		if err := m.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}
