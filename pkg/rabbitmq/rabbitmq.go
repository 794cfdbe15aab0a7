package rabbitmq

import (
	"errors"
	"time"
	"watchpost/config"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

func NewConnection(brokerCfg *config.BrokerConfig, log *zerolog.Logger) (*amqp091.Connection, error) {

	var conn *amqp091.Connection
	var err error
	for i := range 5 {
		conn, err = amqp091.Dial(brokerCfg.URL)
		if err == nil {
			return conn, nil
		}
		time.Sleep(2 * time.Second)
		log.Warn().Int("attempt", i+1).Msg("rabbitmq reconnection attempt")
	}
	log.Error().Err(err).Msg("failed to connect to rabbitmq after 5 attempts")
	return nil, errors.New("failed to connect to rabbitmq")
}

func SetupTopology(conn *amqp091.Connection, brokerCfg *config.BrokerConfig) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.ExchangeDeclare(
		brokerCfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
}
