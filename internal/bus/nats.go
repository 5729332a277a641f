package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

const (
	SubjectObservation  = "scan.observation"
	SubjectAlertCreated = "alert.created"
	SubjectActionResult = "action.result"
)

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *Subscriber) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}
