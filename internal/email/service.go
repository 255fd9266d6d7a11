package email

import (
	"fmt"
	"net/smtp"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
		send: smtp.SendMail,
	}
}

// SendPaymentReceipt confirms a settled payment and the order it confirmed
func (s *Service) SendPaymentReceipt(to string, r Receipt) error {
	subject := fmt.Sprintf("Payment received for order %s", r.OrderNumber)
	return s.deliver(to, subject, BuildPaymentReceiptBody(r))
}

// SendPaymentFailed tells the buyer the order was not confirmed
func (s *Service) SendPaymentFailed(to, orderNumber, reason string) error {
	subject := fmt.Sprintf("Payment for order %s was not completed", orderNumber)
	return s.deliver(to, subject, BuildPaymentFailedBody(orderNumber, reason))
}

// SendOrderExpired tells the buyer an unpaid order was cancelled
func (s *Service) SendOrderExpired(to, orderNumber string) error {
	subject := fmt.Sprintf("Order %s has expired", orderNumber)
	return s.deliver(to, subject, BuildOrderExpiredBody(orderNumber))
}

// SendFulfillmentUpdate reports shipping and delivery progress
func (s *Service) SendFulfillmentUpdate(to, orderNumber, status string) error {
	subject := fmt.Sprintf("Order %s is %s", orderNumber, status)
	return s.deliver(to, subject, BuildFulfillmentBody(orderNumber, status))
}

func (s *Service) deliver(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return s.send(addr, nil, s.from, []string{to}, []byte(msg))
}
