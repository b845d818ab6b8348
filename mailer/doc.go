// Package mailer provides goIdentity.Mailer implementations.
//
// AMQPMailer queues each message as a durable JSON job on a RabbitMQ queue
// for a separate delivery worker. LogMailer records that a message would
// have been sent without writing its body anywhere, for local development.
package mailer
