// Package amqp is an AMQP 1.0 client. It implements the OASIS AMQP 1.0
// wire protocol: connections, sessions, and sender/receiver links, with
// flow control, settlement and multi-frame transfers.
//
// Use Dial or New to establish a Client, Client.NewSession to open a
// Session, and Session.NewSender/Session.NewReceiver to attach links.
package amqp
