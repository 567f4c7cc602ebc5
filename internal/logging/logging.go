// Package logging wraps logrus for the rest of the module and defines the
// PacketSink hook an embedding GUI can use to observe bus traffic, the Go
// equivalent of spec.md §1's external "GUI logging" collaborator.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/joselara-terraform/xc2ctl/xc2"
)

// New builds the module's root entry. Level and formatter are the only
// knobs callers need; component-specific fields are added via WithField as
// packages hand the entry down (bus, device, evm8).
func New(level logrus.Level) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(l)
}

// PacketSink observes every packet a Bus sends or receives. Embedders (a
// GUI, a capture tool) implement this to tap the wire without touching
// bus.Bus internals.
type PacketSink interface {
	SentPacket(busName string, p xc2.Packet)
	ReceivedPacket(busName string, p xc2.Packet)
}

// LogrusSink is the default PacketSink: it just logs at Debug.
type LogrusSink struct {
	Entry *logrus.Entry
}

func (s LogrusSink) SentPacket(busName string, p xc2.Packet) {
	s.Entry.WithField("bus", busName).WithField("pkt", p.String()).Debug("sent")
}

func (s LogrusSink) ReceivedPacket(busName string, p xc2.Packet) {
	s.Entry.WithField("bus", busName).WithField("pkt", p.String()).Debug("received")
}
