package smtp

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Redacted replaces credentials in the traffic passed to an Observer.
const Redacted = "<redacted>"

// Observer receives the raw protocol traffic of a session when debugging
// is enabled.
type Observer interface {
	// Sent is called with every outgoing command before it is written.
	Sent(command string)
	// Received is called with every complete server reply.
	Received(reply string)
}

// LogObserver reports traffic as debug records on logger.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return logObserver{logger: logger}
}

type logObserver struct {
	logger *slog.Logger
}

func (o logObserver) Sent(command string) {
	o.logger.Debug("smtp client", "command", strings.TrimRight(command, "\r\n"))
}

func (o logObserver) Received(reply string) {
	o.logger.Debug("smtp server", "reply", strings.TrimRight(reply, "\r\n"))
}

// WriterObserver prints traffic to w, prefixing client lines with "C: "
// and server lines with "S: ".
func WriterObserver(w io.Writer) Observer {
	return writerObserver{w: w}
}

type writerObserver struct {
	w io.Writer
}

func (o writerObserver) Sent(command string) {
	o.print("C: ", command)
}

func (o writerObserver) Received(reply string) {
	o.print("S: ", reply)
}

func (o writerObserver) print(prefix, text string) {
	text = strings.TrimRight(text, "\r\n")
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(o.w, "%s%s\n", prefix, strings.TrimRight(line, "\r"))
	}
}
