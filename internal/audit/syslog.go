package audit

import (
	"fmt"
	"log/syslog"
	"strings"
)

var syslogFacilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"mail":   syslog.LOG_MAIL,
	"daemon": syslog.LOG_DAEMON,
	"auth":   syslog.LOG_AUTH,
	"lpr":    syslog.LOG_LPR,
	"news":   syslog.LOG_NEWS,
	"uucp":   syslog.LOG_UUCP,
	"cron":   syslog.LOG_CRON,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

// SyslogSink emits each event as one JSON message to a syslog daemon.
type SyslogSink struct {
	writer *syslog.Writer
}

// NewSyslogSink dials the syslog daemon at network/addr (udp host:port
// in the common case) with the named facility.
func NewSyslogSink(network, addr, facility, tag string) (*SyslogSink, error) {
	priority, ok := syslogFacilities[strings.ToLower(strings.TrimSpace(facility))]
	if !ok {
		return nil, fmt.Errorf("unsupported syslog facility: %s", facility)
	}
	writer, err := syslog.Dial(network, addr, priority|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("dial syslog: %w", err)
	}
	return &SyslogSink{writer: writer}, nil
}

func (s *SyslogSink) Emit(event Event) error {
	encoded, err := encodeEvent(event)
	if err != nil {
		return err
	}
	return s.writer.Info(string(encoded))
}

// Close releases the syslog connection.
func (s *SyslogSink) Close() error {
	return s.writer.Close()
}
