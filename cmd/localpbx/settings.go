package main

import (
	"time"

	ini "gopkg.in/ini.v1"
)

// Settings holds the SIP front end configuration loaded from
// localpbx.ini. Driver and logging sections are consumed by their own
// packages.
type Settings struct {
	sipPort       int
	sipPortRange  int
	publicAddress string
	userAgent     string
	context       string
	ringTimeout   int
}

// LoadSettings reads the [sip] section and fills in defaults.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.sipPort = sec.Key("port").MustInt(5060)
	s.sipPortRange = sec.Key("port_range").MustInt(0)
	s.publicAddress = sec.Key("public_address").String()
	s.userAgent = sec.Key("user_agent").MustString("localpbx")
	s.context = sec.Key("context").MustString("default")
	s.ringTimeout = sec.Key("ring_timeout").MustInt(30)

	if s.publicAddress == "" {
		host, err := detectHostIP()
		if err != nil {
			return nil, err
		}
		s.publicAddress = host
	}

	return s, nil
}

func (s *Settings) SIPPort() int          { return s.sipPort }
func (s *Settings) SIPPortRange() int     { return s.sipPortRange }
func (s *Settings) PublicAddress() string { return s.publicAddress }
func (s *Settings) UserAgent() string     { return s.userAgent }
func (s *Settings) Context() string       { return s.context }

func (s *Settings) RingTimeout() time.Duration {
	return time.Duration(s.ringTimeout) * time.Second
}
