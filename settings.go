package localchan

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"localchan/engine"
)

var localLog = engine.NewLogger("local", logrus.InfoLevel)

// jbDefaults is what newPair hands every owner side before per-call
// options are applied.
var jbDefaults = struct {
	mu   sync.Mutex
	conf engine.JitterBufConfig
}{conf: engine.JitterBufConfig{MaxSize: -1, ResyncThreshold: -1, TargetExtra: -1}}

func defaultJitterBuf() engine.JitterBufConfig {
	jbDefaults.mu.Lock()
	defer jbDefaults.mu.Unlock()
	return jbDefaults.conf
}

// Configure applies the [local] section (jitter buffer defaults) and
// the driver's log level from [logging]. Safe to call again on reload;
// live pairs keep the configuration they were built with.
func Configure(cfg *ini.File) error {
	sec := cfg.Section("local")
	jb := engine.JitterBufConfig{
		Enabled:         sec.Key("jbenable").MustBool(false),
		MaxSize:         sec.Key("jbmaxsize").MustInt(-1),
		ResyncThreshold: sec.Key("jbresyncthreshold").MustInt(-1),
		Impl:            sec.Key("jbimpl").MustString(""),
		TargetExtra:     sec.Key("jbtargetextra").MustInt(-1),
	}
	switch jb.Impl {
	case "", "fixed", "adaptive":
	default:
		return fmt.Errorf("unknown jitter buffer implementation %q", jb.Impl)
	}

	jbDefaults.mu.Lock()
	jbDefaults.conf = jb
	jbDefaults.mu.Unlock()

	level := engine.ToLogLevel(cfg.Section("logging").Key("local").MustInt(2))
	localLog = engine.NewLogger("local", level)
	return nil
}
