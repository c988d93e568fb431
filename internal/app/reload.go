package app

import (
	"reflect"

	"github.com/dshills/kdbg/internal/config"
	"github.com/dshills/kdbg/internal/logging"
)

// reload adopts a configuration read after its file changed. The log level
// applies immediately; adapter and session settings take effect on the
// next start of kdbg.
func (app *Application) reload(cfg *config.Config, err error) {
	if err != nil {
		app.logger.Warn("config reload: %v", err)
		return
	}

	app.mu.Lock()
	prev := app.config
	app.config = cfg
	app.mu.Unlock()

	if cfg.Log.Level != prev.Log.Level {
		app.logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
		app.logger.Info("log level set to %s", cfg.Log.Level)
	}
	if !reflect.DeepEqual(prev.Adapter, cfg.Adapter) || prev.Session != cfg.Session {
		app.logger.Warn("adapter and session changes apply after restart")
	}
}
