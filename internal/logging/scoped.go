package logging

import "github.com/rs/zerolog"

// PluginLogger tags every log line with the owning plugin's name, backed
// by zerolog's field-scoping so plugin log lines share the same sink,
// level filtering, and console/JSON formatting as the rest of the runtime.
type PluginLogger struct {
	logger zerolog.Logger
}

// NewPluginLogger returns a logger tagged with "plugin": pluginName,
// derived from base. The plugin manager builds one of these per
// PluginRecord and hands it to the plugin through its PluginContext.
func NewPluginLogger(base zerolog.Logger, pluginName string) *PluginLogger {
	return &PluginLogger{logger: base.With().Str("plugin", pluginName).Logger()}
}

func (pl *PluginLogger) Debug(msg string, fields map[string]any) { pl.log(pl.logger.Debug(), msg, fields) }
func (pl *PluginLogger) Info(msg string, fields map[string]any)  { pl.log(pl.logger.Info(), msg, fields) }
func (pl *PluginLogger) Warn(msg string, fields map[string]any)  { pl.log(pl.logger.Warn(), msg, fields) }
func (pl *PluginLogger) Error(msg string, fields map[string]any) { pl.log(pl.logger.Error(), msg, fields) }

func (pl *PluginLogger) log(event *zerolog.Event, msg string, fields map[string]any) {
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(msg)
}

// WithField returns a PluginLogger with one additional field pre-attached
// to every subsequent log call.
func (pl *PluginLogger) WithField(key string, value any) *PluginLogger {
	return &PluginLogger{logger: pl.logger.With().Interface(key, value).Logger()}
}
