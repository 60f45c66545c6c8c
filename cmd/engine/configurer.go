package main

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// viperConfigurer adapts spf13/viper to the engine.Configurer seam.
type viperConfigurer struct {
	v *viper.Viper
}

func (c *viperConfigurer) UnmarshalKey(name string, out any) error {
	return c.v.UnmarshalKey(name, out)
}

func (c *viperConfigurer) Has(name string) bool {
	return c.v.IsSet(name)
}

// zapLogger adapts a zap.Logger to the engine.Logger seam.
type zapLogger struct {
	base *zap.Logger
}

func (l *zapLogger) NamedLogger(name string) *zap.Logger {
	return l.base.Named(name)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
