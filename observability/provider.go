// Package observability provides the provider that hands out per-component
// loggers and metrics collectors to the rest of the gateway.
package observability

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/beladevo/libreoffice-docx-to-pdf/observability/logger"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/metrics"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// Logger is an alias for types.Logger.
type Logger = types.Logger

// Metrics is an alias for types.Metrics.
type Metrics = types.Metrics

// Fields is an alias for types.Fields.
type Fields = types.Fields

// Config is an alias for types.Config.
type Config = types.Config

// Provider is an alias for types.Provider.
type Provider = types.Provider

// DefaultProvider implements Provider. Loggers and metrics collectors are
// created lazily and cached per component.
type DefaultProvider struct {
	config  *Config
	output  io.Writer
	loggers map[string]Logger
	metrics map[string]Metrics
	mu      sync.RWMutex
}

// NewProvider creates a provider for config. A nil LogOutput means
// os.Stdout.
//
//	provider := observability.NewProvider(&observability.Config{
//		ServiceName: "office-pdf-gateway",
//		Environment: "production",
//		LogLevel:    "info",
//		ComponentOutputs: map[string]io.Writer{"conversion_time": timeLog},
//	})
//	defer provider.Close()
func NewProvider(config *Config) Provider {
	if config.LogOutput == nil {
		config.LogOutput = os.Stdout
	}

	return &DefaultProvider{
		config:  config,
		output:  zerolog.SyncWriter(config.LogOutput),
		loggers: make(map[string]Logger),
		metrics: make(map[string]Metrics),
	}
}

// Logger returns the logger for component. Entries carry a "component"
// field and the service name "{ServiceName}.{component}". Components listed
// in Config.ComponentOutputs write to their own writer.
func (p *DefaultProvider) Logger(component string) Logger {
	p.mu.RLock()
	if l, exists := p.loggers[component]; exists {
		p.mu.RUnlock()
		return l
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, exists := p.loggers[component]; exists {
		return l
	}

	fields := make(Fields, len(p.config.AdditionalFields)+1)
	for k, v := range p.config.AdditionalFields {
		fields[k] = v
	}
	fields["component"] = component

	output := p.output
	if w, ok := p.config.ComponentOutputs[component]; ok && w != nil {
		output = zerolog.SyncWriter(w)
	}

	l := logger.New(
		fmt.Sprintf("%s.%s", p.config.ServiceName, component),
		p.config.Environment,
		p.config.LogLevel,
		output,
		fields,
	)
	p.loggers[component] = l

	return l
}

// Metrics returns the metrics collector for component, registered on
// Config.Registerer.
func (p *DefaultProvider) Metrics(component string) Metrics {
	p.mu.RLock()
	if m, exists := p.metrics[component]; exists {
		p.mu.RUnlock()
		return m
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if m, exists := p.metrics[component]; exists {
		return m
	}

	m := metrics.New(p.config.ServiceName, component, p.config.Registerer)
	p.metrics[component] = m

	return m
}

// Close closes LogOutput and every component output that implements
// io.Closer, except os.Stdout and os.Stderr.
func (p *DefaultProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	closeWriter := func(w io.Writer) {
		closer, ok := w.(io.Closer)
		if !ok || closer == os.Stdout || closer == os.Stderr {
			return
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	closeWriter(p.config.LogOutput)
	for _, w := range p.config.ComponentOutputs {
		if w != p.config.LogOutput {
			closeWriter(w)
		}
	}

	return errors.Join(errs...)
}
