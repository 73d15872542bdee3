package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/goliatone/go-logger/glog"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/baldanca/petition-preprocessor/config"
	"github.com/baldanca/petition-preprocessor/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// logOutput defaults to stderr; tests replace it.
	logOutput io.Writer
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.LoadOrDefault(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (glog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	out := c.output()

	opts := cfg.LoggingOptions()
	if opts.Format == "" || opts.Format == "auto" {
		opts.Format = "json"
		if isTerminal(out) {
			opts.Format = "text"
		}
	}
	logger, err := logging.New(out, opts)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return logger, nil
}

// output is where logs and exported metrics go.
func (c *commandContext) output() io.Writer {
	if c.logOutput == nil {
		return os.Stderr
	}
	return c.logOutput
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (c *commandContext) openRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	return openRuntime(cmd.Context(), cfg, logger, c.output())
}
