// Command authexec-module stands in for the main function the (external,
// out-of-scope) annotation-driven code generator would emit for a user
// module: it wires the generated constant tables, builds a Runtime, and
// serves it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-envparse"
	"github.com/r2northstar/authexec/internal/config"
	"github.com/r2northstar/authexec/pkg/listener"
	"github.com/r2northstar/authexec/pkg/runtime"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		x, err := readEnv(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		e = x
	}

	var c config.Config
	if err := c.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}
	if err := c.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(c.LogLevel)
	if !c.LogPretty {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(c.LogLevel)
	}

	moduleKey, err := c.ModuleKey()
	if err != nil && !c.Attestation {
		log.Fatal().Err(err).Msg("decode MODULE_KEY")
	}

	if c.Attestation {
		verifyingKey, err := c.AttestVerifyingKey()
		if err != nil {
			log.Fatal().Err(err).Msg("decode ATTEST_VERIFYING_KEY")
		}
		secret, err := runtime.Bootstrap(fmt.Sprintf("127.0.0.1:%d", c.EMPort+c.ModuleID), verifyingKey, insecureAttestor{})
		if err != nil {
			// Any attestation failure is fatal; there is no degraded mode (§4.11, §7).
			log.Fatal().Err(err).Msg("attestation bootstrap failed")
		}
		moduleKey = secret
	}

	tables := exampleTables()

	rt, err := runtime.NewRuntime(runtime.ModuleConfig{
		ModuleID:   c.ModuleID,
		ModuleName: c.ModuleName,
		ModuleKey:  moduleKey,
		EMHost:     c.EMHost,
		EMPort:     c.EMPort,
		NumThreads: c.NumThreads,
	}, tables, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize runtime")
	}
	exampleBindRuntime(rt)

	if c.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
				rt.WritePrometheus(w)
			})
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	ln := listener.New(rt, log, c.NumThreads)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", c.EMPort+c.ModuleID)
	if err := ln.ListenAndServe(addr); err != nil && err != listener.ErrListenerClosed {
		log.Fatal().Err(err).Msg("listener stopped")
	}
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	r := make([]string, 0, len(m))
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
