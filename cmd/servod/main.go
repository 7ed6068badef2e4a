// Command servod drives a 16-channel PCA9685 servo board from text commands
// arriving on a serial console and on UDP, and serves the channel state over
// HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tagurobo/servod/internal/actuator"
	"github.com/tagurobo/servod/internal/api"
	"github.com/tagurobo/servod/internal/command"
	"github.com/tagurobo/servod/internal/config"
	"github.com/tagurobo/servod/internal/journal"
	"github.com/tagurobo/servod/internal/monitoring"
	"github.com/tagurobo/servod/internal/pulse"
	"github.com/tagurobo/servod/internal/pwm"
	"github.com/tagurobo/servod/internal/serialmux"
	"github.com/tagurobo/servod/internal/transport"
	"github.com/tagurobo/servod/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .json or .yaml config file")
	devMode     = flag.Bool("dev", false, "Run in dev mode (in-memory PWM driver, no hardware)")
	listen      = flag.String("listen", "", "HTTP listen address (default :8080)")
	udpListen   = flag.String("udp", "", "UDP command listen address (default :4210)")
	serialPort  = flag.String("serial", "", "Serial console device, e.g. /dev/ttyUSB0")
	journalPath = flag.String("journal", "", "Command journal database path (default servod.db)")
	logFile     = flag.String("log-file", "", "Also write logs to this rotating file")
	strict      = flag.Bool("strict-numbers", false, "Reply NG to malformed numbers instead of reading 0")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// app holds everything main wires together.
type app struct {
	cfg     *config.Config
	driver  pwm.Driver
	bank    *actuator.Bank
	interp  *command.Interpreter
	journal *journal.Journal
	console *serialmux.SerialMux[serialmux.SerialPorter]
	udp     *transport.DatagramAdapter
}

func loadConfig() (*config.Config, error) {
	cfg := config.Empty()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	o := config.Overrides{
		SerialPath:    *serialPort,
		UDPListen:     *udpListen,
		HTTPListen:    *listen,
		JournalPath:   *journalPath,
		LogFile:       *logFile,
		StrictNumbers: *strict,
	}
	if *devMode {
		o.Driver = config.DriverMemory
	}
	cfg.Apply(o)
	return cfg, cfg.Validate()
}

func newDriver(cfg *config.Config) pwm.Driver {
	if cfg.GetDriver() == config.DriverMemory {
		return pwm.NewMemoryDriver()
	}
	return pwm.NewPCA9685Driver(pwm.PCA9685Options{
		Bus:     cfg.GetI2CBus(),
		Address: cfg.GetI2CAddress(),
	})
}

// newApp starts the PWM board and opens the journal and transports. open is
// used for the serial console.
func newApp(cfg *config.Config, open serialmux.SerialPortOpener) (*app, error) {
	a := &app{cfg: cfg, driver: newDriver(cfg)}

	converter := pulse.Converter{
		FrequencyHz: cfg.GetPWMFrequencyHz(),
		Resolution:  pulse.DefaultResolution,
		MaxAngle:    cfg.GetMaxAngle(),
	}
	a.bank = actuator.NewBank(a.driver, converter)
	if err := a.bank.Begin(cfg.GetOscillatorHz(), cfg.GetPWMFrequencyHz()); err != nil {
		a.driver.Close()
		return nil, err
	}
	a.interp = command.New(a.bank, command.Options{
		Limits: command.Limits{
			MaxTokens:   cfg.GetMaxTokens(),
			MaxTokenLen: cfg.GetMaxTokenLen(),
		},
		StrictNumbers: cfg.GetStrictNumbers(),
	})

	if p := cfg.GetJournalPath(); p != "" {
		j, err := journal.Open(p, nil)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = j
	}

	if p := cfg.GetSerialPath(); p != "" {
		console, err := serialmux.NewSerialMuxWith(open, p, cfg.GetSerialOptions())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open serial console %s: %w", p, err)
		}
		log.Printf("serial console on %s (%s)", p, cfg.GetSerialOptions())
		a.console = console
	}

	if addr := cfg.GetUDPListen(); addr != "" {
		sock, err := transport.ListenUDP(addr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to listen on UDP %s: %w", addr, err)
		}
		a.udp = transport.NewDatagramAdapter(sock, cfg.GetUDPReadBuffer())
	}
	return a, nil
}

// observer returns the journal as a transport.Observer, or nil.
func (a *app) observer() transport.Observer {
	if a.journal == nil {
		return nil
	}
	return a.journal
}

// handler builds the HTTP routes: the accessor API at the root and debug
// pages under /debug/.
func (a *app) handler() (http.Handler, error) {
	mux := http.NewServeMux()
	if a.journal != nil {
		if err := a.journal.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	if a.console != nil {
		a.console.AttachAdminRoutes(mux, a.interp, a.observer())
	}

	var jr api.JournalReader
	if a.journal != nil {
		jr = a.journal
	}
	mux.Handle("/", api.NewServer(a.bank, jr).Handler())
	return mux, nil
}

// run serves every transport until ctx is done.
func (a *app) run(ctx context.Context, httpAddr string) error {
	h, err := a.handler()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	obs := a.observer()

	if a.console != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := transport.Serve(ctx, a.console, a.interp, obs); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("serial transport stopped: %v", err)
			}
			log.Print("serial routine terminated")
		}()

		// mirror channel changes onto the console tail
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, changes := a.bank.Subscribe()
			defer a.bank.Unsubscribe(id)
			for {
				select {
				case c := <-changes:
					a.console.Publish(fmt.Sprintf("= ch%d %d/%d", c.ID, c.OnTime, c.OffTime))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if a.udp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := transport.Serve(ctx, a.udp, a.interp, obs); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("udp transport stopped: %v", err)
			}
			log.Print("udp routine terminated")
		}()
	}

	if a.journal != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.journal.RunRetention(ctx, a.cfg.GetJournalPruneInterval(), a.cfg.GetJournalKeep())
		}()
	}

	if httpAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server := &http.Server{
				Addr:              httpAddr,
				Handler:           h,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("HTTP server failed: %v", err)
				}
			}()
			log.Printf("HTTP server listening on %s", httpAddr)

			<-ctx.Done()
			log.Println("shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
			log.Printf("HTTP server routine stopped")
		}()
	}

	<-ctx.Done()
	// unblock reads that do not honour ctx
	if a.console != nil {
		a.console.Close()
	}
	if a.udp != nil {
		a.udp.Close()
	}
	wg.Wait()
	return nil
}

// Close releases every resource. Channel outputs are left as they are.
func (a *app) Close() error {
	var errs []error
	if a.console != nil {
		errs = append(errs, a.console.Close())
	}
	if a.udp != nil {
		if err := a.udp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	errs = append(errs, a.driver.Close())
	return errors.Join(errs...)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logCloser := monitoring.SetupOutput(cfg.GetLog())
	defer logCloser.Close()
	log.Printf("servod %s starting (driver %s)", version.Current(), cfg.GetDriver())

	a, err := newApp(cfg, serialmux.OpenPort)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, cfg.GetHTTPListen()); err != nil {
		log.Printf("run: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
