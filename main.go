package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/nilsignal/internal/signaling"
	"github.com/knadh/nilsignal/store"
	"github.com/knadh/nilsignal/store/fs"
	"github.com/knadh/nilsignal/store/mem"
	"github.com/knadh/nilsignal/store/redis"
	"github.com/knadh/stuffbin"
	flag "github.com/spf13/pflag"
)

var (
	logger = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	ko     = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// Config represents the app configuration.
type Config struct {
	Address         string        `koanf:"address"`
	ChannelTTL      time.Duration `koanf:"channel_ttl"`
	MaxBodySize     int64         `koanf:"max_body_size"`
	EnableWebsocket bool          `koanf:"enable_websocket"`
	WSTimeout       time.Duration `koanf:"websocket_timeout"`
	MaxWSQueue      int           `koanf:"max_websocket_queue"`
}

// App is the global app context that's passed around.
type App struct {
	cfg    *Config
	signal *signaling.Handler
	fs     stuffbin.FileSystem
	logger *log.Logger
}

// defaultConfig is loaded before the config files.
var defaultConfig = map[string]interface{}{
	"app.address":             "0.0.0.0:9000",
	"app.channel_ttl":         "300s",
	"app.max_body_size":       65536,
	"app.enable_websocket":    true,
	"app.websocket_timeout":   "10s",
	"app.max_websocket_queue": 100,

	"store.type":                    "redis",
	"store.redis.address":           "127.0.0.1:6379",
	"store.redis.active_conns":      100,
	"store.redis.idle_conns":        20,
	"store.redis.timeout":           "3s",
	"store.redis.prefix_channel":    "nilsignal:channel:%s",
	"store.redis.prefix_candidates": "nilsignal:candidates:%s",
	"store.memory.cleanup_interval": "1m",
	"store.fs.path":                 "nilsignal.json",
	"store.fs.cleanup_interval":     "1m",
	"store.fs.save_interval":        "5s",

	"tor.enabled":     false,
	"tor.private_key": "onion.pem",
}

func loadConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("new-config", false, "Generate a sample config.toml file and exit")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	ko.Load(confmap.Provider(defaultConfig, "."), nil)

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, f := range cFiles {
		log.Printf("reading config: %s", f)
		if err := ko.Load(file.Provider(f), toml.Parser()); err != nil {
			log.Printf("error reading config: %v", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("NILSIGNAL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "NILSIGNAL_")), "__", ".", -1)
	}), nil); err != nil {
		log.Printf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

// initFS initializes the stuffbin embedded static filesystem.
func initFS() stuffbin.FileSystem {
	// Get self executable path to initialise stuffed FS.
	exe, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}

	// Read stuffed data from self.
	sfs, err := stuffbin.UnStuff(exe)
	if err != nil {
		// Binary is unstuffed or is running in dev mode.
		if err == stuffbin.ErrNoID {
			sfs, err = stuffbin.NewLocalFS("./", "./config.sample.toml")
			if err != nil {
				log.Fatalf("error falling back to local filesystem: %v", err)
			}
		} else {
			log.Fatalf("error reading stuffed binary: %v", err)
		}
	}
	return sfs
}

// initStore initializes the channel store configured in store.type. The
// returned function releases the store's resources.
func initStore(k *koanf.Koanf, l *log.Logger) (store.Store, func() error, error) {
	switch typ := k.String("store.type"); typ {
	case "redis":
		var cfg redis.Config
		if err := k.Unmarshal("store.redis", &cfg); err != nil {
			return nil, nil, fmt.Errorf("error unmarshalling 'store.redis' config: %v", err)
		}
		s, err := redis.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "memory":
		var cfg mem.Config
		if err := k.Unmarshal("store.memory", &cfg); err != nil {
			return nil, nil, fmt.Errorf("error unmarshalling 'store.memory' config: %v", err)
		}
		s := mem.New(cfg)
		return s, func() error { s.Close(); return nil }, nil

	case "fs":
		var cfg fs.Config
		if err := k.Unmarshal("store.fs", &cfg); err != nil {
			return nil, nil, fmt.Errorf("error unmarshalling 'store.fs' config: %v", err)
		}
		s, err := fs.New(cfg, l)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store type '%s'", typ)
	}
}

// Catch OS interrupts and respond accordingly.
func catchInterrupts(srv *http.Server, closeStore func() error) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-c
		logger.Printf("shutting down: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("error shutting down server: %v", err)
		}
		if err := closeStore(); err != nil {
			logger.Printf("error closing store: %v", err)
		}
		os.Exit(0)
	}()
}

func main() {
	// Load configuration from files.
	loadConfig()

	// Initialize global app context.
	app := &App{
		logger: logger,
		fs:     initFS(),
	}

	// Generate a new config file.
	if ko.Bool("new-config") {
		if err := newConfigFile(app.fs, "config.toml"); err != nil {
			logger.Fatal(err)
		}
		logger.Println("generated config.toml. Edit and run the app.")
		os.Exit(0)
	}

	if err := ko.Unmarshal("app", &app.cfg); err != nil {
		logger.Fatalf("error unmarshalling 'app' config: %v", err)
	}
	if app.cfg.ChannelTTL < time.Second {
		logger.Fatal("app.channel_ttl should be >= 1s")
	}

	// Initialize store.
	st, closeStore, err := initStore(ko, logger)
	if err != nil {
		logger.Fatalf("error initializing store: %v", err)
	}
	app.signal = signaling.New(st, signaling.Opt{ChannelTTL: app.cfg.ChannelTTL}, logger)

	srv := &http.Server{
		Addr:    app.cfg.Address,
		Handler: initHTTPRoutes(app),
	}
	catchInterrupts(srv, closeStore)

	// Optionally expose the same routes as an onion service.
	if ko.Bool("tor.enabled") {
		pk, err := getOrCreatePK(ko.String("tor.private_key"))
		if err != nil {
			logger.Fatalf("error loading onion key: %v", err)
		}
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			logger.Fatalf("error creating onion listener: %v", err)
		}
		ts := &torServer{Handler: srv.Handler, PrivateKey: pk, log: logger}
		logger.Printf("starting onion service on http://%s.onion", onionAddr(pk))
		go func() {
			if err := ts.Serve(ln); err != nil {
				logger.Printf("error serving onion service: %v", err)
			}
		}()
	}

	logger.Printf("starting server on %v (store: %s)", app.cfg.Address, ko.String("store.type"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("couldn't start server: %v", err)
	}

	// Wait for the interrupt handler to finish shutting down.
	select {}
}
