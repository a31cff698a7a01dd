package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/uole/virga"
	"github.com/uole/virga/config"
	"github.com/uole/virga/internal/log"
	"github.com/uole/virga/version"
)

var (
	serviceFlag  = flag.Bool("service", false, "Print service template")
	versionFlag  = flag.Bool("version", false, "Print version")
	modeFlag     = flag.String("mode", "client", "Run as client or server")
	configFlag   = flag.String("config", "", "Path of the yaml config file")
	addrFlag     = flag.String("addr", "", "Server address, cid:port for vsock or host:port")
	protoFlag    = flag.String("proto", "", "Transport: vsock, tcp, kcp or quic")
	sizeFlag     = flag.Int("size", 512, "Payload size sent by the server")
	attemptsFlag = flag.Uint("attempts", 5, "Connect attempts of the client")
)

func printService() {
	fmt.Println(`
[Unit]
Description= Virga vsock bridge

[Service]
StartLimitInterval=5
StartLimitBurst=10
ExecStart=/usr/local/bin/virga -mode server
Restart=always
RestartSec=60

[Install]
WantedBy=multi-user.target
`)
}

func loadConfig() (cfg *config.Config, err error) {
	if *configFlag != "" {
		if cfg, err = config.Load(*configFlag); err != nil {
			return
		}
	} else {
		cfg = config.New()
		if *modeFlag == "server" {
			cfg.ServerAddress = "4294967295:1234"
		}
	}
	if *addrFlag != "" {
		cfg.ServerAddress = *addrFlag
	}
	if *protoFlag != "" {
		cfg.Proto = *protoFlag
	}
	if err = cfg.Validate(); err != nil {
		return
	}
	err = log.SetLevel(cfg.Log.Level)
	return
}

// runClient reads one length prefixed payload and acknowledges its size.
func runClient(ctx context.Context, cfg *config.Config) (err error) {
	client := virga.NewClient(cfg)
	if err = retry.Do(
		func() error {
			return client.ConnectContext(ctx)
		},
		retry.Attempts(*attemptsFlag),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("connect %s attempt %d failed: %s", cfg.ServerAddress, n+1, err.Error())
		}),
	); err != nil {
		return
	}
	log.Infof("client %s connected to %s", client.ID(), cfg.ServerAddress)
	head := make([]byte, 8)
	if _, err = io.ReadFull(client, head); err != nil {
		return
	}
	data := make([]byte, binary.BigEndian.Uint64(head))
	if _, err = io.ReadFull(client, data); err != nil {
		return
	}
	fmt.Printf("len data = %d\n", len(data))
	if _, err = client.Write(head); err != nil {
		return
	}
	// the server hangs up once it has the ack
	if _, err = client.Recv(); err != nil && !errors.Is(err, virga.ErrTransport) {
		return
	}
	return client.Disconnect()
}

func serve(srv *virga.Server, size int) (err error) {
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, uint64(size))
	if _, err = srv.Write(head); err != nil {
		return
	}
	if _, err = srv.Write(make([]byte, size)); err != nil {
		return
	}
	ack := make([]byte, 8)
	if _, err = io.ReadFull(srv, ack); err != nil {
		return
	}
	log.Infof("server %s acknowledged %d bytes", srv.ID(), binary.BigEndian.Uint64(ack))
	return srv.Disconnect()
}

func runServer(ctx context.Context, cfg *config.Config) (err error) {
	manager := virga.NewServerManager(cfg)
	if err = manager.Start(); err != nil {
		return
	}
	defer func() {
		if stopErr := manager.Stop(); stopErr != nil {
			log.Warnf("stop server error: %s", stopErr.Error())
		}
	}()
	for {
		srv, err := manager.AcceptContext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		log.Infof("there is a new server %s from %s", srv.ID(), srv.RemoteAddr())
		go func() {
			if err := serve(srv, *sizeFlag); err != nil {
				log.Warnf("serve %s error: %s", srv.ID(), err.Error())
			}
		}()
	}
}

func main() {
	var (
		err error
		cfg *config.Config
	)
	flag.Parse()
	if *serviceFlag {
		printService()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println(version.ProductName, version.Version)
		os.Exit(0)
	}
	if cfg, err = loadConfig(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	ctx, cancelFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()
	switch *modeFlag {
	case "server":
		err = runServer(ctx, cfg)
	default:
		err = runClient(ctx, cfg)
	}
	_ = log.Sync()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
