package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"portlink/application"
	"portlink/domain/protocol"
	"portlink/infrastructure/routing"
	"portlink/infrastructure/server"
	"portlink/settings"
)

var rootCmd = &cobra.Command{
	Use:   "portlink-server",
	Short: "Authenticated, encrypted packet server over TCP",
	RunE:  runServer,
}

var (
	flagHost     string
	flagPort     int
	flagIdentity string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagHost, "host", "localhost", "listen host")
	flags.IntVar(&flagPort, "port", settings.DefaultPort, "listen port")
	flags.StringVar(&flagIdentity, "identity", settings.DefaultIdentityFile, "server identity key file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

var chatIdentifier = protocol.MustPacketIdentifier(101)

func runServer(cmd *cobra.Command, args []string) error {
	cfg := settings.Default()
	cfg.Host = flagHost
	cfg.Port = flagPort
	cfg.IdentityFile = flagIdentity

	router := routing.NewRouter()
	router.Register(chatIdentifier, func(peer application.Peer, packet *protocol.Packet) error {
		text, err := protocol.DecodeString(packet.Payload())
		if err != nil {
			return err
		}
		log.Info().Str("client", peer.ID().String()).Str("text", text).Msg("chat")
		// Echo back, encrypted.
		reply, err := protocol.EncodeString(text)
		if err != nil {
			return err
		}
		return peer.Send(protocol.New(chatIdentifier, true, reply))
	})

	srv, err := server.NewServer(cfg, router)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	stop := make(chan struct{})

	// Interactive console: "shutdown" stops the server.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch scanner.Text() {
			case "shutdown", "stop", "exit":
				close(stop)
				return
			case "clients":
				fmt.Printf("%d connected\n", srv.ConnectionCount())
			default:
				fmt.Println("commands: shutdown, clients")
			}
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
	case sig := <-signals:
		log.Info().Stringer("signal", sig).Msg("signal received")
	}
	return srv.Stop()
}
