package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"portlink/domain/protocol"
	"portlink/infrastructure/client"
	"portlink/settings"
)

var rootCmd = &cobra.Command{
	Use:   "portlink-client",
	Short: "Client for the portlink packet server",
}

var connectCmd = &cobra.Command{
	Use:   "connect <host> <port>",
	Short: "Connect to a server and exchange chat lines",
	Args:  cobra.ExactArgs(2),
	RunE:  runConnect,
}

var flagKnownServers string

func init() {
	rootCmd.PersistentFlags().StringVar(&flagKnownServers, "known-servers", settings.DefaultKnownServersFile, "trusted server fingerprint file")
	rootCmd.AddCommand(connectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

var chatIdentifier = protocol.MustPacketIdentifier(101)

func runConnect(cmd *cobra.Command, args []string) error {
	host := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}

	cfg := settings.Default()
	cfg.KnownServersFile = flagKnownServers

	c, err := client.NewClient(cfg, nil)
	if err != nil {
		return err
	}

	c.OnPacket.Subscribe(func(p *protocol.Packet) {
		text, decodeErr := protocol.DecodeString(p.Payload())
		if decodeErr != nil {
			log.Warn().Err(decodeErr).Msg("undecodable packet")
			return
		}
		fmt.Printf("< %s\n", text)
	})

	done := make(chan struct{})
	c.OnDisconnected.Subscribe(func(reason string) {
		log.Info().Str("reason", reason).Msg("session ended")
		close(done)
	})

	if err := c.Connect(host, port); err != nil {
		return err
	}
	fmt.Println("connected; type lines to send, ctrl-d to quit")

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			payload, encodeErr := protocol.EncodeString(scanner.Text())
			if encodeErr != nil {
				log.Warn().Err(encodeErr).Msg("encode line")
				continue
			}
			if sendErr := c.Send(protocol.New(chatIdentifier, true, payload)); sendErr != nil {
				log.Warn().Err(sendErr).Msg("send failed")
				return
			}
		}
		_ = c.Disconnect("client exiting")
	}()

	<-done
	return nil
}
