package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/yacall/internal/adapter/driven/endpoint/pion"
	"github.com/Wyydra/yacall/internal/adapter/driven/relay/wsrelay"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/logging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const usage = `usage:
  call [flags] start        create a call and print its id
  call [flags] join <id>    answer the call with the given id`

func main() {
	cfg, err := config.Load("call", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	// stdout carries the call id only.
	if err := logging.Setup(cfg.LogLevel, string(cfg.LogFormat), os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		if errors.Is(err, domain.ErrUsage) {
			fmt.Fprintln(os.Stderr, usage)
		}
		log.Error().Err(err).Msg("Call ended with error")
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if len(cfg.Args) == 0 {
		return errors.Wrap(domain.ErrUsage, "missing command")
	}
	cmd := cfg.Args[0]
	var id domain.CallID
	switch {
	case cmd == "start" && len(cfg.Args) == 1:
	case cmd == "join" && len(cfg.Args) == 2:
		id = domain.CallID(cfg.Args[1])
	default:
		return errors.Wrapf(domain.ErrUsage, "bad command %v", cfg.Args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := wsrelay.Dial(ctx, cfg.RelayURL)
	if err != nil {
		return domain.RelayError("connect", err)
	}
	defer relay.Close()

	endpoint, err := pion.NewEndpoint(nil, pion.Config{
		ICEServers:           cfg.ICEServers,
		ICECandidatePoolSize: cfg.ICECandidatePoolSize,
	})
	if err != nil {
		return domain.EndpointError("create endpoint", err)
	}
	endpoint.OnRemoteTrack(func(t domain.RemoteTrack) {
		log.Info().Str("kind", t.Kind).Str("codec", t.Codec).Str("track_id", t.ID).Msg("Remote track started")
	})

	calls := service.NewCallService(relay)

	var sess *service.CallSession
	if cmd == "start" {
		sess, err = calls.StartCall(ctx, endpoint)
	} else {
		sess, err = calls.JoinCall(ctx, id, endpoint)
	}
	if err != nil {
		endpoint.Close()
		return err
	}
	defer sess.Hangup()

	if cmd == "start" {
		fmt.Println(sess.ID())
	}

	awaitCtx, cancel := context.WithTimeout(ctx, cfg.NegotiationTimeout)
	defer cancel()
	if err := sess.AwaitNegotiated(awaitCtx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.Info().Str("call_id", sess.ID().String()).Msg("Call negotiated")

	select {
	case <-ctx.Done():
		log.Info().Msg("Hanging up")
		return nil
	case <-sess.Failed():
		return sess.Err()
	case <-relay.Done():
		return domain.RelayError("relay connection", relay.Err())
	}
}
