package server

import (
	"context"
	"errors"

	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/protocol"
)

func (s *Server) listenQUIC() error {
	tlsConf, err := protocol.ServerTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return err
	}
	if s.config.TLSCertFile == "" {
		s.logger.Warn("QUIC is using a self-signed certificate")
	}
	ln, err := protocol.ListenQUIC(s.config.QUICAddr, tlsConf, s.config.Protocol)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.quic, s.cancel = ln, cancel

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		s.acceptQUIC(ctx, ln)
	}()
	s.logger.Info("QUIC listening", log.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) acceptQUIC(ctx context.Context, ln *protocol.QUICListener) {
	for {
		qc, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("QUIC accept failed", log.Error(err))
			}
			return
		}
		if s.full() {
			s.logger.Warn("Maximum clients reached, rejecting connection",
				log.String("remote_addr", qc.RemoteAddr().String()))
			ln.Refuse(qc, ErrMaxClientsReached.Error())
			continue
		}

		s.workerGroup.Add(1)
		go func() {
			defer s.workerGroup.Done()
			conn, err := ln.Open(ctx, qc)
			if err != nil {
				s.logger.Debug("QUIC client opened no stream", log.Error(err))
				return
			}
			s.attach(conn, qc.RemoteAddr().String(), "quic", false).run(ctx)
		}()
	}
}
